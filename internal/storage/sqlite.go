package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/bdougie/lktrack/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStorage keeps runs in a local SQLite database
type SQLiteStorage struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// NewSQLiteStorage opens (or creates) the database at path and migrates it
// to the latest schema.
func NewSQLiteStorage(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrateUp() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}

	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (s *SQLiteStorage) BeginRun(ctx context.Context, run models.Run) error {
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, video_name, height, width, fps, frame_count, grid_rows, grid_cols, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.VideoName, run.Height, run.Width, run.FPS, run.FrameCount,
		run.GridRows, run.GridCols, string(settings), run.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create run entry: %w", err)
	}
	s.runID = run.ID
	return nil
}

// AddResult stores a point and its trajectory in one transaction.
func (s *SQLiteStorage) AddResult(ctx context.Context, result models.TrackResult) error {
	if s.runID == "" {
		return ErrNoRun
	}
	if len(result.Rows) != len(result.Cols) {
		return fmt.Errorf("point %d has %d row and %d column samples", result.Index, len(result.Rows), len(result.Cols))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO points (run_id, point_index, pixel_row, pixel_col, status) VALUES (?, ?, ?, ?, ?)`,
		s.runID, result.Index, result.Point.Row, result.Point.Col, string(result.Status)); err != nil {
		return fmt.Errorf("failed to store point %d: %w", result.Index, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO displacements (run_id, point_index, frame, drow, dcol) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare displacement insert: %w", err)
	}
	defer stmt.Close()

	for f := range result.Rows {
		if _, err := stmt.ExecContext(ctx, s.runID, result.Index, f, result.Rows[f], result.Cols[f]); err != nil {
			return fmt.Errorf("failed to store point %d frame %d: %w", result.Index, f, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op as results are committed immediately
func (s *SQLiteStorage) Flush() error { return nil }

func (s *SQLiteStorage) Close() error { return s.db.Close() }

// LoadRun reads back a run and all of its trajectories ordered by point.
func (s *SQLiteStorage) LoadRun(ctx context.Context, runID string) (models.Run, []models.TrackResult, error) {
	var (
		run       models.Run
		settings  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, video_name, height, width, fps, frame_count, grid_rows, grid_cols, settings, created_at
		FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &run.VideoName, &run.Height, &run.Width, &run.FPS, &run.FrameCount,
			&run.GridRows, &run.GridCols, &settings, &createdAt)
	if err != nil {
		return run, nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
		return run, nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return run, nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT point_index, pixel_row, pixel_col, status FROM points WHERE run_id = ? ORDER BY point_index`, runID)
	if err != nil {
		return run, nil, fmt.Errorf("failed to load points: %w", err)
	}
	var results []models.TrackResult
	index := make(map[int]int)
	for rows.Next() {
		var r models.TrackResult
		var status string
		if err := rows.Scan(&r.Index, &r.Point.Row, &r.Point.Col, &status); err != nil {
			rows.Close()
			return run, nil, fmt.Errorf("failed to scan point: %w", err)
		}
		r.Status = models.PointStatus(status)
		index[r.Index] = len(results)
		results = append(results, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return run, nil, err
	}

	drows, err := s.db.QueryContext(ctx,
		`SELECT point_index, drow, dcol FROM displacements WHERE run_id = ? ORDER BY point_index, frame`, runID)
	if err != nil {
		return run, nil, fmt.Errorf("failed to load displacements: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var p int
		var dr, dc float64
		if err := drows.Scan(&p, &dr, &dc); err != nil {
			return run, nil, fmt.Errorf("failed to scan displacement: %w", err)
		}
		i, ok := index[p]
		if !ok {
			continue
		}
		results[i].Rows = append(results[i].Rows, dr)
		results[i].Cols = append(results[i].Cols, dc)
	}
	return run, results, drows.Err()
}
