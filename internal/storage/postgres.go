package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/lktrack/internal/models"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

// PostgresConfigFromEnv fills unset fields from the libpq PG* variables.
func PostgresConfigFromEnv(config PostgresConfig) PostgresConfig {
	fill := func(dst *string, key, def string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
		*dst = def
	}
	fill(&config.Host, "PGHOST", "localhost")
	fill(&config.Port, "PGPORT", "5432")
	fill(&config.User, "PGUSER", "postgres")
	fill(&config.Password, "PGPASSWORD", "")
	fill(&config.DBName, "PGDATABASE", "lktrack")
	return config
}

// ConnString builds a postgres:// URL
func (c PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.DBName,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// PostgresStorage manages interaction with PostgreSQL
type PostgresStorage struct {
	pool  *pgxpool.Pool
	runID string
}

// NewPostgresStorage creates a new PostgreSQL storage connection. The schema
// must already exist, see InitSchema.
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStorage) BeginRun(ctx context.Context, run models.Run) error {
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs
		(id, video_name, height, width, fps, frame_count, grid_rows, grid_cols, settings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.VideoName, run.Height, run.Width, run.FPS, run.FrameCount,
		run.GridRows, run.GridCols, string(settings), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run entry: %w", err)
	}
	s.runID = run.ID
	return nil
}

// AddResult stores a point and its per-frame displacement vectors
func (s *PostgresStorage) AddResult(ctx context.Context, result models.TrackResult) error {
	if s.runID == "" {
		return ErrNoRun
	}
	if len(result.Rows) != len(result.Cols) {
		return fmt.Errorf("point %d has %d row and %d column samples", result.Index, len(result.Rows), len(result.Cols))
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO points (run_id, point_index, pixel_row, pixel_col, status) VALUES ($1, $2, $3, $4, $5)`,
		s.runID, result.Index, result.Point.Row, result.Point.Col, string(result.Status))
	for f := range result.Rows {
		dr, dc := result.Rows[f], result.Cols[f]
		batch.Queue(
			`INSERT INTO displacements (run_id, point_index, frame, drow, dcol, vec)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			s.runID, result.Index, f, dr, dc,
			pgvector.NewVector([]float32{float32(dr), float32(dc)}))
	}

	br := s.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to store point %d: %w", result.Index, err)
		}
	}
	return br.Close()
}

// Flush implements the Storage interface - no-op for Postgres as we save immediately
func (s *PostgresStorage) Flush() error {
	return nil
}

// SearchSimilarPoints ranks the points of the current run by how close their
// displacement at frame is to (drow, dcol).
func (s *PostgresStorage) SearchSimilarPoints(ctx context.Context, frame int, drow, dcol float64, limit int) ([]models.SimilarPoint, error) {
	if s.runID == "" {
		return nil, ErrNoRun
	}
	query := pgvector.NewVector([]float32{float32(drow), float32(dcol)})

	rows, err := s.pool.Query(ctx,
		`SELECT p.point_index, p.pixel_row, p.pixel_col, d.drow, d.dcol, d.vec <-> $1 AS distance
        FROM displacements d
        JOIN points p ON p.run_id = d.run_id AND p.point_index = d.point_index
        WHERE d.run_id = $2 AND d.frame = $3
        ORDER BY d.vec <-> $1
        LIMIT $4`,
		query, s.runID, frame, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar points: %w", err)
	}
	defer rows.Close()

	var results []models.SimilarPoint
	for rows.Next() {
		var r models.SimilarPoint
		if err := rows.Scan(&r.Index, &r.Point.Row, &r.Point.Col, &r.DRow, &r.DCol, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, connString string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            video_name VARCHAR(255) NOT NULL,
            height INTEGER NOT NULL,
            width INTEGER NOT NULL,
            fps DOUBLE PRECISION NOT NULL,
            frame_count INTEGER NOT NULL,
            grid_rows INTEGER NOT NULL,
            grid_cols INTEGER NOT NULL,
            settings JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS points (
            run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
            point_index INTEGER NOT NULL,
            pixel_row INTEGER NOT NULL,
            pixel_col INTEGER NOT NULL,
            status VARCHAR(32) NOT NULL,
            PRIMARY KEY (run_id, point_index)
        );

        CREATE TABLE IF NOT EXISTS displacements (
            run_id TEXT NOT NULL,
            point_index INTEGER NOT NULL,
            frame INTEGER NOT NULL,
            drow DOUBLE PRECISION NOT NULL,
            dcol DOUBLE PRECISION NOT NULL,
            vec vector(2) NOT NULL,
            PRIMARY KEY (run_id, point_index, frame),
            FOREIGN KEY (run_id, point_index) REFERENCES points(run_id, point_index) ON DELETE CASCADE
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_displacements_frame ON displacements(run_id, frame);
        CREATE INDEX IF NOT EXISTS idx_displacements_vec ON displacements USING ivfflat (vec vector_l2_ops) WITH (lists = 100);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
