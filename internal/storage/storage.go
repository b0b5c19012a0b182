package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/lktrack/internal/models"
)

const batchSize = 10 // Number of results to batch write

// ResultsFile is the JSON file name written under <output>/<video>/.
const ResultsFile = "displacements.json"

var ErrNoRun = errors.New("no run started")

// Storage defines the interface for persisting tracking runs
type Storage interface {
	// BeginRun records run metadata; results added afterwards belong to it
	BeginRun(ctx context.Context, run models.Run) error

	// AddResult adds a single point trajectory
	AddResult(ctx context.Context, result models.TrackResult) error

	// Flush ensures all pending results are saved
	Flush() error

	Close() error
}

// Document is the on-disk layout of the JSON store
type Document struct {
	Run    models.Run           `json:"run"`
	Points []models.TrackResult `json:"points"`
}

// jsonStorage batches results and appends them to a JSON document
type jsonStorage struct {
	mu        sync.Mutex
	results   []models.TrackResult // pending batch
	written   []models.TrackResult // already on disk for run
	run       *models.Run
	outputDir string
	videoName string
}

// NewJSONStorage creates a JSON file store rooted at outputDir/videoName.
func NewJSONStorage(outputDir, videoName string) *jsonStorage {
	return &jsonStorage{
		results:   []models.TrackResult{},
		outputDir: outputDir,
		videoName: videoName,
	}
}

// Path returns the results file location.
func (s *jsonStorage) Path() string {
	return filepath.Join(s.outputDir, s.videoName, ResultsFile)
}

func (s *jsonStorage) BeginRun(ctx context.Context, run models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = &run
	s.results = nil
	s.written = []models.TrackResult{}

	// A new run replaces whatever an earlier run left behind.
	return writeDocument(s.Path(), Document{Run: run, Points: []models.TrackResult{}})
}

// AddResult adds a result to the batch and flushes if the batch is full
func (s *jsonStorage) AddResult(ctx context.Context, result models.TrackResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ErrNoRun
	}
	s.results = append(s.results, result)

	// Write to disk when batch is full
	if len(s.results) >= batchSize {
		if err := s.flush(); err != nil {
			return fmt.Errorf("failed to flush results: %w", err)
		}
	}
	return nil
}

// Flush writes all pending results to disk
func (s *jsonStorage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *jsonStorage) Close() error {
	return s.Flush()
}

// Internal flush implementation
func (s *jsonStorage) flush() error {
	if len(s.results) == 0 || s.run == nil {
		return nil
	}

	points := append(s.written, s.results...)
	if err := writeDocument(s.Path(), Document{Run: *s.run, Points: points}); err != nil {
		return err
	}
	s.written = points
	s.results = nil // Clear the batch
	return nil
}

// LoadJSON reads a results document written by the JSON store.
func LoadJSON(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("failed to read results file: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to unmarshal existing results: %w", err)
	}
	return doc, nil
}

func writeDocument(path string, doc Document) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for results: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return file.Close()
}

// nopStorage discards everything
type nopStorage struct{}

// NewNopStorage returns a Storage that keeps nothing.
func NewNopStorage() Storage { return nopStorage{} }

func (nopStorage) BeginRun(context.Context, models.Run) error          { return nil }
func (nopStorage) AddResult(context.Context, models.TrackResult) error { return nil }
func (nopStorage) Flush() error                                        { return nil }
func (nopStorage) Close() error                                        { return nil }
