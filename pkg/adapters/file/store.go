package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// Store implements ports.RunnerStore using the local filesystem.
// It stores one JSON file per runner in a configured directory.
//
// Writes are atomic but not conditional: Store offers no compare-and-swap, so a fleet
// sharing a directory needs a distributed locker to make listening claims atomic.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".asyncworker/runners".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".asyncworker", "runners")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(runnerID string) string {
	return filepath.Join(s.BasePath, runnerID+".json")
}

func validID(runnerID string) error {
	if runnerID == "" {
		return errors.New("runner id cannot be empty")
	}
	if strings.ContainsAny(runnerID, `/\`) || runnerID == "." || runnerID == ".." {
		return fmt.Errorf("invalid runner id %q", runnerID)
	}
	return nil
}

// Get reads the runner record, or returns a fresh idle one if the file does not exist.
func (s *Store) Get(ctx context.Context, runnerID string) (*domain.Runner, error) {
	if err := validID(runnerID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(runnerID))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewRunner(runnerID), nil
		}
		return nil, fmt.Errorf("failed to read runner file: %w", err)
	}

	var r domain.Runner
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runner %s: %w", runnerID, err)
	}
	return &r, nil
}

// Update persists the runner record to a JSON file atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Update(ctx context.Context, r *domain.Runner) error {
	if err := validID(r.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, r.ID)
	if err != nil {
		return err
	}

	next := r.Clone()
	next.Revision = current.Revision + 1
	next.UpdatedAt = time.Now()

	if err := s.writeFile(next); err != nil {
		return err
	}

	r.Revision = next.Revision
	r.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *Store) writeFile(r *domain.Runner) error {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure runner directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal runner: %w", err)
	}

	// Same directory as the destination, so that rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+r.ID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	destPath := s.path(r.ID)
	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing runner file for overwrite: %w", err)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to runner file: %w", err)
	}
	return nil
}

// List returns every runner record, sorted by id.
func (s *Store) List(ctx context.Context) ([]*domain.Runner, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*domain.Runner{}, nil
		}
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)

	runners := make([]*domain.Runner, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}
