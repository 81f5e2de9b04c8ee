// Package checkpoint persists pipeline progress so an interrupted run can resume.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/procurement-extractor/internal/config"
	"github.com/spherical/procurement-extractor/internal/domain"
)

// ErrNotFound is returned by Load when no checkpoint has been written.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a snapshot of a run. Processed holds the source keys of
// fully handled PDFs, Failed those that could not be opened and were
// already counted as errors. CompletedDistricts lists the districts
// already counted.
type Checkpoint struct {
	RunID              uuid.UUID                `json:"run_id"`
	UpdatedAt          time.Time                `json:"updated_at"`
	Stats              domain.RunStatistics     `json:"stats"`
	Records            []domain.SoftwareRecord  `json:"records"`
	Processed          []string                 `json:"processed"`
	Failed             []string                 `json:"failed,omitempty"`
	CompletedDistricts []string                 `json:"completed_districts"`
	Summaries          []domain.DistrictSummary `json:"summaries"`
}

// ProcessedSet returns Processed as a set.
func (c *Checkpoint) ProcessedSet() map[string]bool {
	set := make(map[string]bool, len(c.Processed))
	for _, k := range c.Processed {
		set[k] = true
	}
	return set
}

// SortedKeys returns the keys of a set in order, for stable snapshots.
func SortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Store loads and saves checkpoints.
type Store interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
	}
}
