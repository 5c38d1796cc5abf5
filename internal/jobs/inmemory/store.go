package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/budget-tracker/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores runs in memory and is safe for concurrent use.
// Data is lost on service restart; the BigQuery ledger keeps the history.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*jobs.Run
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]*jobs.Run),
	}
}

func copyRun(run *jobs.Run) *jobs.Run {
	c := *run
	if run.Result != nil {
		res := *run.Result
		c.Result = &res
	}
	return &c
}

// SaveRun implements the JobStore interface.
func (s *Store) SaveRun(ctx context.Context, run *jobs.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external modifications
	s.runs[run.RunID] = copyRun(run)

	return nil
}

// GetRun implements the JobStore interface.
func (s *Store) GetRun(ctx context.Context, runID string) (*jobs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", jobs.ErrRunNotFound, runID)
	}

	return copyRun(run), nil
}

// ListRuns implements the JobStore interface. Runs are returned newest
// first.
func (s *Store) ListRuns(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.Run{}

	for _, run := range s.runs {
		if filter.Job != "" && run.Job != filter.Job {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, copyRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].RunID < result[j].RunID
	})

	// Apply limit and offset
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Run{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
