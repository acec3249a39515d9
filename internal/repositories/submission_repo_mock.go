package repositories

import (
	"context"
	"fmt"
	"sync"
)

// MockSubmissionRepository is an in-memory implementation of SubmissionRepository.
type MockSubmissionRepository struct {
	records map[string][]any
	mu      sync.RWMutex
}

// NewMockSubmissionRepository creates a new instance of MockSubmissionRepository.
func NewMockSubmissionRepository() *MockSubmissionRepository {
	return &MockSubmissionRepository{
		records: make(map[string][]any),
	}
}

// Insert appends record to the named collection.
func (r *MockSubmissionRepository) Insert(ctx context.Context, collection string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if collection == "" {
		return fmt.Errorf("failed to insert record: %w", ErrUnknownCollection)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[collection] = append(r.records[collection], record)
	return nil
}

// Records returns a copy of everything inserted into collection.
func (r *MockSubmissionRepository) Records(collection string) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]any, len(r.records[collection]))
	copy(out, r.records[collection])
	return out
}
