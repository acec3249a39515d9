package repositories

import (
	"context"
	"errors"
)

// ErrUnknownCollection is returned when a record is inserted into a collection
// the repository was not set up for.
var ErrUnknownCollection = errors.New("unknown collection")

// SubmissionRepository defines the persistence collaborator. It only inserts;
// records are never read back, updated or deleted by the pipeline.
type SubmissionRepository interface {
	Insert(ctx context.Context, collection string, record any) error
}
