package checkpoint

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/seekwell/apply-cli/internal/model"
)

// ErrNotFound is returned when a checkpoint identity has no stored record.
var ErrNotFound = eris.New("checkpoint: not found")

// Store is the durable key-value persistence for checkpoints. Write-once:
// saving an existing identity is an error. Listing by run identity is
// required for latest-checkpoint lookup.
type Store interface {
	Save(ctx context.Context, cp *model.Checkpoint) error
	Get(ctx context.Context, id string) (*model.Checkpoint, error)
	ListByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error)
	Close() error
}
