package driven

import (
	"context"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// ResourceStore defines the driven port for tracked-resource persistence and
// the two-stage cleanup's bulk transitions.
type ResourceStore interface {
	// Register persists a newly created (or adopted) resource with status active.
	Register(ctx context.Context, resource model.Resource) error

	// ListBySession returns all resources owned by a session, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]model.Resource, error)

	// MarkExpired flips active resources in expired sessions to
	// delete_pending in a single statement, and requeues failed resources
	// for another attempt. Returns the number of rows transitioned.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)

	// ListDeletePending returns every delete_pending resource joined with
	// its owner's email.
	ListDeletePending(ctx context.Context) ([]model.PendingResource, error)

	// SetStatus transitions a resource to the given status. Returns
	// ErrResourceNotFound if the id is unknown.
	SetStatus(ctx context.Context, id string, status model.ResourceStatus) error
}
