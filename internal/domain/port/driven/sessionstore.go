package driven

import (
	"context"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// SessionStore defines the driven port for resource-session persistence.
// Sessions are created at pipeline start and mutated only to flip status to
// deleted once every owned resource has reached a terminal state.
type SessionStore interface {
	// Create persists a new active session.
	Create(ctx context.Context, session model.Session) error

	// Get returns a session by id. Returns ErrSessionNotFound if absent.
	Get(ctx context.Context, id string) (*model.Session, error)

	// ListByUser returns all sessions owned by the user, newest first.
	ListByUser(ctx context.Context, email string) ([]model.Session, error)

	// FinalizeDeleted marks every active session that has no remaining
	// active or delete_pending resources as deleted, returning the count.
	FinalizeDeleted(ctx context.Context) (int64, error)
}
