package driven

import (
	"context"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// CredentialVault defines the driven port for encrypted credential storage
// with ordered fallback. The adapter owns encryption; this interface operates
// on plaintext secrets at the domain boundary.
type CredentialVault interface {
	// Store records a new credential for the user on the given platform,
	// creating the user row on first submission. Rows are append-only; the
	// newest row becomes the preferred credential and older active rows
	// remain as fallback.
	Store(ctx context.Context, email, name string, platform model.Platform, secret string) error

	// MostRecent returns the newest active credential, decrypted.
	// Returns ErrNoCredential when none is stored, ErrNoUsableCredential
	// when rows exist but none decrypts.
	MostRecent(ctx context.Context, email string, platform model.Platform) (model.Credential, error)

	// AllActive returns every active credential, newest first, decrypted.
	// A row that fails to decrypt is excluded from the result and
	// asynchronously marked inactive so it cannot block fallback again.
	// Returns ErrNoCredential / ErrNoUsableCredential as for MostRecent.
	AllActive(ctx context.Context, email string, platform model.Platform) ([]model.Credential, error)

	// MarkInactive soft-deletes a credential row (rotation audit log: rows
	// are never physically removed).
	MarkInactive(ctx context.Context, id int64) error

	// TouchLastUsed records a successful use of the credential.
	TouchLastUsed(ctx context.Context, id int64) error
}
