package driven

import (
	"context"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// SourceHostClient defines the driven port for the source-forge (Platform A):
// repository creation from templates, file content operations, collaborator
// invitations, and repository deletion. All methods return *PlatformError on
// API failure.
type SourceHostClient interface {
	// GetRepo returns the repository ref for owner/name, or (nil, nil) when
	// it does not exist. The existence check before creation and the adopted
	// ref both come from here.
	GetRepo(ctx context.Context, owner, name string) (*model.RepoRef, error)

	// CreateFromTemplate generates a new repository from a template repository.
	CreateFromTemplate(ctx context.Context, templateOwner, templateRepo, owner, name string) (*model.RepoRef, error)

	// GetFile fetches a file with its content revision. Returns a
	// KindNotFound PlatformError if the path does not exist.
	GetFile(ctx context.Context, owner, repo, path string) (*model.RepoFile, error)

	// PutFile creates or updates a file. revision must be the current
	// content revision for updates and empty for creation.
	PutFile(ctx context.Context, owner, repo, path, content, revision string) error

	// DeleteFile removes a file at the given content revision.
	DeleteFile(ctx context.Context, owner, repo, path, revision string) error

	// IsCollaborator reports whether the user already has access to the repository.
	IsCollaborator(ctx context.Context, owner, repo, username string) (bool, error)

	// InviteCollaborator invites the user with the given role. Returns true
	// when a new invitation was issued, false when access already existed.
	InviteCollaborator(ctx context.Context, owner, repo, username, role string) (bool, error)

	// DeleteRepo removes the repository identified by its "owner/name" full name.
	DeleteRepo(ctx context.Context, fullName string) error
}

// SourceHostFactory builds a SourceHostClient authenticated with a specific
// user token. Clients are per-credential because every pipeline invocation
// and every cleanup attempt acts on behalf of a different user.
type SourceHostFactory func(token string) SourceHostClient
