package driven

import (
	"context"

	"github.com/demoforge/demoforge/internal/domain/model"
)

// CIPlatformClient defines the driven port for the CI/resource platform
// (Platform B): components, environments, applications, feature flags, and
// the repository listing used by convergence polling. All methods return
// *PlatformError on API failure.
type CIPlatformClient interface {
	// GetOrganization resolves the tenant that owns created resources.
	GetOrganization(ctx context.Context) (*model.Organization, error)

	// ListRepositories returns the repositories the platform currently
	// observes. Repository creation on the source-forge propagates here
	// asynchronously; the convergence poller consumes this listing.
	ListRepositories(ctx context.Context) ([]model.CIRepository, error)

	ListComponents(ctx context.Context) ([]model.Component, error)
	CreateComponent(ctx context.Context, name, repoURL string) (*model.Component, error)
	DeleteComponent(ctx context.Context, orgID, componentID string) error

	ListEnvironments(ctx context.Context) ([]model.Environment, error)
	CreateEnvironment(ctx context.Context, name string, production bool) (*model.Environment, error)
	DeleteEnvironment(ctx context.Context, orgID, environmentID string) error

	// CreateEnvironmentSecret injects a named secret into an environment.
	CreateEnvironmentSecret(ctx context.Context, environmentID, name, value string) error
	// CreateEnvironmentToken mints a named access token scoped to an environment.
	CreateEnvironmentToken(ctx context.Context, environmentID, name string) error

	ListApplications(ctx context.Context) ([]model.Application, error)
	CreateApplication(ctx context.Context, name string, componentIDs, environmentIDs []string) (*model.Application, error)
	DeleteApplication(ctx context.Context, orgID, applicationID string) error

	ListFlags(ctx context.Context) ([]model.Flag, error)
	CreateFlag(ctx context.Context, key, name string) (*model.Flag, error)
	DeleteFlag(ctx context.Context, orgID, flagKey string) error

	// SetFlagState configures a flag's state in one environment for one
	// application. Runs last in the pipeline because it needs application ids.
	SetFlagState(ctx context.Context, flagKey, environmentID, applicationID string, enabled bool) error
}

// CIPlatformFactory builds a CIPlatformClient authenticated with a specific
// user token.
type CIPlatformFactory func(token string) CIPlatformClient
