package model

// Platform identifies which external system a credential or resource belongs to.
type Platform string

const (
	// PlatformSourceForge is the source-hosting platform (repositories, files, collaborators).
	PlatformSourceForge Platform = "source-forge"
	// PlatformCI is the CI/resource platform (components, environments, applications, flags).
	PlatformCI Platform = "ci-platform"
)

// SessionStatus is the lifecycle state of a resource session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusDeleted SessionStatus = "deleted"
)

// ResourceStatus is the reclamation state machine of a tracked resource:
// active -> delete_pending -> {deleted | failed}. A failed resource is
// flipped back through delete_pending on the next scheduler pass.
type ResourceStatus string

const (
	ResourceStatusActive        ResourceStatus = "active"
	ResourceStatusDeletePending ResourceStatus = "delete_pending"
	ResourceStatusDeleted       ResourceStatus = "deleted"
	ResourceStatusFailed        ResourceStatus = "failed"
)

// ResourceKind identifies the external object type a Resource tracks.
type ResourceKind string

const (
	ResourceKindRepository  ResourceKind = "repository"
	ResourceKindComponent   ResourceKind = "component"
	ResourceKindEnvironment ResourceKind = "environment"
	ResourceKindApplication ResourceKind = "application"
	ResourceKindFlag        ResourceKind = "flag"
)
