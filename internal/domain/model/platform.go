package model

// Organization is the ci-platform tenant that owns created resources. Its id
// is recorded in resource metadata because deletion calls require it.
type Organization struct {
	ID   string
	Name string
}

// CIRepository is one entry of the ci-platform's repository listing. Only the
// URL is relevant: the convergence poller compares it (normalized) against
// repositories created on the source-forge.
type CIRepository struct {
	URL string
}

// Component is a deployable unit on the ci-platform, backed by a repository.
type Component struct {
	ID      string
	Name    string
	RepoURL string
}

// Environment is a deployment target on the ci-platform.
type Environment struct {
	ID         string
	Name       string
	Production bool
}

// Application links components to environments on the ci-platform.
type Application struct {
	ID   string
	Name string
}

// Flag is a feature flag on the ci-platform, addressed by its key.
type Flag struct {
	Key  string
	Name string
}
