package model

// Scenario is a resolved scenario definition: template parsing and variable
// substitution happen upstream, so every field here is already concrete.
// Validation tags are enforced at pipeline entry, before any external call.
type Scenario struct {
	ID           string            `json:"id" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	ExpiresIn    int               `json:"expires_in_days" validate:"gte=0"` // 0 = use configured default
	NeverExpires bool              `json:"never_expires"`
	Repositories []RepositorySpec  `json:"repositories" validate:"required,min=1,dive"`
	Environments []EnvironmentSpec `json:"environments" validate:"dive"`
	Applications []ApplicationSpec `json:"applications" validate:"dive"`
	Flags        []FlagSpec        `json:"flags" validate:"dive"`
	Parameters   map[string]string `json:"parameters"`
}

// RepositorySpec describes one repository to create from a template on the
// source-forge, plus post-creation file edits and collaborator invitations.
type RepositorySpec struct {
	Name            string            `json:"name" validate:"required"`
	TemplateOwner   string            `json:"template_owner" validate:"required"`
	TemplateRepo    string            `json:"template_repo" validate:"required"`
	CreateComponent bool              `json:"create_component"`
	Replacements    []FileReplacement `json:"replacements" validate:"dive"`
	Moves           []FileMove        `json:"moves" validate:"dive"`
	Collaborators   []Collaborator    `json:"collaborators" validate:"dive"`
}

// FileReplacement replaces the full content of a file inside a created
// repository. Applied on both fresh creation and adoption; a no-op when the
// existing content already matches.
type FileReplacement struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// FileMove copies a file to a new path and removes the original. Skipped when
// the source path does not exist (conditional move).
type FileMove struct {
	FromPath string `json:"from_path" validate:"required"`
	ToPath   string `json:"to_path" validate:"required"`
}

// Collaborator is a source-forge user invited onto a created repository.
type Collaborator struct {
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=read triage write maintain admin"`
}

// EnvironmentSpec describes one deployment environment on the ci-platform.
type EnvironmentSpec struct {
	Name       string            `json:"name" validate:"required"`
	Production bool              `json:"production"`
	Secrets    map[string]string `json:"secrets"`
	TokenName  string            `json:"token_name"`
}

// ApplicationSpec links components and environments into a deployable
// application on the ci-platform.
type ApplicationSpec struct {
	Name         string   `json:"name" validate:"required"`
	Components   []string `json:"components" validate:"min=1"`
	Environments []string `json:"environments" validate:"min=1"`
}

// FlagSpec describes a feature flag: defined early (pure data), configured
// per environment after applications exist. Shared flags are never deleted
// during cleanup.
type FlagSpec struct {
	Key          string `json:"key" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Shared       bool   `json:"shared"`
	InitialState bool   `json:"initial_state"`
}
