package model

// RepoRef identifies a repository on the source-forge after creation or adoption.
type RepoRef struct {
	Name     string
	FullName string // "owner/name"
	URL      string
}

// RepoFile is a single file fetched from a source-forge repository. Revision
// is the platform's content revision (blob SHA) required for update/delete.
type RepoFile struct {
	Path     string
	Content  string
	Revision string
}
