package model

import (
	"time"

	"github.com/google/uuid"
)

// Resource is a single external object tracked for later cleanup. ExternalRef
// is the platform-native handle needed to delete it (a full repository name,
// a component id, a flag key). Metadata carries kind-specific fields such as
// the parent organization id; the cleanup layer validates its completeness
// when it decodes the deletion variant for the kind.
type Resource struct {
	ID          string
	SessionID   string
	Kind        ResourceKind
	Platform    Platform
	ExternalRef string
	Name        string
	Status      ResourceStatus
	CreatedAt   time.Time
	Metadata    map[string]string
}

// NewResource builds an active resource with a generated id.
func NewResource(sessionID string, kind ResourceKind, platform Platform, externalRef, name string, metadata map[string]string) Resource {
	return Resource{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Kind:        kind,
		Platform:    platform,
		ExternalRef: externalRef,
		Name:        name,
		Status:      ResourceStatusActive,
		Metadata:    metadata,
	}
}

// PendingResource is a delete_pending resource joined with its owner's email,
// as returned by the ledger for the cleanup scheduler's Process stage.
type PendingResource struct {
	Resource
	OwnerEmail string
}
