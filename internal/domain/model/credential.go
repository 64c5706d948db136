package model

import "time"

// Credential is one stored access token for a (user, platform) pair.
// Rows are append-only: storing a new token inserts a new row, and older rows
// remain as fallback until they fail to decrypt or authenticate, at which
// point they are marked inactive (soft delete, never purged).
//
// Secret holds the decrypted plaintext at the domain boundary; the storage
// adapter owns encryption.
type Credential struct {
	ID        int64
	Email     string
	Platform  Platform
	Secret    string
	CreatedAt time.Time
	LastUsed  time.Time
	IsActive  bool
}
