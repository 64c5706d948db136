// Package model contains the domain types shared across ports and adapters.
package model

import (
	"strings"
	"time"
)

// User is a demo-scenario owner, identified by a normalized (lowercase) email.
// Users are created implicitly on first credential submission and never deleted.
type User struct {
	Email      string
	Name       string
	FirstSeen  time.Time
	LastActive time.Time
}

// NormalizeEmail lowercases and trims an email so that the same user always
// maps to the same row regardless of how the address was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
