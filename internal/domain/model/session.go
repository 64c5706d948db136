package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is a user-scoped, time-bounded group of resources created by one
// scenario execution. ExpiresAt == nil means the session never expires.
// Parameters holds the resolved scenario inputs, opaque to the ledger.
type Session struct {
	ID         string
	Email      string
	ScenarioID string
	Status     SessionStatus
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	Parameters map[string]string
}

// NewSession builds an active session with a generated id.
func NewSession(email, scenarioID string, expiresAt *time.Time, params map[string]string) Session {
	return Session{
		ID:         uuid.NewString(),
		Email:      NormalizeEmail(email),
		ScenarioID: scenarioID,
		Status:     SessionStatusActive,
		ExpiresAt:  expiresAt,
		Parameters: params,
	}
}
