// Package models contains shared data models used across the discoveryd codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SessionStatusPending   = "pending"
	SessionStatusRunning   = "running"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// IsTerminalStatus reports whether a session status is final.
// Terminal statuses are set exactly once and never change afterwards.
func IsTerminalStatus(status string) bool {
	return status == SessionStatusCompleted || status == SessionStatusFailed
}

// SessionParams are the operator-supplied knobs for one research run.
type SessionParams struct {
	MaxPapers     int    `db:"max_papers"     json:"max_papers"`
	MaxHypotheses int    `db:"max_hypotheses" json:"max_hypotheses"`
	Iterations    int    `db:"iterations"     json:"iterations"`
	Provider      string `db:"provider"       json:"provider"`
}

// Session tracks one end-to-end research run from creation to a terminal
// status. The API returns the session id on POST /api/v1/sessions; clients
// poll GET /api/v1/sessions/{id} until status is completed or failed.
// IDs are UUIDv7 so listing by id is also time-ordered.
type Session struct {
	ID             uuid.UUID     `db:"id"              json:"id"`
	Topic          string        `db:"topic"           json:"topic"`
	Params         SessionParams `json:"params"`
	Status         string        `db:"status"          json:"status"`
	Progress       int           `db:"progress"        json:"progress"`
	Phase          string        `db:"current_phase"   json:"phase"`
	Message        string        `db:"message"         json:"message"`
	ErrorMessage   *string       `db:"error_message"   json:"error_message,omitempty"`
	ResultLocation *string       `db:"result_location" json:"result_location,omitempty"`
	CreatedAt      time.Time     `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"      json:"updated_at"`
	CompletedAt    *time.Time    `db:"completed_at"    json:"completed_at,omitempty"`
}

// SessionLogEntry is one append-only progress record for a session.
type SessionLogEntry struct {
	ID        int64     `db:"id"         json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	Timestamp time.Time `db:"timestamp"  json:"timestamp"`
	Phase     string    `db:"phase"      json:"phase"`
	Message   string    `db:"message"    json:"message"`
}
