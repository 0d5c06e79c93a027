package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sciforge/discoveryd/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrInvalidState means a write targeted a session already in a
	// terminal status. This is a caller bug and propagates unchanged.
	ErrInvalidState = errors.New("session is in a terminal state")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateSession(ctx context.Context, topic string, params models.SessionParams) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	UpdateSessionProgress(ctx context.Context, id uuid.UUID, progress int, phase, message string) error
	SetSessionStatus(ctx context.Context, id uuid.UUID, status string, opts ...SessionUpdateOption) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	SessionLogs(ctx context.Context, id uuid.UUID) ([]*models.SessionLogEntry, error)
	AppendSessionLog(ctx context.Context, id uuid.UUID, phase, message string) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// SessionUpdate carries the optional fields of a status change. Exported
// so alternative Store implementations can apply the same options.
type SessionUpdate struct {
	ErrorMessage   *string
	ResultLocation *string
}

type SessionUpdateOption func(*SessionUpdate)

func WithErrorMessage(msg string) SessionUpdateOption {
	return func(p *SessionUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithResultLocation(loc string) SessionUpdateOption {
	return func(p *SessionUpdate) {
		p.ResultLocation = &loc
	}
}

// ApplySessionUpdateOptions folds options into a SessionUpdate.
func ApplySessionUpdateOptions(opts []SessionUpdateOption) SessionUpdate {
	var u SessionUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}
