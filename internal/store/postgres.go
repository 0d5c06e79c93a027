package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sciforge/discoveryd/pkg/models"
)

const sessionColumns = `id, topic, status, progress, current_phase, message,
	max_papers, max_hypotheses, iterations, provider,
	error_message, result_location, created_at, updated_at, completed_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Sessions ---

// CreateSession inserts a new pending session and returns the stored row.
// IDs are UUIDv7, so session ids sort by creation time.
func (s *PostgresStore) CreateSession(ctx context.Context, topic string, params models.SessionParams) (*models.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, topic, status, max_papers, max_hypotheses, iterations, provider)
		 VALUES ($1, $2, 'pending', $3, $4, $5, $6)
		 RETURNING `+sessionColumns,
		id, topic, params.MaxPapers, params.MaxHypotheses, params.Iterations, params.Provider)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionProgress moves a running session forward and appends a log
// entry, atomically. Stored progress never decreases: an update below the
// stored value is clamped to it rather than rejected, so a retried phase
// can safely re-report its floor. Returns ErrNotFound for an unknown
// session and ErrInvalidState once the session is terminal.
func (s *PostgresStore) UpdateSessionProgress(ctx context.Context, id uuid.UUID, progress int, phase, message string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin progress update: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var stored int
	err = tx.QueryRow(ctx,
		`SELECT status, progress FROM sessions WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session row: %w", err)
	}
	if models.IsTerminalStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidState, status)
	}

	if progress < stored {
		progress = stored
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET progress = $2, current_phase = $3, message = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, progress, phase, message); err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO session_logs (session_id, phase, message) VALUES ($1, $2, $3)`,
		id, phase, message); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}

	return tx.Commit(ctx)
}

// SetSessionStatus transitions a session's status. Completed and failed are
// terminal: the guard clause makes setting one a no-op once any terminal
// status is in place, so a terminal state is set exactly once.
func (s *PostgresStore) SetSessionStatus(ctx context.Context, id uuid.UUID, status string, opts ...SessionUpdateOption) error {
	p := ApplySessionUpdateOptions(opts)

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET
		   status = $2,
		   error_message = COALESCE($3, error_message),
		   result_location = COALESCE($4, result_location),
		   completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
		   updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, status, p.ErrorMessage, p.ResultLocation)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check session exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

// DeleteSession removes a session and, via cascade, its log entries.
func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SessionLogs(ctx context.Context, id uuid.UUID) ([]*models.SessionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, timestamp, phase, message
		 FROM session_logs WHERE session_id = $1 ORDER BY timestamp ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get session logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.SessionLogEntry
	for rows.Next() {
		var e models.SessionLogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Timestamp, &e.Phase, &e.Message); err != nil {
			return nil, fmt.Errorf("scan session log: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AppendSessionLog records an event (an item failure, usually) without
// touching the session row.
func (s *PostgresStore) AppendSessionLog(ctx context.Context, id uuid.UUID, phase, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_logs (session_id, phase, message) VALUES ($1, $2, $3)`,
		id, phase, message)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- scanning helpers ---

func scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.ID, &sess.Topic, &sess.Status, &sess.Progress, &sess.Phase, &sess.Message,
		&sess.Params.MaxPapers, &sess.Params.MaxHypotheses, &sess.Params.Iterations, &sess.Params.Provider,
		&sess.ErrorMessage, &sess.ResultLocation, &sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
