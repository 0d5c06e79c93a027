package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sciforge/discoveryd/internal/store"
	"github.com/sciforge/discoveryd/pkg/models"
)

type mockStore struct {
	keys    []*models.APIKey
	keysErr error
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.keysErr
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *mockStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (m *mockStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }
func (m *mockStore) CreateSession(_ context.Context, _ string, _ models.SessionParams) (*models.Session, error) {
	return nil, nil
}
func (m *mockStore) GetSession(_ context.Context, _ uuid.UUID) (*models.Session, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListSessions(_ context.Context) ([]*models.Session, error) { return nil, nil }
func (m *mockStore) UpdateSessionProgress(_ context.Context, _ uuid.UUID, _ int, _, _ string) error {
	return nil
}
func (m *mockStore) SetSessionStatus(_ context.Context, _ uuid.UUID, _ string, _ ...store.SessionUpdateOption) error {
	return nil
}
func (m *mockStore) DeleteSession(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) SessionLogs(_ context.Context, _ uuid.UUID) ([]*models.SessionLogEntry, error) {
	return nil, nil
}
func (m *mockStore) AppendSessionLog(_ context.Context, _ uuid.UUID, _, _ string) error { return nil }

var _ store.Store = (*mockStore)(nil)

type mockCache struct {
	count   int64
	incrErr error
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) SetSessionStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (c *mockCache) GetSessionStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.count++
	return c.count, c.incrErr
}

func testKey(t *testing.T, rawKey string, scopes ...string) *models.APIKey {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      "test",
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:KeyPrefixLen],
		Scopes:    scopes,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	const rawKey = "sf_0123456789abcdef"

	t.Run("valid key passes", func(t *testing.T) {
		auth := NewAuth(&mockStore{keys: []*models.APIKey{testKey(t, rawKey, "read")}})

		var gotScopes []string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotScopes = getScopes(r)
			prefix, ok := getKeyPrefix(r)
			assert.True(t, ok)
			assert.Equal(t, rawKey[:KeyPrefixLen], prefix)
		})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+rawKey)
		w := httptest.NewRecorder()
		auth.Authenticate(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"read"}, gotScopes)
	})

	t.Run("missing header", func(t *testing.T) {
		auth := NewAuth(&mockStore{})

		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()
		auth.Authenticate(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		auth := NewAuth(&mockStore{keys: []*models.APIKey{testKey(t, rawKey, "read")}})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer sf_0123456789999999")
		w := httptest.NewRecorder()
		auth.Authenticate(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("key too short", func(t *testing.T) {
		auth := NewAuth(&mockStore{})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		w := httptest.NewRecorder()
		auth.Authenticate(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("store error", func(t *testing.T) {
		auth := NewAuth(&mockStore{keysErr: errors.New("db down")})

		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+rawKey)
		w := httptest.NewRecorder()
		auth.Authenticate(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRequireScope(t *testing.T) {
	auth := NewAuth(&mockStore{})

	t.Run("scope present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(SetScopes(req.Context(), []string{"read", "admin"}))
		w := httptest.NewRecorder()
		auth.RequireScope("admin")(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("scope missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(SetScopes(req.Context(), []string{"read"}))
		w := httptest.NewRecorder()
		auth.RequireScope("admin")(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("allows under the limit and sets headers", func(t *testing.T) {
		rl := NewRateLimit(&mockCache{}, 2)

		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(SetKeyPrefix(req.Context(), "sf_01234"))
		w := httptest.NewRecorder()
		rl.Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("rejects over the limit", func(t *testing.T) {
		rl := NewRateLimit(&mockCache{count: 2}, 2)

		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(SetKeyPrefix(req.Context(), "sf_01234"))
		w := httptest.NewRecorder()
		rl.Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
	})

	t.Run("fails open on cache error", func(t *testing.T) {
		rl := NewRateLimit(&mockCache{incrErr: errors.New("redis down")}, 2)

		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(SetKeyPrefix(req.Context(), "sf_01234"))
		w := httptest.NewRecorder()
		rl.Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("passes through without auth context", func(t *testing.T) {
		rl := NewRateLimit(&mockCache{}, 2)

		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()
		rl.Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	Recovery(panicking).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
