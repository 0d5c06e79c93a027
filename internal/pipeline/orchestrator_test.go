package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/credentials"
	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/internal/store"
	"github.com/sciforge/discoveryd/pkg/models"
)

// memStore is an in-memory store.Store with the same session semantics as
// the Postgres implementation: monotonic progress, terminal-once status.
type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	logs     map[uuid.UUID][]*models.SessionLogEntry

	// progressHistory records every persisted progress value in order.
	progressHistory []int
	phaseHistory    []string
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[uuid.UUID]*models.Session),
		logs:     make(map[uuid.UUID][]*models.SessionLogEntry),
	}
}

func (m *memStore) Ping(_ context.Context) error { return nil }

func (m *memStore) CreateSession(_ context.Context, topic string, params models.SessionParams) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	s := &models.Session{
		ID:        id,
		Topic:     topic,
		Params:    params,
		Status:    models.SessionStatusPending,
		Phase:     "starting",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.sessions[id] = s
	copied := *s
	return &copied, nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memStore) ListSessions(_ context.Context) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memStore) UpdateSessionProgress(_ context.Context, id uuid.UUID, progress int, phase, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if models.IsTerminalStatus(s.Status) {
		return store.ErrInvalidState
	}
	if progress < s.Progress {
		progress = s.Progress
	}
	s.Progress = progress
	s.Phase = phase
	s.Message = message
	s.UpdatedAt = time.Now()
	m.progressHistory = append(m.progressHistory, progress)
	m.phaseHistory = append(m.phaseHistory, phase)
	m.appendLogLocked(id, phase, message)
	return nil
}

func (m *memStore) SetSessionStatus(_ context.Context, id uuid.UUID, status string, opts ...store.SessionUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if models.IsTerminalStatus(s.Status) {
		return store.ErrInvalidState
	}
	params := store.ApplySessionUpdateOptions(opts)
	if params.ErrorMessage != nil {
		s.ErrorMessage = params.ErrorMessage
	}
	if params.ResultLocation != nil {
		s.ResultLocation = params.ResultLocation
	}
	s.Status = status
	if models.IsTerminalStatus(status) {
		now := time.Now()
		s.CompletedAt = &now
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.logs, id)
	return nil
}

func (m *memStore) SessionLogs(_ context.Context, id uuid.UUID) ([]*models.SessionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]*models.SessionLogEntry(nil), m.logs[id]...), nil
}

func (m *memStore) AppendSessionLog(_ context.Context, id uuid.UUID, phase, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return store.ErrNotFound
	}
	m.appendLogLocked(id, phase, message)
	return nil
}

func (m *memStore) appendLogLocked(id uuid.UUID, phase, message string) {
	m.logs[id] = append(m.logs[id], &models.SessionLogEntry{
		ID:        int64(len(m.logs[id]) + 1),
		SessionID: id,
		Timestamp: time.Now(),
		Phase:     phase,
		Message:   message,
	})
}

func (m *memStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *memStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *memStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (m *memStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	statuses map[uuid.UUID]string
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), statuses: make(map[uuid.UUID]string)}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetSessionStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
	return nil
}

func (c *memCache) GetSessionStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	return s, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	return 1, nil
}

// Fake collaborators. Failures use non-retryable errors so the guard does
// not back off inside tests.

type fakeCollector struct {
	papers []models.Paper
	err    error
}

func (f *fakeCollector) Search(_ context.Context, _ string, limit int) ([]models.Paper, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.papers) > limit {
		return f.papers[:limit], nil
	}
	return f.papers, nil
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	failIDs map[string]bool
	calls   int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string, _ string, paper models.Paper) (models.PaperAnalysis, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failIDs[paper.ArxivID] {
		return models.PaperAnalysis{}, guard.NonRetryable(errors.New("model refused"))
	}
	return models.PaperAnalysis{
		Paper:          paper,
		Summary:        "summary of " + paper.Title,
		Gaps:           []string{"gap from " + paper.ArxivID},
		RelevanceScore: 7,
	}, nil
}

type fakeGenerator struct {
	hypotheses []models.Hypothesis
	err        error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ string, _ []models.ResearchGap, max int) ([]models.Hypothesis, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hypotheses) > max {
		return f.hypotheses[:max], nil
	}
	return f.hypotheses, nil
}

type fakeTester struct {
	verdict    string
	confidence float64
	judgeErr   error
	lookupErr  error
}

func (f *fakeTester) LookupEvidence(_ context.Context, _ string, hyp models.Hypothesis) ([]models.Material, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if hyp.Formula == "" {
		return nil, nil
	}
	return []models.Material{{MaterialID: "mp-1", Formula: hyp.Formula, IsStable: true}}, nil
}

func (f *fakeTester) Judge(_ context.Context, _ string, hyp models.Hypothesis, _ []models.Material) (models.TestOutcome, error) {
	if f.judgeErr != nil {
		return models.TestOutcome{}, f.judgeErr
	}
	return models.TestOutcome{
		Hypothesis: hyp,
		Verdict:    f.verdict,
		Confidence: f.confidence,
		Evidence:   "database agrees",
	}, nil
}

type testHarness struct {
	store     *memStore
	cache     *memCache
	collector *fakeCollector
	analyzer  *fakeAnalyzer
	generator *fakeGenerator
	tester    *fakeTester
	orch      *Orchestrator
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	reg := credentials.NewRegistry()
	for _, svc := range []string{config.ServiceGroq, config.ServiceMaterials} {
		pool, err := credentials.NewPool(svc, []string{svc + "-key-1", svc + "-key-2"}, time.Hour)
		require.NoError(t, err)
		reg.Add(pool)
	}
	reg.Add(credentials.NewAnonymousPool(config.ServiceArxiv, time.Hour))

	ex := guard.NewExecutor(reg, config.GuardConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		CallTimeout: time.Second,
	})

	h := &testHarness{
		store: newMemStore(),
		cache: newMemCache(),
		collector: &fakeCollector{papers: []models.Paper{
			{ArxivID: "2403.00001", Title: "Paper one"},
			{ArxivID: "2403.00002", Title: "Paper two"},
		}},
		analyzer: &fakeAnalyzer{},
		generator: &fakeGenerator{hypotheses: []models.Hypothesis{
			{Statement: "compound X is stable", Formula: "LiX"},
			{Statement: "compound Y conducts", Formula: ""},
		}},
		tester: &fakeTester{verdict: models.VerdictPass, confidence: 0.9},
	}
	h.orch = NewOrchestrator(
		h.store, h.cache, ex,
		h.collector, h.analyzer, h.generator, h.tester,
		config.ServiceGroq,
		config.PipelineConfig{
			MaxPapers:       20,
			MaxHypotheses:   10,
			AnalysisWorkers: 4,
			ResultsDir:      t.TempDir(),
		},
	)
	return h
}

func (h *testHarness) newSession(t *testing.T, iterations int) *models.Session {
	t.Helper()
	s, err := h.store.CreateSession(context.Background(), "solid-state electrolytes", models.SessionParams{
		MaxPapers:     20,
		MaxHypotheses: 10,
		Iterations:    iterations,
		Provider:      "groq",
	})
	require.NoError(t, err)
	return s
}

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 1)

	err := h.orch.Run(context.Background(), s.ID)
	require.NoError(t, err)

	got, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)

	// The result artifact exists and holds the discoveries.
	require.NotNil(t, got.ResultLocation)
	data, err := os.ReadFile(*got.ResultLocation)
	require.NoError(t, err)
	var result Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, s.ID, result.SessionID)
	assert.Len(t, result.Papers, 2)
	assert.Len(t, result.Discoveries, 2)

	// The cache mirrors the terminal status.
	status, ok, err := h.cache.GetSessionStatus(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.SessionStatusCompleted, status)
}

func TestRunProgressNeverDecreases(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 3)

	require.NoError(t, h.orch.Run(context.Background(), s.ID))

	require.NotEmpty(t, h.store.progressHistory)
	for i := 1; i < len(h.store.progressHistory); i++ {
		assert.GreaterOrEqual(t, h.store.progressHistory[i], h.store.progressHistory[i-1],
			"progress went backwards at step %d: %v", i, h.store.progressHistory)
	}
	assert.Equal(t, 100, h.store.progressHistory[len(h.store.progressHistory)-1])
}

func TestRunToleratesIndividualAnalysisFailures(t *testing.T) {
	h := newHarness(t)

	papers := make([]models.Paper, 20)
	for i := range papers {
		papers[i] = models.Paper{ArxivID: fmt.Sprintf("2403.%05d", i), Title: fmt.Sprintf("Paper %d", i)}
	}
	h.collector.papers = papers
	h.analyzer.failIDs = map[string]bool{"2403.00003": true, "2403.00007": true}

	s := h.newSession(t, 1)
	require.NoError(t, h.orch.Run(context.Background(), s.ID))

	got, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)

	// The two failures show up in the session log, not the status.
	logs, err := h.store.SessionLogs(context.Background(), s.ID)
	require.NoError(t, err)
	failures := 0
	for _, entry := range logs {
		if entry.Phase == PhaseAnalyzingPapers.String() && strings.Contains(entry.Message, "analysis failed") {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestRunFailsWhenNoPapersFound(t *testing.T) {
	h := newHarness(t)
	h.collector.papers = nil

	s := h.newSession(t, 1)
	err := h.orch.Run(context.Background(), s.ID)
	require.Error(t, err)

	got, err := h.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no papers found")
}

func TestRunFailsWhenAllAnalysesFail(t *testing.T) {
	h := newHarness(t)
	h.analyzer.failIDs = map[string]bool{"2403.00001": true, "2403.00002": true}

	s := h.newSession(t, 1)
	err := h.orch.Run(context.Background(), s.ID)
	require.Error(t, err)

	got, _ := h.store.GetSession(context.Background(), s.ID)
	assert.Equal(t, models.SessionStatusFailed, got.Status)
}

func TestRunFailureNamesExhaustedService(t *testing.T) {
	h := newHarness(t)

	// Hypothesis generation is rate limited on every attempt, so both
	// groq credentials sideline themselves and the pool runs dry.
	h.generator.err = guard.RateLimited(errors.New("quota exceeded"))

	s := h.newSession(t, 1)
	err := h.orch.Run(context.Background(), s.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, credentials.ErrPoolExhausted)

	got, _ := h.store.GetSession(context.Background(), s.ID)
	assert.Equal(t, models.SessionStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no usable credentials")
	assert.Contains(t, *got.ErrorMessage, config.ServiceGroq)
}

func TestRunToleratesHypothesisTestFailures(t *testing.T) {
	h := newHarness(t)
	h.tester.judgeErr = guard.NonRetryable(errors.New("model refused"))

	s := h.newSession(t, 1)
	require.NoError(t, h.orch.Run(context.Background(), s.ID))

	got, _ := h.store.GetSession(context.Background(), s.ID)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)

	data, err := os.ReadFile(*got.ResultLocation)
	require.NoError(t, err)
	var result Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Empty(t, result.Outcomes)
	assert.Empty(t, result.Discoveries)
}

func TestRunDeduplicatesDiscoveriesAcrossIterations(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 3)

	require.NoError(t, h.orch.Run(context.Background(), s.ID))

	got, _ := h.store.GetSession(context.Background(), s.ID)
	data, err := os.ReadFile(*got.ResultLocation)
	require.NoError(t, err)
	var result Result
	require.NoError(t, json.Unmarshal(data, &result))

	// Each iteration re-finds the same two hypotheses; the report keeps
	// one discovery per statement, attributed to its first sighting.
	assert.Len(t, result.Discoveries, 2)
	for _, d := range result.Discoveries {
		assert.Equal(t, 1, d.Iteration)
	}
}

func TestRunnerRefusesDoubleLaunch(t *testing.T) {
	h := newHarness(t)

	// Hold the pipeline open so the second launch overlaps the first.
	release := make(chan struct{})
	h.orch.collector = &blockingCollector{release: release}

	runner := NewRunner(h.orch, context.Background())
	s := h.newSession(t, 1)

	require.NoError(t, runner.Launch(s.ID))
	assert.Eventually(t, func() bool { return runner.Active(s.ID) }, time.Second, time.Millisecond)
	assert.ErrorIs(t, runner.Launch(s.ID), ErrAlreadyRunning)

	close(release)
	runner.Wait()
	assert.False(t, runner.Active(s.ID))

	// Once the first run finished the session is terminal; a relaunch is
	// accepted by the runner but bounces off the terminal status, leaving
	// the completed record untouched.
	require.NoError(t, runner.Launch(s.ID))
	runner.Wait()
	got, _ := h.store.GetSession(context.Background(), s.ID)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	assert.Nil(t, got.ErrorMessage)
}

type blockingCollector struct {
	release chan struct{}
}

func (b *blockingCollector) Search(ctx context.Context, _ string, _ int) ([]models.Paper, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []models.Paper{{ArxivID: "2403.00001", Title: "Paper one"}}, nil
}
