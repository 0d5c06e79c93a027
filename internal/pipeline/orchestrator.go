package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sciforge/discoveryd/internal/cache"
	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/credentials"
	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/internal/research"
	"github.com/sciforge/discoveryd/internal/store"
	"github.com/sciforge/discoveryd/pkg/models"
)

// statusCacheTTL bounds staleness of the cached status; the database is
// always the source of truth.
const statusCacheTTL = 10 * time.Minute

// Collector finds papers for a topic.
type Collector interface {
	Search(ctx context.Context, topic string, limit int) ([]models.Paper, error)
}

// Analyzer extracts structured findings from one paper.
type Analyzer interface {
	Analyze(ctx context.Context, apiKey, topic string, paper models.Paper) (models.PaperAnalysis, error)
}

// Generator proposes hypotheses from research gaps.
type Generator interface {
	Generate(ctx context.Context, apiKey, topic string, gaps []models.ResearchGap, max int) ([]models.Hypothesis, error)
}

// Tester checks one hypothesis. Evidence lookup and judgment are separate
// because they authenticate against different services.
type Tester interface {
	LookupEvidence(ctx context.Context, apiKey string, hyp models.Hypothesis) ([]models.Material, error)
	Judge(ctx context.Context, apiKey string, hyp models.Hypothesis, evidence []models.Material) (models.TestOutcome, error)
}

// Result is the artifact written to disk when a session completes.
type Result struct {
	SessionID   uuid.UUID            `json:"session_id"`
	Topic       string               `json:"topic"`
	Iterations  int                  `json:"iterations"`
	Papers      []models.Paper       `json:"papers"`
	Hypotheses  []models.Hypothesis  `json:"hypotheses"`
	Outcomes    []models.TestOutcome `json:"outcomes"`
	Discoveries []models.Discovery   `json:"discoveries"`
	CompletedAt time.Time            `json:"completed_at"`
}

// Orchestrator drives a research session through its phases. Every
// external call goes through the guard; every phase transition is
// persisted before the next phase starts, so a crash leaves an accurate
// progress record.
type Orchestrator struct {
	store     store.Store
	cache     cache.Cache
	guard     *guard.Executor
	collector Collector
	analyzer  Analyzer
	generator Generator
	tester    Tester

	llmService string
	cfg        config.PipelineConfig
}

func NewOrchestrator(
	st store.Store,
	ca cache.Cache,
	ex *guard.Executor,
	collector Collector,
	analyzer Analyzer,
	generator Generator,
	tester Tester,
	llmService string,
	cfg config.PipelineConfig,
) *Orchestrator {
	return &Orchestrator{
		store:      st,
		cache:      ca,
		guard:      ex,
		collector:  collector,
		analyzer:   analyzer,
		generator:  generator,
		tester:     tester,
		llmService: llmService,
		cfg:        cfg,
	}
}

// Run executes the session end to end and always leaves it in a terminal
// status. Individual paper or hypothesis failures are logged and skipped;
// a phase fails the whole session only when it produces nothing usable.
func (o *Orchestrator) Run(ctx context.Context, sessionID uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline panicked", "session_id", sessionID, "panic", r)
			err = fmt.Errorf("pipeline panic: %v", r)
			o.fail(sessionID, err)
		}
	}()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	if err := o.setStatus(ctx, sessionID, models.SessionStatusRunning); err != nil {
		return fmt.Errorf("marking session running: %w", err)
	}
	o.progress(ctx, sessionID, PhaseStarting, "session started")

	result := Result{
		SessionID:  sessionID,
		Topic:      session.Topic,
		Iterations: session.Params.Iterations,
	}

	for iter := 1; iter <= session.Params.Iterations; iter++ {
		if err := o.runIteration(ctx, session, iter, &result); err != nil {
			o.fail(sessionID, err)
			return err
		}
	}

	o.progress(ctx, sessionID, PhaseEvaluatingResults, "evaluating results")
	if len(result.Discoveries) > 0 {
		o.progress(ctx, sessionID, PhaseDiscoveriesFound,
			fmt.Sprintf("%d discoveries found", len(result.Discoveries)))
	}

	result.CompletedAt = time.Now().UTC()
	location, err := o.saveResult(&result)
	if err != nil {
		o.fail(sessionID, fmt.Errorf("saving results: %w", err))
		return err
	}

	o.progress(ctx, sessionID, PhaseCompleted, "research complete")
	if err := o.setStatus(ctx, sessionID, models.SessionStatusCompleted, store.WithResultLocation(location)); err != nil {
		return fmt.Errorf("marking session completed: %w", err)
	}

	slog.Info("session completed",
		"session_id", sessionID,
		"papers", len(result.Papers),
		"hypotheses", len(result.Hypotheses),
		"discoveries", len(result.Discoveries),
	)
	return nil
}

func (o *Orchestrator) runIteration(ctx context.Context, session *models.Session, iter int, result *Result) error {
	id := session.ID
	topic := session.Topic

	// Collect.
	o.progress(ctx, id, PhaseCollectingPapers, fmt.Sprintf("iteration %d: collecting papers", iter))
	var papers []models.Paper
	err := o.guard.Execute(ctx, config.ServiceArxiv, func(ctx context.Context, cred *credentials.Credential) error {
		var err error
		papers, err = o.collector.Search(ctx, topic, session.Params.MaxPapers)
		return err
	})
	if err != nil {
		return fmt.Errorf("collecting papers: %w", err)
	}
	if len(papers) == 0 {
		return fmt.Errorf("no papers found for topic %q", topic)
	}
	result.Papers = append(result.Papers, papers...)
	o.progress(ctx, id, PhasePapersCollected, fmt.Sprintf("collected %d papers", len(papers)))

	// Analyze.
	o.progress(ctx, id, PhaseAnalyzingPapers, fmt.Sprintf("analyzing %d papers", len(papers)))
	analyses := o.analyzeAll(ctx, id, topic, papers)
	if len(analyses) == 0 {
		return fmt.Errorf("all %d paper analyses failed", len(papers))
	}
	o.progress(ctx, id, PhaseAnalysisComplete, fmt.Sprintf("analyzed %d of %d papers", len(analyses), len(papers)))

	// Generate.
	gaps := research.ExtractGaps(analyses)
	o.progress(ctx, id, PhaseGeneratingHypotheses, fmt.Sprintf("generating hypotheses from %d gaps", len(gaps)))
	var hypotheses []models.Hypothesis
	err = o.guard.Execute(ctx, o.llmService, func(ctx context.Context, cred *credentials.Credential) error {
		var err error
		hypotheses, err = o.generator.Generate(ctx, cred.Secret(), topic, gaps, session.Params.MaxHypotheses)
		return err
	})
	if err != nil {
		return fmt.Errorf("generating hypotheses: %w", err)
	}
	if len(hypotheses) == 0 {
		return errors.New("no hypotheses generated")
	}
	result.Hypotheses = append(result.Hypotheses, hypotheses...)
	o.progress(ctx, id, PhaseHypothesesGenerated, fmt.Sprintf("generated %d hypotheses", len(hypotheses)))

	// Test.
	o.progress(ctx, id, PhaseTestingHypotheses, fmt.Sprintf("testing %d hypotheses", len(hypotheses)))
	outcomes := o.testAll(ctx, id, hypotheses)
	result.Outcomes = append(result.Outcomes, outcomes...)
	o.progress(ctx, id, PhaseTestingComplete,
		fmt.Sprintf("tested %d of %d hypotheses", len(outcomes), len(hypotheses)))

	// Evaluate.
	found := research.Evaluate(outcomes, iter)
	before := len(result.Discoveries)
	result.Discoveries = research.MergeDiscoveries(result.Discoveries, found)
	o.appendLog(ctx, id, PhaseEvaluatingResults,
		fmt.Sprintf("iteration %d: %d new discoveries", iter, len(result.Discoveries)-before))
	return nil
}

// analyzeAll fans paper analysis out over a bounded worker pool. A failed
// analysis is logged against the session and skipped.
func (o *Orchestrator) analyzeAll(ctx context.Context, id uuid.UUID, topic string, papers []models.Paper) []models.PaperAnalysis {
	workers := o.cfg.AnalysisWorkers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		analyses []models.PaperAnalysis
		wg       sync.WaitGroup
		sem      = make(chan struct{}, workers)
	)
	for _, paper := range papers {
		wg.Add(1)
		sem <- struct{}{}
		go func(paper models.Paper) {
			defer wg.Done()
			defer func() { <-sem }()

			var analysis models.PaperAnalysis
			err := o.guard.Execute(ctx, o.llmService, func(ctx context.Context, cred *credentials.Credential) error {
				var err error
				analysis, err = o.analyzer.Analyze(ctx, cred.Secret(), topic, paper)
				return err
			})
			if err != nil {
				slog.Warn("paper analysis failed",
					"session_id", id,
					"arxiv_id", paper.ArxivID,
					"error", err,
				)
				o.appendLog(ctx, id, PhaseAnalyzingPapers,
					fmt.Sprintf("analysis failed for %s: %v", paper.ArxivID, err))
				return
			}

			mu.Lock()
			analyses = append(analyses, analysis)
			mu.Unlock()
		}(paper)
	}
	wg.Wait()
	return analyses
}

// testAll runs hypotheses sequentially: the materials lookup and the
// judgment each hold a credential from a different pool, and sequential
// testing keeps quota pressure predictable. A failed test is logged and
// skipped.
func (o *Orchestrator) testAll(ctx context.Context, id uuid.UUID, hypotheses []models.Hypothesis) []models.TestOutcome {
	var outcomes []models.TestOutcome
	for _, hyp := range hypotheses {
		var evidence []models.Material
		err := o.guard.Execute(ctx, config.ServiceMaterials, func(ctx context.Context, cred *credentials.Credential) error {
			var err error
			evidence, err = o.tester.LookupEvidence(ctx, cred.Secret(), hyp)
			return err
		})
		if err != nil {
			o.appendLog(ctx, id, PhaseTestingHypotheses,
				fmt.Sprintf("evidence lookup failed for %q: %v", hyp.Statement, err))
			continue
		}

		var outcome models.TestOutcome
		err = o.guard.Execute(ctx, o.llmService, func(ctx context.Context, cred *credentials.Credential) error {
			var err error
			outcome, err = o.tester.Judge(ctx, cred.Secret(), hyp, evidence)
			return err
		})
		if err != nil {
			o.appendLog(ctx, id, PhaseTestingHypotheses,
				fmt.Sprintf("judgment failed for %q: %v", hyp.Statement, err))
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (o *Orchestrator) saveResult(result *Result) (string, error) {
	if err := os.MkdirAll(o.cfg.ResultsDir, 0o755); err != nil {
		return "", err
	}
	location := filepath.Join(o.cfg.ResultsDir, fmt.Sprintf("session-%s.json", result.SessionID))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(location, data, 0o644); err != nil {
		return "", err
	}
	return location, nil
}

// progress advances the session to a phase floor. The store clamps
// progress so re-entering an earlier phase on a later iteration never
// moves the bar backwards.
func (o *Orchestrator) progress(ctx context.Context, id uuid.UUID, phase Phase, message string) {
	if err := o.store.UpdateSessionProgress(ctx, id, phase.Floor(), phase.String(), message); err != nil {
		slog.Error("progress update failed", "session_id", id, "phase", phase, "error", err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, id uuid.UUID, phase Phase, message string) {
	if err := o.store.AppendSessionLog(ctx, id, phase.String(), message); err != nil {
		slog.Error("session log append failed", "session_id", id, "error", err)
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.SessionUpdateOption) error {
	if err := o.store.SetSessionStatus(ctx, id, status, opts...); err != nil {
		return err
	}
	if err := o.cache.SetSessionStatus(ctx, id, status, statusCacheTTL); err != nil {
		slog.Warn("status cache update failed", "session_id", id, "error", err)
	}
	return nil
}

// fail marks the session failed with a diagnostic. Uses a fresh context
// so a canceled pipeline context cannot block the terminal write.
func (o *Orchestrator) fail(id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := cause.Error()
	if errors.Is(cause, credentials.ErrPoolExhausted) {
		msg = fmt.Sprintf("no usable credentials: %v", cause)
	}
	slog.Error("session failed", "session_id", id, "error", cause)
	if err := o.setStatus(ctx, id, models.SessionStatusFailed, store.WithErrorMessage(msg)); err != nil {
		slog.Error("failed to mark session failed", "session_id", id, "error", err)
	}
}
