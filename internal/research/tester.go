package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/internal/materials"
	"github.com/sciforge/discoveryd/pkg/models"
)

const judgeSystem = `You are a materials science research assistant. ` +
	`Respond with a single JSON object and nothing else.`

const judgePrompt = `Hypothesis: %s
Rationale: %s

Database evidence:
%s

Does the evidence support the hypothesis? Respond with JSON:
{"verdict": "PASS" | "FAIL" | "INCONCLUSIVE",
 "confidence": <0.0-1.0>,
 "evidence": "<one sentence citing the decisive data>"}`

// Tester checks hypotheses against the materials database and asks the
// LLM for a verdict. Evidence lookup and judgment are separate methods
// because they authenticate against different services.
type Tester struct {
	materials materials.Client
	llm       models.LLMClient
}

func NewTester(mc materials.Client, llm models.LLMClient) *Tester {
	return &Tester{materials: mc, llm: llm}
}

// LookupEvidence fetches database entries matching the hypothesis formula.
// Hypotheses without a formula get no evidence, which is not an error; the
// verdict for those rests on the model alone.
func (t *Tester) LookupEvidence(ctx context.Context, apiKey string, hyp models.Hypothesis) ([]models.Material, error) {
	if strings.TrimSpace(hyp.Formula) == "" {
		return nil, nil
	}
	return t.materials.SearchFormula(ctx, apiKey, hyp.Formula)
}

type verdictReply struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// Judge asks the LLM whether the evidence supports the hypothesis.
func (t *Tester) Judge(ctx context.Context, apiKey string, hyp models.Hypothesis, evidence []models.Material) (models.TestOutcome, error) {
	raw, err := t.llm.Complete(ctx, apiKey, models.CompletionRequest{
		System:      judgeSystem,
		Prompt:      fmt.Sprintf(judgePrompt, hyp.Statement, hyp.Rationale, formatEvidence(evidence)),
		MaxTokens:   400,
		Temperature: 0.2,
	})
	if err != nil {
		return models.TestOutcome{}, err
	}

	var reply verdictReply
	if err := parseJSONBlock(raw, &reply); err != nil {
		return models.TestOutcome{}, guard.Transient(fmt.Errorf("parsing verdict: %w", err))
	}

	verdict := strings.ToUpper(strings.TrimSpace(reply.Verdict))
	switch verdict {
	case models.VerdictPass, models.VerdictFail:
	default:
		verdict = models.VerdictInconclusive
	}

	return models.TestOutcome{
		Hypothesis: hyp,
		Verdict:    verdict,
		Confidence: clamp(reply.Confidence, 0, 1),
		Evidence:   reply.Evidence,
	}, nil
}

func formatEvidence(evidence []models.Material) string {
	if len(evidence) == 0 {
		return "No matching entries found in the database."
	}

	var b strings.Builder
	for _, m := range evidence {
		fmt.Fprintf(&b, "- %s (%s): band gap %.3f eV, formation energy %.3f eV/atom, energy above hull %.3f eV/atom, stable=%t\n",
			m.Formula, m.MaterialID, m.BandGap, m.FormationEnergyPerAtom, m.EnergyAboveHull, m.IsStable)
	}
	return b.String()
}
