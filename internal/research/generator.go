package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/pkg/models"
)

const generateSystem = `You are a materials science research assistant. ` +
	`Respond with a single JSON array and nothing else.`

const generatePrompt = `Research topic: %q

These gaps were identified in the recent literature:
%s

Propose up to %d testable hypotheses addressing these gaps. Where a
hypothesis concerns a specific compound, include its chemical formula.

Respond with a JSON array:
[{"statement": "<the hypothesis>",
  "gap": "<the gap it addresses>",
  "formula": "<chemical formula or empty>",
  "rationale": "<one sentence>",
  "priority": <0-10>}]`

// maxGapsPerPrompt bounds the prompt size; gaps arrive best-first so the
// tail is the least relevant.
const maxGapsPerPrompt = 15

// Generator turns research gaps into testable hypotheses using the LLM.
type Generator struct {
	llm models.LLMClient
}

func NewGenerator(llm models.LLMClient) *Generator {
	return &Generator{llm: llm}
}

// Generate proposes at most max hypotheses for the given gaps, ordered by
// the model's own priority score.
func (g *Generator) Generate(ctx context.Context, apiKey, topic string, gaps []models.ResearchGap, max int) ([]models.Hypothesis, error) {
	if len(gaps) > maxGapsPerPrompt {
		gaps = gaps[:maxGapsPerPrompt]
	}

	var b strings.Builder
	for i, gap := range gaps {
		fmt.Fprintf(&b, "%d. %s (from: %s)\n", i+1, gap.Description, gap.Source)
	}

	raw, err := g.llm.Complete(ctx, apiKey, models.CompletionRequest{
		System:      generateSystem,
		Prompt:      fmt.Sprintf(generatePrompt, topic, b.String(), max),
		MaxTokens:   1500,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}

	var hypotheses []models.Hypothesis
	if err := parseJSONBlock(raw, &hypotheses); err != nil {
		return nil, guard.Transient(fmt.Errorf("parsing hypotheses: %w", err))
	}

	for i := range hypotheses {
		hypotheses[i].Priority = clamp(hypotheses[i].Priority, 0, 10)
	}
	if len(hypotheses) > max {
		hypotheses = hypotheses[:max]
	}
	return hypotheses, nil
}
