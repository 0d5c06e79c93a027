// Package research implements the collaborators the pipeline drives: paper
// analysis, hypothesis generation and hypothesis testing. Each method takes
// its API key as an argument because keys rotate between calls.
package research

import (
	"context"
	"fmt"

	"github.com/sciforge/discoveryd/internal/guard"
	"github.com/sciforge/discoveryd/pkg/models"
)

const analyzeSystem = `You are a materials science research assistant. ` +
	`Respond with a single JSON object and nothing else.`

const analyzePrompt = `Analyze this paper in the context of the research topic %q.

Title: %s
Abstract: %s

Respond with JSON:
{"summary": "<two sentence summary>",
 "gaps": ["<open question or limitation>", ...],
 "relevance_score": <0-10 relevance to the topic>}`

// Analyzer extracts structured findings from papers using the LLM.
type Analyzer struct {
	llm models.LLMClient
}

func NewAnalyzer(llm models.LLMClient) *Analyzer {
	return &Analyzer{llm: llm}
}

type analysisReply struct {
	Summary        string   `json:"summary"`
	Gaps           []string `json:"gaps"`
	RelevanceScore float64  `json:"relevance_score"`
}

// Analyze reads one paper and returns its summary, open gaps and a
// relevance score clamped to [0, 10].
func (a *Analyzer) Analyze(ctx context.Context, apiKey, topic string, paper models.Paper) (models.PaperAnalysis, error) {
	raw, err := a.llm.Complete(ctx, apiKey, models.CompletionRequest{
		System:      analyzeSystem,
		Prompt:      fmt.Sprintf(analyzePrompt, topic, paper.Title, paper.Abstract),
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		return models.PaperAnalysis{}, err
	}

	var reply analysisReply
	if err := parseJSONBlock(raw, &reply); err != nil {
		// A garbled completion usually parses fine on a retry.
		return models.PaperAnalysis{}, guard.Transient(fmt.Errorf("parsing analysis for %q: %w", paper.ArxivID, err))
	}

	return models.PaperAnalysis{
		Paper:          paper,
		Summary:        reply.Summary,
		Gaps:           reply.Gaps,
		RelevanceScore: clamp(reply.RelevanceScore, 0, 10),
	}, nil
}
