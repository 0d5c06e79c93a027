// Package llm picks the configured language-model vendor.
package llm

import (
	"fmt"

	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/llm/gemini"
	"github.com/sciforge/discoveryd/internal/llm/groq"
	"github.com/sciforge/discoveryd/pkg/models"
)

// New constructs the configured LLM client. Called once at server startup.
func New(cfg config.LLMConfig) (models.LLMClient, error) {
	switch cfg.Provider {
	case "groq":
		return groq.NewClient(cfg.Groq), nil
	case "gemini":
		return gemini.NewClient(cfg.Gemini), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: must be one of groq, gemini", cfg.Provider)
	}
}
