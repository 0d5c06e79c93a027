package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service names used as credential pool keys throughout the system.
const (
	ServiceGroq      = "groq"
	ServiceGemini    = "gemini"
	ServiceMaterials = "materials_project"
	ServiceArxiv     = "arxiv"
)

// Config holds all configuration for the discoveryd server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Credentials CredentialsConfig
	Guard       GuardConfig
	LLM         LLMConfig
	Arxiv       ArxivConfig
	Materials   MaterialsConfig
	Pipeline    PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// CredentialsConfig maps each external service to its ordered API key list.
// arXiv needs no key; its pool runs on a single anonymous credential.
type CredentialsConfig struct {
	GroqKeys      []string
	GeminiKeys    []string
	MaterialsKeys []string
	Cooldown      time.Duration
}

// Keys returns the configured secrets for a service, in insertion order.
func (c CredentialsConfig) Keys(service string) []string {
	switch service {
	case ServiceGroq:
		return c.GroqKeys
	case ServiceGemini:
		return c.GeminiKeys
	case ServiceMaterials:
		return c.MaterialsKeys
	default:
		return nil
	}
}

type GuardConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	CallTimeout time.Duration
}

type LLMConfig struct {
	Provider string
	Groq     GroqConfig
	Gemini   GeminiConfig
}

type GroqConfig struct {
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	BaseURL string
	Model   string
}

type ArxivConfig struct {
	BaseURL string
}

type MaterialsConfig struct {
	BaseURL string
}

type PipelineConfig struct {
	MaxPapers       int
	MaxHypotheses   int
	Iterations      int
	AnalysisWorkers int
	ResultsDir      string
}

var validProviders = map[string]bool{
	"groq":   true,
	"gemini": true,
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is applied first if present.
// Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DISCOVERYD_PORT", 8080),
			Env:  envString("DISCOVERYD_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Credentials: CredentialsConfig{
			GroqKeys:      envKeyList("GROQ_API_KEY"),
			GeminiKeys:    envKeyList("GEMINI_API_KEY"),
			MaterialsKeys: envKeyList("MP_API_KEY"),
			Cooldown:      envDuration("CREDENTIAL_COOLDOWN", 60*time.Minute),
		},
		Guard: GuardConfig{
			MaxAttempts: envInt("GUARD_MAX_ATTEMPTS", 3),
			BaseBackoff: envDuration("GUARD_BASE_BACKOFF", 2*time.Second),
			CallTimeout: envDuration("GUARD_CALL_TIMEOUT", 45*time.Second),
		},
		LLM: LLMConfig{
			Provider: envString("LLM_PROVIDER", "groq"),
			Groq: GroqConfig{
				BaseURL: envString("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
				Model:   envString("GROQ_MODEL", "llama-3.1-8b-instant"),
			},
			Gemini: GeminiConfig{
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
				Model:   envString("GEMINI_MODEL", "gemini-1.5-flash"),
			},
		},
		Arxiv: ArxivConfig{
			BaseURL: envString("ARXIV_BASE_URL", "https://export.arxiv.org/api"),
		},
		Materials: MaterialsConfig{
			BaseURL: envString("MP_BASE_URL", "https://api.materialsproject.org"),
		},
		Pipeline: PipelineConfig{
			MaxPapers:       envInt("PIPELINE_MAX_PAPERS", 20),
			MaxHypotheses:   envInt("PIPELINE_MAX_HYPOTHESES", 10),
			Iterations:      envInt("PIPELINE_ITERATIONS", 1),
			AnalysisWorkers: envInt("PIPELINE_ANALYSIS_WORKERS", 4),
			ResultsDir:      envString("PIPELINE_RESULTS_DIR", "data/results"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("LLM_PROVIDER must be one of groq, gemini; got %q", c.LLM.Provider)
	}

	// Every credentialed service needs at least one key at startup; a
	// pool that starts empty can never serve a call.
	if c.LLM.Provider == "groq" && len(c.Credentials.GroqKeys) == 0 {
		return fmt.Errorf("no Groq API keys configured: set GROQ_API_KEY or GROQ_API_KEY_1..N")
	}
	if c.LLM.Provider == "gemini" && len(c.Credentials.GeminiKeys) == 0 {
		return fmt.Errorf("no Gemini API keys configured: set GEMINI_API_KEY or GEMINI_API_KEY_1..N")
	}
	if len(c.Credentials.MaterialsKeys) == 0 {
		return fmt.Errorf("no Materials Project API keys configured: set MP_API_KEY or MP_API_KEY_1..N")
	}

	if c.Guard.MaxAttempts < 1 {
		return fmt.Errorf("GUARD_MAX_ATTEMPTS must be at least 1, got %d", c.Guard.MaxAttempts)
	}
	if c.Pipeline.Iterations < 1 {
		return fmt.Errorf("PIPELINE_ITERATIONS must be at least 1, got %d", c.Pipeline.Iterations)
	}

	return nil
}

// envKeyList collects numbered key variables (PREFIX_1, PREFIX_2, ...) in
// order, falling back to the bare variable name when no numbered keys exist.
// Placeholder values from a template .env file are skipped.
func envKeyList(prefix string) []string {
	var keys []string
	for i := 1; ; i++ {
		v := strings.TrimSpace(os.Getenv(fmt.Sprintf("%s_%d", prefix, i)))
		if v == "" {
			break
		}
		if !strings.HasPrefix(v, "your_") {
			keys = append(keys, v)
		}
	}
	if len(keys) == 0 {
		if v := strings.TrimSpace(os.Getenv(prefix)); v != "" && !strings.HasPrefix(v, "your_") {
			keys = append(keys, v)
		}
	}
	return keys
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
