package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"basegraph.app/digest/core/db"
)

type Config struct {
	OTel       OTelConfig
	Tracker    TrackerConfig
	Summarizer LLMConfig
	Redis      RedisConfig
	Digest     DigestConfig
	Env        string
	Port       string
	DB         db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64 // fraction of root traces kept; parents decide for children
}

// TrackerConfig selects one backend family and carries the credentials of all
// of them; only the selected backend's credentials are validated.
type TrackerConfig struct {
	Backend  string // "bugzilla", "jira" or "gitlab"
	Bugzilla BugzillaConfig
	Jira     JiraConfig
	GitLab   GitLabConfig
}

type BugzillaConfig struct {
	BaseURL string
	APIKey  string
}

type JiraConfig struct {
	BaseURL string
	APIKey  string
}

type GitLabConfig struct {
	BaseURL string
	Token   string
}

type LLMConfig struct {
	Provider  string // "openai" or "anthropic"
	APIKey    string
	BaseURL   string // Optional: for custom endpoints
	Model     string
	MaxTokens int
}

type RedisConfig struct {
	URL          string
	SessionTTL   time.Duration
	CacheTTL     time.Duration
	ReportStream string
}

type DigestConfig struct {
	Budget          time.Duration
	PageSize        int
	HighlightLimit  int
	OneshotMaxTotal int
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeCLI    ServiceType = "cli"
)

const (
	BackendBugzilla = "bugzilla"
	BackendJira     = "jira"
	BackendGitLab   = "gitlab"
)

// ConfigurationError reports required settings that are absent. It is fatal:
// nothing in the process retries after it.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	switch len(e.Missing) {
	case 0:
		return "configuration is incomplete"
	case 1:
		return fmt.Sprintf("%s is required", e.Missing[0])
	default:
		return fmt.Sprintf("%s and %s are required",
			strings.Join(e.Missing[:len(e.Missing)-1], ", "),
			e.Missing[len(e.Missing)-1])
	}
}

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the HTTP server
//   - .env.cli for the command line
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("DIGEST_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:  getEnv("DIGEST_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "digest"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Tracker: TrackerConfig{
			Backend: strings.ToLower(getEnv("TRACKER_BACKEND", BackendBugzilla)),
			Bugzilla: BugzillaConfig{
				BaseURL: getEnv("BUGZILLA_URL", "https://bugzilla.mozilla.org"),
				APIKey:  getEnv("BUGZILLA_API_KEY", ""),
			},
			Jira: JiraConfig{
				BaseURL: getEnv("JIRA_URL", ""),
				APIKey:  getEnv("JIRA_API_KEY", ""),
			},
			GitLab: GitLabConfig{
				BaseURL: getEnv("GITLAB_URL", "https://gitlab.com"),
				Token:   getEnv("GITLAB_TOKEN", ""),
			},
		},
		Summarizer: LLMConfig{
			Provider:  getEnv("SUMMARIZER_PROVIDER", "openai"),
			APIKey:    getEnv("SUMMARIZER_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:   getEnv("SUMMARIZER_BASE_URL", ""),
			Model:     getEnv("SUMMARIZER_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("SUMMARIZER_MAX_TOKENS", 4096),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			SessionTTL:   getEnvDuration("SESSION_TTL", 30*time.Minute),
			CacheTTL:     getEnvDuration("SEARCH_CACHE_TTL", 10*time.Minute),
			ReportStream: getEnv("REPORT_STREAM", ""),
		},
		Digest: DigestConfig{
			Budget:          getEnvDuration("EXECUTION_BUDGET", 10*time.Second),
			PageSize:        getEnvInt("PAGE_SIZE", 100),
			HighlightLimit:  getEnvInt("HIGHLIGHT_LIMIT", 5),
			OneshotMaxTotal: getEnvInt("ONESHOT_MAX_TOTAL", 300),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the selected backend and the summarizer have their
// credentials. All missing variables are reported together.
func (c Config) Validate() error {
	var missing []string

	switch c.Tracker.Backend {
	case BackendBugzilla:
		if c.Tracker.Bugzilla.BaseURL == "" {
			missing = append(missing, "BUGZILLA_URL")
		}
		if c.Tracker.Bugzilla.APIKey == "" {
			missing = append(missing, "BUGZILLA_API_KEY")
		}
	case BackendJira:
		if c.Tracker.Jira.BaseURL == "" {
			missing = append(missing, "JIRA_URL")
		}
		if c.Tracker.Jira.APIKey == "" {
			missing = append(missing, "JIRA_API_KEY")
		}
	case BackendGitLab:
		if c.Tracker.GitLab.Token == "" {
			missing = append(missing, "GITLAB_TOKEN")
		}
	default:
		return fmt.Errorf("unsupported TRACKER_BACKEND: %q", c.Tracker.Backend)
	}

	if c.Summarizer.APIKey == "" {
		missing = append(missing, "SUMMARIZER_API_KEY")
	}

	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
