package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                    string
	ControlPlaneURL         string
	StoreDriver             string
	PostgresURL             string
	TemporalAddress         string
	TemporalTaskQueue       string
	LLMProvider             string
	LLMModel                string
	LLMBaseURL              string
	OpenAIAPIKey            string
	OpenRouterAPIKey        string
	GeminiAPIKey            string
	SearchProvider          string
	SerpAPIKey              string
	SearchBaseURL           string
	DIDDirectoryURL         string
	BlueskyServiceURL       string
	TwitterAPIURL           string
	TwitterUploadURL        string
	LinkedInAPIURL          string
	CredentialsSecretsKey   string
	OperatorName            string
	ResolveTimeout          time.Duration
	ResolveConcurrency      int
	AgentMaxTurns           int
	SearchMaxResults        int
	BlueskyTruncateOverflow bool
	LogLevel                string
}

var loadDotenv = func() error {
	return godotenv.Load()
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() (Config, error) {
	_ = loadDotenv()

	port := getEnv("CROSSPOSTER_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	cfg := Config{
		Port:              port,
		ControlPlaneURL:   getEnv("CONTROL_PLANE_URL", "http://localhost:"+port),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		PostgresURL:       postgresURL,
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "crossposter-posts"),
		LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		SearchProvider:    getEnv("SEARCH_PROVIDER", "serpapi"),
		SerpAPIKey:        getEnv("SERP_API_KEY", ""),
		SearchBaseURL:     getEnv("SEARCH_BASE_URL", ""),
		DIDDirectoryURL:   getEnv("DID_DIRECTORY_URL", "https://plc.directory"),
		BlueskyServiceURL: getEnv("BLUESKY_SERVICE_URL", "https://bsky.social"),
		TwitterAPIURL:     getEnv("TWITTER_API_URL", "https://api.twitter.com"),
		TwitterUploadURL:  getEnv("TWITTER_UPLOAD_URL", "https://upload.twitter.com"),
		LinkedInAPIURL:    getEnv("LINKEDIN_API_URL", "https://api.linkedin.com"),
		OperatorName:      getEnv("OPERATOR_NAME", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	cfg.CredentialsSecretsKey = getEnv("CREDENTIALS_SECRETS_KEY", "")

	var err error
	if cfg.ResolveTimeout, err = getEnvDuration("RESOLVE_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ResolveConcurrency, err = getEnvInt("RESOLVE_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if cfg.AgentMaxTurns, err = getEnvInt("AGENT_MAX_TURNS", 5); err != nil {
		return Config{}, err
	}
	if cfg.SearchMaxResults, err = getEnvInt("SEARCH_MAX_RESULTS", 8); err != nil {
		return Config{}, err
	}
	if cfg.BlueskyTruncateOverflow, err = getEnvBool("BLUESKY_TRUNCATE_OVERFLOW", false); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

// getEnvDuration accepts Go duration strings ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "crossposter")
	password := getEnv("POSTGRES_PASSWORD", "crossposter")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "crossposter")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
