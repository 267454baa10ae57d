package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Read API configuration
	ContentChecksPerMinute int
	StatsCacheTTL          time.Duration

	// Ledger configuration
	Netuid    int
	LedgerURL string

	// Content source configuration
	TwitterAPIURL       string
	TwitterAPIKey       string
	AnnouncementPostID  string
	MinAuthorAccountAge time.Duration

	// Oracle configuration
	OracleURL       string
	OracleAPIKey    string
	OracleModel     string
	OracleMaxTokens int
	OracleMemoSize  int
	OracleMemoTTL   time.Duration
	ConstitutionURL string
	PromptRefresh   time.Duration
	Topics          []string

	// Storage configuration
	DatabaseURL      string
	StorageAccount   string
	StorageContainer string

	// Scheduling and worker configuration
	DiscoveryInterval        time.Duration
	AggregationInterval      time.Duration
	RunOnStart               bool
	PostWorkers              int
	InteractionWorkers       int
	PostQueueCapacity        int
	InteractionQueueCapacity int
	CacheRetention           time.Duration
	CacheCapacity            int
	InflightRetention        time.Duration

	// External call policy
	CallTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Scoring configuration
	ScoringWindowDays       int
	TopicWeights            map[string]float64
	InteractionTypeWeights  map[string]float64
	EngagementSteps         []float64
	InfluenceFollowersScale float64
	BurnHotkey              string
	BurnRatio               float64

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	NotifyOnSubmit    bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		ContentChecksPerMinute: getIntEnv("CONTENT_CHECKS_PER_MINUTE", 2),
		StatsCacheTTL:          getDurationEnv("STATS_CACHE_TTL", time.Minute),

		Netuid:    getIntEnv("NETUID", 23),
		LedgerURL: getEnv("LEDGER_URL", "http://localhost:9944"),

		TwitterAPIURL:       getEnv("TWITTER_API_URL", "https://apis.datura.ai"),
		TwitterAPIKey:       getEnv("DATURA_API_KEY", ""),
		AnnouncementPostID:  getEnv("ANNOUNCEMENT_POST_ID", ""),
		MinAuthorAccountAge: getDurationEnv("MIN_AUTHOR_ACCOUNT_AGE", 365*24*time.Hour),

		OracleURL:       getEnv("ORACLE_URL", "https://llm.chutes.ai/v1"),
		OracleAPIKey:    getEnv("CHUTES_API_KEY", ""),
		OracleModel:     getEnv("ORACLE_MODEL", "Qwen/Qwen2.5-7B-Instruct"),
		OracleMaxTokens: getIntEnv("ORACLE_MAX_TOKENS", 1024),
		OracleMemoSize:  getIntEnv("ORACLE_MEMO_SIZE", 4096),
		OracleMemoTTL:   getDurationEnv("ORACLE_MEMO_TTL", 6*time.Hour),
		ConstitutionURL: getEnv("CONSTITUTION_URL", ""),
		PromptRefresh:   getDurationEnv("PROMPT_REFRESH", time.Hour),
		Topics:          getSliceEnv("TOPICS", []string{"bittensor", "nuance_subnet"}),

		DatabaseURL:      getEnv("DATABASE_URL", "sqlite://data/nuance.sqlite"),
		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "weights"),

		DiscoveryInterval:        getDurationEnv("DISCOVERY_INTERVAL", 5*time.Minute),
		AggregationInterval:      getDurationEnv("AGGREGATION_INTERVAL", 20*time.Minute),
		RunOnStart:               getBoolEnv("RUN_ON_START", true),
		PostWorkers:              getIntEnv("POST_WORKERS", 2),
		InteractionWorkers:       getIntEnv("INTERACTION_WORKERS", 2),
		PostQueueCapacity:        getIntEnv("POST_QUEUE_CAPACITY", 1000),
		InteractionQueueCapacity: getIntEnv("INTERACTION_QUEUE_CAPACITY", 5000),
		CacheRetention:           getDurationEnv("CACHE_RETENTION", 2*time.Hour),
		CacheCapacity:            getIntEnv("CACHE_CAPACITY", 0),
		InflightRetention:        getDurationEnv("INFLIGHT_RETENTION", 24*time.Hour),

		CallTimeout:      getDurationEnv("CALL_TIMEOUT", 60*time.Second),
		RetryMaxAttempts: getIntEnv("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getDurationEnv("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getDurationEnv("RETRY_MAX_DELAY", 30*time.Second),

		ScoringWindowDays: getIntEnv("SCORING_WINDOW_DAYS", 7),
		TopicWeights: getWeightsEnv("TOPIC_WEIGHTS", map[string]float64{
			"bittensor":     1.0,
			"nuance_subnet": 1.0,
			"other":         1.0,
		}),
		InteractionTypeWeights: getWeightsEnv("INTERACTION_TYPE_WEIGHTS", map[string]float64{
			"reply": 1.0,
			"quote": 1.0,
		}),
		EngagementSteps:         getFloatSliceEnv("ENGAGEMENT_STEPS", []float64{1.0, 1.7, 2.0}),
		InfluenceFollowersScale: getFloatEnv("INFLUENCE_FOLLOWERS_SCALE", 10000),
		BurnHotkey:              getEnv("BURN_HOTKEY", ""),
		BurnRatio:               getFloatEnv("BURN_RATIO", 0),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		NotifyOnSubmit:    getBoolEnv("NOTIFY_ON_SUBMIT", false),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ScoringWindow returns the trailing window of interactions eligible for scoring
func (c *Config) ScoringWindow() time.Duration {
	return time.Duration(c.ScoringWindowDays) * 24 * time.Hour
}

func (c *Config) validate() error {
	if c.ScoringWindowDays <= 0 {
		return fmt.Errorf("SCORING_WINDOW_DAYS must be positive")
	}

	if c.DiscoveryInterval <= 0 || c.AggregationInterval <= 0 {
		return fmt.Errorf("DISCOVERY_INTERVAL and AGGREGATION_INTERVAL must be positive")
	}

	if c.PostWorkers < 1 || c.InteractionWorkers < 1 {
		return fmt.Errorf("POST_WORKERS and INTERACTION_WORKERS must be at least 1")
	}

	if c.PostQueueCapacity < 1 || c.InteractionQueueCapacity < 1 {
		return fmt.Errorf("queue capacities must be at least 1")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if len(c.EngagementSteps) == 0 {
		return fmt.Errorf("ENGAGEMENT_STEPS must not be empty")
	}
	for i := 1; i < len(c.EngagementSteps); i++ {
		if c.EngagementSteps[i] < c.EngagementSteps[i-1] {
			return fmt.Errorf("ENGAGEMENT_STEPS must be non-decreasing")
		}
	}

	if c.InfluenceFollowersScale <= 0 {
		return fmt.Errorf("INFLUENCE_FOLLOWERS_SCALE must be positive")
	}

	if c.BurnRatio < 0 || c.BurnRatio > 1 {
		return fmt.Errorf("BURN_RATIO must be within [0, 1]")
	}
	if c.BurnRatio > 0 && c.BurnHotkey == "" {
		return fmt.Errorf("BURN_HOTKEY is required when BURN_RATIO is set")
	}

	if c.ContentChecksPerMinute < 1 {
		return fmt.Errorf("CONTENT_CHECKS_PER_MINUTE must be at least 1")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return defaultValue
}

func getFloatSliceEnv(key string, defaultValue []float64) []float64 {
	if value := os.Getenv(key); value != "" {
		var out []float64
		for _, item := range strings.Split(value, ",") {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
			if err != nil {
				return defaultValue
			}
			out = append(out, parsed)
		}
		return out
	}
	return defaultValue
}

// getWeightsEnv parses "name=weight,name=weight"
func getWeightsEnv(key string, defaultValue map[string]float64) map[string]float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	weights := make(map[string]float64)
	for _, pair := range strings.Split(value, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return defaultValue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return defaultValue
		}
		weights[strings.TrimSpace(name)] = parsed
	}
	return weights
}
