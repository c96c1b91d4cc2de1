package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = "8080"
	defaultConfigFile      = "config.yaml"
	defaultModel           = "openai/gpt-4o"
	defaultGeminiModel     = "gemini-2.5-flash"
	defaultDeployWorkflow  = "deploy.yml"
	defaultAutofixWorkflow = "ai-fix.yml"
	defaultConversationTTL = 24 * time.Hour
	defaultIntakeRate      = 30
)

// ErrNotConfigured is returned (wrapped) by handlers when a required
// credential is missing at request time.
var ErrNotConfigured = errors.New("not configured")

// Notification kinds that may carry a dedicated webhook.
var webhookKinds = []string{"bug", "feature", "deployment", "digest", "incident", "pr"}

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	GitHubToken     string
	GitHubOwner     string
	GitHubRepo      string
	GitHubAPIURL    string
	DeployWorkflow  string
	AutofixWorkflow string

	SlackSigningSecret string
	SlackBotToken      string
	SlackAppToken      string
	SlackWebhookURL    string
	SlackWebhooks      map[string]string

	LLMAPIKey    string
	LLMAPIURL    string
	LLMModel     string
	GeminiAPIKey string
	GeminiModel  string

	ConversationStore string
	ConversationTTL   time.Duration
	RedisAddr         string
	RedisPassword     string

	CORSAllowedOrigins  []string
	NotifyAllowedCIDRs  string
	IntakeRatePerMinute int
	PromptsFile         string
}

// fileConfig mirrors the optional YAML file. Environment variables win.
type fileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	GitHub   struct {
		Owner           string `yaml:"owner"`
		Repo            string `yaml:"repo"`
		APIURL          string `yaml:"api_url"`
		DeployWorkflow  string `yaml:"deploy_workflow"`
		AutofixWorkflow string `yaml:"autofix_workflow"`
	} `yaml:"github"`
	Slack struct {
		WebhookURL string            `yaml:"webhook_url"`
		Webhooks   map[string]string `yaml:"webhooks"`
	} `yaml:"slack"`
	LLM struct {
		APIURL      string `yaml:"api_url"`
		Model       string `yaml:"model"`
		GeminiModel string `yaml:"gemini_model"`
	} `yaml:"llm"`
	Conversation struct {
		Store     string `yaml:"store"`
		TTL       string `yaml:"ttl"`
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"conversation"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	Intake struct {
		RatePerMinute int `yaml:"rate_per_minute"`
	} `yaml:"intake"`
}

// TrackerConfigured returns true when the issue tracker can be called.
func (c *Config) TrackerConfigured() bool {
	return c.GitHubToken != "" && c.GitHubOwner != "" && c.GitHubRepo != ""
}

// SlackConfigured returns true when inbound Slack requests can be verified
// and replies posted through the Web API.
func (c *Config) SlackConfigured() bool {
	return c.SlackSigningSecret != "" && c.SlackBotToken != ""
}

// SocketModeEnabled returns true when an app-level token allows Socket Mode.
func (c *Config) SocketModeEnabled() bool {
	return c.SlackAppToken != "" && c.SlackBotToken != ""
}

// UseGemini returns true when the Gemini backend should serve LLM calls.
func (c *Config) UseGemini() bool {
	return c.GeminiAPIKey != ""
}

// LLMConfigured returns true when any LLM backend has credentials.
func (c *Config) LLMConfigured() bool {
	return c.UseGemini() || c.LLMAPIKey != ""
}

// WebhookFor returns the incoming webhook for a notification kind, falling
// back to the default webhook.
func (c *Config) WebhookFor(kind string) string {
	if u := c.SlackWebhooks[kind]; u != "" {
		return u
	}
	return c.SlackWebhookURL
}

// Load reads configuration from CONFIG_FILE (optional YAML) and the
// environment. Missing credentials are not an error here; handlers report
// them per request.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	explicit := path != ""
	if path == "" {
		path = defaultConfigFile
	}

	fc, err := loadFile(path)
	if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return nil, err
	}

	ttl, err := durationValue("CONVERSATION_TTL", fc.Conversation.TTL, defaultConversationTTL)
	if err != nil {
		return nil, err
	}
	rate, err := intValue("INTAKE_RATE_PER_MINUTE", fc.Intake.RatePerMinute, defaultIntakeRate)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      envOr("PORT", fc.Port, defaultPort),
		LogLevel:  envOr("LOG_LEVEL", fc.LogLevel, "info"),
		LogFormat: envOr("LOG_FORMAT", "", "json"),

		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		GitHubOwner:     envOr("GITHUB_OWNER", fc.GitHub.Owner, ""),
		GitHubRepo:      envOr("GITHUB_REPO", fc.GitHub.Repo, ""),
		GitHubAPIURL:    envOr("GITHUB_API_URL", fc.GitHub.APIURL, ""),
		DeployWorkflow:  envOr("DEPLOY_WORKFLOW", fc.GitHub.DeployWorkflow, defaultDeployWorkflow),
		AutofixWorkflow: envOr("AUTOFIX_WORKFLOW", fc.GitHub.AutofixWorkflow, defaultAutofixWorkflow),

		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		SlackBotToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:      os.Getenv("SLACK_APP_TOKEN"),
		SlackWebhookURL:    envOr("SLACK_WEBHOOK_URL", fc.Slack.WebhookURL, ""),
		SlackWebhooks:      make(map[string]string),

		LLMAPIKey:    os.Getenv("LLM_API_KEY"),
		LLMAPIURL:    envOr("LLM_API_URL", fc.LLM.APIURL, ""),
		LLMModel:     envOr("GITHUB_MODEL", fc.LLM.Model, defaultModel),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envOr("GEMINI_MODEL", fc.LLM.GeminiModel, defaultGeminiModel),

		ConversationStore: strings.ToLower(envOr("CONVERSATION_STORE", fc.Conversation.Store, "memory")),
		ConversationTTL:   ttl,
		RedisAddr:         envOr("REDIS_ADDR", fc.Conversation.RedisAddr, "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),

		CORSAllowedOrigins:  fc.CORS.AllowedOrigins,
		NotifyAllowedCIDRs:  os.Getenv("NOTIFY_ALLOWED_CIDRS"),
		IntakeRatePerMinute: rate,
		PromptsFile:         os.Getenv("PROMPTS_FILE"),
	}

	// The models endpoint accepts a GitHub token when no dedicated key is set.
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = cfg.GitHubToken
	}

	for _, kind := range webhookKinds {
		if u := fc.Slack.Webhooks[kind]; u != "" {
			cfg.SlackWebhooks[kind] = u
		}
		if u := os.Getenv("SLACK_WEBHOOK_" + strings.ToUpper(kind)); u != "" {
			cfg.SlackWebhooks[kind] = u
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitAndTrim(v)
	}

	switch cfg.ConversationStore {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("CONVERSATION_STORE must be memory or redis, got %q", cfg.ConversationStore)
	}

	return cfg, nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fc, nil
}

func envOr(key, fileValue, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

func durationValue(key, fileValue string, defaultValue time.Duration) (time.Duration, error) {
	raw := envOr(key, fileValue, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func intValue(key string, fileValue, defaultValue int) (int, error) {
	if raw := os.Getenv(key); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		return n, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return defaultValue, nil
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
