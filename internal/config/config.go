package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LLM providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

var (
	defaultGeminiModels    = []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"}
	defaultAnthropicModels = []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"}
)

// Config contains runtime configuration required by the service.
type Config struct {
	HTTPAddr string
	LogLevel slog.Level

	SlackBotToken      string
	SlackSigningSecret string // empty disables signature checks
	AsyncWebhook       bool

	JiraDomain       string
	JiraUsername     string
	JiraAPIToken     string
	JiraSummaryField string
	TicketPattern    string

	LLMProvider     string
	GeminiAPIKey    string
	AnthropicAPIKey string
	LLMModels       []string

	CoordStoreDSN  string
	EventTTL       time.Duration
	LockTTL        time.Duration
	ProbeWindow    time.Duration
	CallTimeout    time.Duration
	LockFailClosed bool
	InstanceID     string
}

// Load reads values from environment variables, validating required ones.
// LLM_MODELS format: "model-a,model-b" (tried in order).
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:           env("HTTP_ADDR", ":8080"),
		SlackBotToken:      env("SLACK_BOT_TOKEN", ""),
		SlackSigningSecret: env("SLACK_SIGNING_SECRET", ""),
		JiraDomain:         env("JIRA_DOMAIN", ""),
		JiraUsername:       env("JIRA_USERNAME", ""),
		JiraAPIToken:       env("JIRA_API_TOKEN", ""),
		JiraSummaryField:   env("JIRA_SUMMARY_FIELD", "customfield_10250"),
		TicketPattern:      env("TICKET_PATTERN", `ISD-\d{5}`),
		LLMProvider:        strings.ToLower(env("LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey:       env("GEMINI_API_KEY", ""),
		AnthropicAPIKey:    env("ANTHROPIC_API_KEY", ""),
		CoordStoreDSN:      env("COORD_STORE_DSN", "memory://"),
		InstanceID:         env("INSTANCE_ID", ""),
	}

	var err error
	if err = cfg.LogLevel.UnmarshalText([]byte(env("LOG_LEVEL", "info"))); err != nil {
		return Config{}, errors.Wrap(err, "LOG_LEVEL")
	}
	if cfg.AsyncWebhook, err = boolEnv("ASYNC_WEBHOOK", true); err != nil {
		return Config{}, err
	}
	if cfg.LockFailClosed, err = boolEnv("LOCK_FAIL_CLOSED", false); err != nil {
		return Config{}, err
	}
	for _, d := range []struct {
		name string
		def  time.Duration
		dst  *time.Duration
	}{
		{"EVENT_TTL", 24 * time.Hour, &cfg.EventTTL},
		{"LOCK_TTL", 5 * time.Minute, &cfg.LockTTL},
		{"PROBE_WINDOW", 10 * time.Minute, &cfg.ProbeWindow},
		{"CALL_TIMEOUT", 10 * time.Second, &cfg.CallTimeout},
	} {
		if *d.dst, err = durationEnv(d.name, d.def); err != nil {
			return Config{}, err
		}
	}

	// Required credentials.
	for name, v := range map[string]string{
		"SLACK_BOT_TOKEN": cfg.SlackBotToken,
		"JIRA_DOMAIN":     cfg.JiraDomain,
		"JIRA_USERNAME":   cfg.JiraUsername,
		"JIRA_API_TOKEN":  cfg.JiraAPIToken,
	} {
		if v == "" {
			return Config{}, errors.Errorf("%s required", name)
		}
	}

	switch cfg.LLMProvider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, errors.New("GEMINI_API_KEY required when LLM_PROVIDER=gemini")
		}
		cfg.LLMModels = listEnv("LLM_MODELS", defaultGeminiModels)
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return Config{}, errors.New("ANTHROPIC_API_KEY required when LLM_PROVIDER=anthropic")
		}
		cfg.LLMModels = listEnv("LLM_MODELS", defaultAnthropicModels)
	default:
		return Config{}, errors.Errorf(`LLM_PROVIDER must be "gemini" or "anthropic", got %q`, cfg.LLMProvider)
	}

	// Every process needs a distinct owner identity in lock records.
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = strings.Trim(host+"-"+uuid.NewString()[:8], "-")
	}

	return cfg, nil
}

func env(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func boolEnv(name string, def bool) (bool, error) {
	raw := env(name, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := env(name, "")
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return 0, errors.Errorf("%s must be a positive duration like 5m, got %q", name, raw)
	}
	return v, nil
}

func listEnv(name string, def []string) []string {
	raw := env(name, "")
	if raw == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}
