package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-sub-enricher/internal/llm"
	"github.com/MimeLyc/live-sub-enricher/internal/prefetch"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (optional for local servers)
// - LLM_API_URL: API endpoint URL (default: http://localhost:11434/v1)
// - LLM_MODEL: Model name to use (default: qwen2.5:7b)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 512)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 30)
// - LLM_CONTEXT_TOKENS: Input quota of one session (default: 4096)
// - LLM_PULL_URL: Model pull endpoint (optional)
// - LLM_LANGUAGES: Comma separated supported languages (optional)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Prefetch Configuration:
// - PREFETCH_TRANSLATION_WINDOW: Segments translated ahead (default: 10)
// - PREFETCH_INSIGHT_WINDOW: Segments explained ahead (default: 5)
// - PREFETCH_TASK_TIMEOUT: Timeout of one enrichment call (default: 10s)
// - PREFETCH_JUMP_THRESHOLD: Target distance treated as a seek (default: 5)
// - INSIGHT_ENABLED: Generate grammar insight (default: true)
//
// Profile Configuration:
// - PROFILE_FILE: YAML profile file (optional)
// - SOURCE_LANGUAGE: Caption language, "auto" to detect (default: auto)
// - TARGET_LANGUAGE: Viewer language (default: en)
//
// System Configuration:
// - HTTP_ADDR: HTTP listen address (default: :8080)
// - STATUS_CRON: Status report schedule (default: @every 30s)
// - ACTIVATION_WINDOW: How long a user gesture allows downloads (default: 5s)
// - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)
type Config struct {
	LLM      LLMConfig      `json:"llm"`
	Prefetch PrefetchConfig `json:"prefetch"`
	Profile  ProfileConfig  `json:"profile"`
	HTTP     HTTPConfig     `json:"http"`
	System   SystemConfig   `json:"system"`
}

// LLMConfig holds the configuration for the LLM client
type LLMConfig struct {
	APIKey        string   `json:"-"`
	APIURL        string   `json:"api_url"`
	Model         string   `json:"model"`
	MaxTokens     int      `json:"max_tokens"`
	Temperature   float64  `json:"temperature"`
	Timeout       int      `json:"timeout"`
	ContextTokens int      `json:"context_tokens"`
	PullURL       string   `json:"pull_url"`
	Languages     []string `json:"languages"`
	SiteURL       string   `json:"site_url"`
	AppName       string   `json:"app_name"`
}

// ClientConfig converts to the llm package configuration.
func (c LLMConfig) ClientConfig() *llm.Config {
	return &llm.Config{
		APIKey:        c.APIKey,
		APIURL:        c.APIURL,
		Model:         c.Model,
		MaxTokens:     c.MaxTokens,
		Temperature:   c.Temperature,
		Timeout:       c.Timeout,
		ContextTokens: c.ContextTokens,
		PullURL:       c.PullURL,
		Languages:     c.Languages,
		SiteURL:       c.SiteURL,
		AppName:       c.AppName,
	}
}

type PrefetchConfig struct {
	TranslationWindow int           `json:"translation_window"`
	InsightWindow     int           `json:"insight_window"`
	TaskTimeout       time.Duration `json:"task_timeout"`
	JumpThreshold     int           `json:"jump_threshold"`
	InsightEnabled    bool          `json:"insight_enabled"`
}

// SchedulerConfig converts to the prefetch package configuration.
func (c PrefetchConfig) SchedulerConfig() prefetch.Config {
	return prefetch.Config{
		TranslationWindow: c.TranslationWindow,
		InsightWindow:     c.InsightWindow,
		TaskTimeout:       c.TaskTimeout,
		JumpThreshold:     c.JumpThreshold,
		InsightEnabled:    c.InsightEnabled,
	}
}

type ProfileConfig struct {
	File           string `json:"file"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	StatusCron       string        `json:"status_cron"`
	ActivationWindow time.Duration `json:"activation_window"`
	LogLevel         string        `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithHTTPAddr overrides the listen address.
func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		if strings.TrimSpace(addr) != "" {
			c.HTTP.Addr = addr
		}
	}
}

// WithProfileFile overrides the profile file path.
func WithProfileFile(path string) Option {
	return func(c *Config) {
		if strings.TrimSpace(path) != "" {
			c.Profile.File = path
		}
	}
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		log.Debug("Loaded environment from %s", path)
	}
	return nil
}

// LogLevelFromEnv returns LOG_LEVEL so the logger can be set up before the
// rest of the configuration is read.
func LogLevelFromEnv() string {
	return getEnvString("LOG_LEVEL", "INFO")
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:        getEnvString("LLM_API_KEY", ""),
			APIURL:        getEnvString("LLM_API_URL", "http://localhost:11434/v1"),
			Model:         getEnvString("LLM_MODEL", "qwen2.5:7b"),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 512),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:       getEnvInt("LLM_TIMEOUT", 30),
			ContextTokens: getEnvInt("LLM_CONTEXT_TOKENS", 4096),
			PullURL:       getEnvString("LLM_PULL_URL", ""),
			Languages:     getEnvList("LLM_LANGUAGES"),
			SiteURL:       getEnvString("LLM_SITE_URL", ""),
			AppName:       getEnvString("LLM_APP_NAME", ""),
		},
		Prefetch: PrefetchConfig{
			TranslationWindow: getEnvInt("PREFETCH_TRANSLATION_WINDOW", prefetch.DefaultTranslationWindow),
			InsightWindow:     getEnvInt("PREFETCH_INSIGHT_WINDOW", prefetch.DefaultInsightWindow),
			TaskTimeout:       getEnvDuration("PREFETCH_TASK_TIMEOUT", prefetch.DefaultTaskTimeout),
			JumpThreshold:     getEnvInt("PREFETCH_JUMP_THRESHOLD", prefetch.DefaultJumpThreshold),
			InsightEnabled:    getEnvBool("INSIGHT_ENABLED", true),
		},
		Profile: ProfileConfig{
			File:           getEnvString("PROFILE_FILE", ""),
			SourceLanguage: getEnvString("SOURCE_LANGUAGE", AutoLanguage),
			TargetLanguage: getEnvString("TARGET_LANGUAGE", "en"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		System: SystemConfig{
			StatusCron:       getEnvString("STATUS_CRON", "@every 30s"),
			ActivationWindow: getEnvDuration("ACTIVATION_WINDOW", 5*time.Second),
			LogLevel:         LogLevelFromEnv(),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: model=%s api=%s profile=%q http=%s", config.LLM.Model, config.LLM.APIURL, config.Profile.File, config.HTTP.Addr)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if err := c.LLM.ClientConfig().Validate(); err != nil {
		return fmt.Errorf("invalid LLM configuration: %w", err)
	}
	if c.Prefetch.TranslationWindow < 1 {
		return fmt.Errorf("PREFETCH_TRANSLATION_WINDOW must be greater than 0")
	}
	if c.Prefetch.InsightWindow < 0 {
		return fmt.Errorf("PREFETCH_INSIGHT_WINDOW must not be negative")
	}
	if c.Prefetch.TaskTimeout <= 0 {
		return fmt.Errorf("PREFETCH_TASK_TIMEOUT must be positive")
	}
	if c.Prefetch.JumpThreshold < 0 {
		return fmt.Errorf("PREFETCH_JUMP_THRESHOLD must not be negative")
	}
	if err := validateLanguage(c.Profile.SourceLanguage, true); err != nil {
		return fmt.Errorf("invalid SOURCE_LANGUAGE: %w", err)
	}
	if err := validateLanguage(c.Profile.TargetLanguage, false); err != nil {
		return fmt.Errorf("invalid TARGET_LANGUAGE: %w", err)
	}
	if _, err := cron.ParseStandard(c.System.StatusCron); err != nil {
		return fmt.Errorf("invalid STATUS_CRON: %w", err)
	}
	return nil
}

func validateLanguage(code string, allowAuto bool) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("language is required")
	}
	if allowAuto && strings.EqualFold(code, AutoLanguage) {
		return nil
	}
	_, err := language.Parse(code)
	return err
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or plain milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var ret []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}
