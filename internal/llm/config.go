package llm

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Config holds the configuration for the LLM client
// Works against any OpenAI-compatible endpoint (Ollama, llama.cpp server,
// OpenRouter, OpenAI)
//
// Environment Variables:
// - LLM_API_KEY: API key for the LLM provider (optional for local servers)
// - LLM_API_URL: API endpoint URL (default: http://localhost:11434/v1)
// - LLM_MODEL: Model name to use (default: qwen2.5:7b)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 512)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 30)
// - LLM_CONTEXT_TOKENS: Input quota of one session in tokens (default: 4096)
// - LLM_PULL_URL: Model pull endpoint, enables downloads (optional)
// - LLM_LANGUAGES: Comma separated languages the model handles (optional, empty accepts all)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
type Config struct {
	APIKey        string   `json:"api_key"`
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

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.ContextTokens < 1 {
		return fmt.Errorf("context tokens must be greater than 0")
	}
	for _, code := range c.Languages {
		if _, err := language.Parse(strings.TrimSpace(code)); err != nil {
			return fmt.Errorf("invalid language %q: %w", code, err)
		}
	}
	return nil
}

// SupportedLanguages parses Languages into tags, skipping invalid entries.
func (c *Config) SupportedLanguages() []language.Tag {
	tags := make([]language.Tag, 0, len(c.Languages))
	for _, code := range c.Languages {
		tag, err := language.Parse(strings.TrimSpace(code))
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
