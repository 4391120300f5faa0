package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client talks to an OpenAI-compatible chat completion API
// Safe for concurrent use
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
//
// Returns a new Client instance or an error if configuration is invalid
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}

	return client, nil
}

// ChatCompletion creates a chat completion request to the configured LLM API
//
// Example:
//
//	messages := []llm.Message{
//		{Role: "user", Content: "Hello, how are you?"},
//	}
//	response, err := client.ChatCompletion(ctx, messages, nil)
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (*ChatResponse, error) {
	if opts == nil {
		opts = NewChatCompletionOptions()
	}

	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.getMaxTokens(opts),
		Temperature: c.getTemperature(opts),
	}

	var response ChatResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", request, &response); err != nil {
		if response.Error != nil && response.Error.Message != "" {
			return &response, fmt.Errorf("chat completion failed: %w", response.Error)
		}
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if response.Error != nil && response.Error.Message != "" {
		return &response, response.Error
	}

	return &response, nil
}

// GetModels returns the models served by the configured provider
func (c *Client) GetModels(ctx context.Context) ([]ModelInfo, error) {
	var list modelList
	if err := c.makeRequest(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, fmt.Errorf("failed to get models: %w", err)
	}
	if list.Error != nil && list.Error.Message != "" {
		return nil, fmt.Errorf("failed to get models: %w", list.Error)
	}
	return list.Data, nil
}

// HasModel reports whether the configured model is served.
func (c *Client) HasModel(ctx context.Context) (bool, error) {
	models, err := c.GetModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.ID == c.config.Model {
			return true, nil
		}
	}
	return false, nil
}

// PullModel asks the pull endpoint to fetch the configured model and reports
// streamed progress lines to progress.
func (c *Client) PullModel(ctx context.Context, progress func(PullProgress)) error {
	if c.config.PullURL == "" {
		return fmt.Errorf("model pull is not configured")
	}

	jsonData, err := json.Marshal(pullRequest{Model: c.config.Model, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.PullURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	// pulls outlive the chat timeout
	httpClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model pull failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("failed to parse pull progress: %w", err)
		}
		if p.Error != "" {
			return fmt.Errorf("model pull failed: %s", p.Error)
		}
		if progress != nil {
			progress(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read pull progress: %w", err)
	}
	return nil
}

// makeRequest makes a raw HTTP request to the configured LLM API and decodes
// the body into out. out is decoded even on error statuses so callers can read
// API error payloads.
func (c *Client) makeRequest(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	parseErr := json.Unmarshal(responseBody, out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}
	if parseErr != nil {
		return fmt.Errorf("failed to parse response: %w", parseErr)
	}

	return nil
}

// getMaxTokens returns the max tokens to use for the request
func (c *Client) getMaxTokens(opts *ChatCompletionOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.config.MaxTokens
}

// getTemperature returns the temperature to use for the request
func (c *Client) getTemperature(opts *ChatCompletionOptions) float64 {
	if opts.Temperature >= 0 && opts.Temperature <= 2 {
		return opts.Temperature
	}
	return c.config.Temperature
}
