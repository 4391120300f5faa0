package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func testConfig(url string) *Config {
	return &Config{
		APIKey:        "test-key",
		APIURL:        url,
		Model:         "test-model",
		MaxTokens:     256,
		Temperature:   0.3,
		Timeout:       30,
		ContextTokens: 4096,
	}
}

func history(c *Conversation) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func chatResponse(content string, promptTokens int) string {
	return fmt.Sprintf(`{
		"id": "test-id",
		"object": "chat.completion",
		"created": 1234567890,
		"model": "test-model",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": %q},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": %d, "completion_tokens": 5, "total_tokens": %d}
	}`, content, promptTokens, promptTokens+5)
}

func TestNewClient(t *testing.T) {
	config := testConfig("https://api.example.com")

	client, err := NewClient(config)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, config, client.config)
	assert.Equal(t, config.APIURL, client.baseURL)
	assert.NotNil(t, client.httpClient)

	invalidConfig := &Config{} // Missing API URL
	_, err = NewClient(invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"api key optional", func(c *Config) { c.APIKey = "" }, ""},
		{"missing model", func(c *Config) { c.Model = "" }, "model is required"},
		{"bad temperature", func(c *Config) { c.Temperature = 3 }, "temperature"},
		{"no context", func(c *Config) { c.ContextTokens = 0 }, "context tokens"},
		{"bad language", func(c *Config) { c.Languages = []string{"en", "not a tag"} }, "invalid language"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigHeadersAndLanguages(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.AppName = "live-sub"
	cfg.Languages = []string{"en", " ja ", "es"}

	headers := cfg.GetHeaders()
	assert.Equal(t, "Bearer test-key", headers["Authorization"])
	assert.Equal(t, "live-sub", headers["X-Title"])
	assert.Equal(t, []language.Tag{language.English, language.Japanese, language.Spanish}, cfg.SupportedLanguages())

	cfg.APIKey = ""
	_, ok := cfg.GetHeaders()["Authorization"]
	assert.False(t, ok)
}

func TestClientWithMockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 256, req.MaxTokens)
		assert.InDelta(t, 0.3, req.Temperature, 0.001)

		_, _ = w.Write([]byte(chatResponse("Hello! This is a test response.", 10)))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	messages := []Message{
		{Role: "user", Content: "Hello, how are you?"},
	}

	response, err := client.ChatCompletion(context.Background(), messages, nil)
	require.NoError(t, err)
	assert.Equal(t, "test-id", response.ID)
	assert.Len(t, response.Choices, 1)
	assert.Equal(t, "Hello! This is a test response.", response.Choices[0].Message.Content)
	assert.Equal(t, 15, response.Usage.TotalTokens)
}

func TestClientErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{
			"error": {
				"message": "Invalid API key",
				"type": "authentication_error",
				"code": "401"
			}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	response, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	require.NotNil(t, response)
	assert.Equal(t, "Invalid API key", response.Error.Message)
}

func TestConversationSendsCompletionOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "You are a helpful assistant", req.Messages[0].Content)
		assert.Equal(t, 64, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 0.001)

		_, _ = w.Write([]byte(chatResponse("Tuned response", 5)))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	opts := NewChatCompletionOptions().WithMaxTokens(64).WithTemperature(0.7)
	conv := NewConversation(client, "You are a helpful assistant", WithCompletionOptions(opts))
	response, err := conv.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Tuned response", response)

	fork := conv.Fork()
	assert.Same(t, opts, fork.options)
}

func TestClientGetModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "test-model-1", "owned_by": "library"},
				{"id": "test-model", "owned_by": "library"}
			]
		}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	models, err := client.GetModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)
	assert.Equal(t, "test-model-1", models[0].ID)

	ok, err := client.HasModel(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientPullModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.True(t, req.Stream)

		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"downloading","total":200,"completed":50}`)
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, `{"status":"downloading","total":200,"completed":200}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	}))
	defer server.Close()

	cfg := testConfig("http://unused")
	cfg.PullURL = server.URL + "/api/pull"
	client, err := NewClient(cfg)
	require.NoError(t, err)

	var statuses []string
	require.NoError(t, client.PullModel(context.Background(), func(p PullProgress) {
		statuses = append(statuses, p.Status)
	}))
	assert.Equal(t, []string{"pulling manifest", "downloading", "downloading", "success"}, statuses)

	cfg.PullURL = ""
	assert.Error(t, client.PullModel(context.Background(), nil))
}

func TestClientPullModelStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer server.Close()

	cfg := testConfig("http://unused")
	cfg.PullURL = server.URL
	client, err := NewClient(cfg)
	require.NoError(t, err)

	err = client.PullModel(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestConversationKeepsHistoryAndUsage(t *testing.T) {
	var mu sync.Mutex
	var seen [][]Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req.Messages)
		n := len(seen)
		mu.Unlock()
		_, _ = w.Write([]byte(chatResponse(fmt.Sprintf("answer %d", n), 100*n)))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	conv := NewConversation(client, "Translate.", WithMaxHistory(2))
	out, err := conv.SendMessage(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, "answer 1", out)
	assert.Equal(t, 100, conv.PromptUsage())

	_, err = conv.SendMessage(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, 200, conv.PromptUsage())

	require.Len(t, seen, 2)
	assert.Equal(t, []Message{
		{Role: "system", Content: "Translate."},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "answer 1"},
		{Role: "user", Content: "two"},
	}, seen[1])

	// history is bounded to the last exchange
	assert.Equal(t, []Message{
		{Role: "user", Content: "two"},
		{Role: "assistant", Content: "answer 2"},
	}, history(conv))

	fork := conv.Fork()
	assert.Equal(t, history(conv), history(fork))
	assert.Equal(t, "Translate.", fork.systemPrompt)
	assert.Zero(t, fork.PromptUsage())
}

func TestConversationEstimatesUsageWithoutProviderCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse("ok", 0)))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	conv := NewConversation(client, strings.Repeat("a", 400))
	_, err = conv.SendMessage(context.Background(), strings.Repeat("b", 40))
	require.NoError(t, err)
	assert.Equal(t, 110, conv.PromptUsage())
}

func TestClientConcurrentRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatResponse("Concurrent response", 5)))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	conv := NewConversation(client, "")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			response, err := conv.SendMessage(context.Background(), "Hello")
			assert.NoError(t, err)
			assert.Equal(t, "Concurrent response", response)
		}()
	}
	wg.Wait()
	assert.Len(t, history(conv), 20)
}

// TestIntegrationWithEnv reads the endpoint from environment
func TestIntegrationWithEnv(t *testing.T) {
	_ = godotenv.Load("./.env")
	apiURL := os.Getenv("LLM_API_URL")
	model := os.Getenv("LLM_MODEL")
	if apiURL == "" || model == "" {
		t.Skip("LLM_API_URL or LLM_MODEL not set, skipping integration test")
	}

	cfg := testConfig(apiURL)
	cfg.APIKey = os.Getenv("LLM_API_KEY")
	cfg.Model = model
	client, err := NewClient(cfg)
	require.NoError(t, err)

	conv := NewConversation(client, "Reply with the translation only.")
	response, err := conv.SendMessage(context.Background(), "Translate to English: こんにちは")
	assert.NoError(t, err)
	assert.NotEmpty(t, response)
}
