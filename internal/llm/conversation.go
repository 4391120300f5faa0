package llm

import (
	"context"
	"fmt"
	"sync"
)

// Conversation keeps a system prompt and a bounded message history against
// one client. Messages sent concurrently are each answered with the history as
// it was when they were sent.
type Conversation struct {
	client       *Client
	systemPrompt string
	maxHistory   int
	options      *ChatCompletionOptions

	mu          sync.Mutex
	messages    []Message
	promptUsage int
}

// ConversationOption configures a Conversation
type ConversationOption func(*Conversation)

// WithMaxHistory sets the maximum number of messages to keep in history
func WithMaxHistory(maxHistory int) ConversationOption {
	return func(c *Conversation) {
		c.maxHistory = maxHistory
	}
}

// WithCompletionOptions sets the sampling options sent with every message.
func WithCompletionOptions(opts *ChatCompletionOptions) ConversationOption {
	return func(c *Conversation) {
		c.options = opts
	}
}

// WithInitialMessages sets initial messages for the conversation
func WithInitialMessages(messages []Message) ConversationOption {
	return func(c *Conversation) {
		c.messages = append(c.messages, messages...)
	}
}

// NewConversation creates a new conversation with the given client and system prompt
//
// Example:
//
//	client, _ := llm.NewClient(cfg)
//	conv := llm.NewConversation(client, "You are a subtitle translator.", llm.WithMaxHistory(40))
func NewConversation(client *Client, systemPrompt string, opts ...ConversationOption) *Conversation {
	conv := &Conversation{
		client:       client,
		systemPrompt: systemPrompt,
		messages:     make([]Message, 0),
		maxHistory:   100,
	}

	for _, opt := range opts {
		opt(conv)
	}
	if conv.maxHistory <= 0 {
		conv.maxHistory = 100
	}

	return conv
}

// SendMessage sends a message in the conversation and gets a response
//
// Example:
//
//	response, err := conv.SendMessage(ctx, "What is Go?")
func (c *Conversation) SendMessage(ctx context.Context, content string) (string, error) {
	userMessage := Message{Role: "user", Content: content}

	c.mu.Lock()
	messages := c.prepareMessages()
	c.mu.Unlock()
	messages = append(messages, userMessage)

	response, err := c.client.ChatCompletion(ctx, messages, c.options)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	assistantContent := response.Choices[0].Message.Content

	c.mu.Lock()
	c.addMessage(userMessage)
	c.addMessage(Message{Role: "assistant", Content: assistantContent})
	if response.Usage.PromptTokens > 0 {
		c.promptUsage = response.Usage.PromptTokens
	} else {
		c.promptUsage = estimateTokens(messages)
	}
	c.mu.Unlock()

	return assistantContent, nil
}

// PromptUsage returns the prompt size of the last exchange in tokens.
func (c *Conversation) PromptUsage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promptUsage
}

// Fork returns a conversation with the same system prompt and a copy of the
// history.
func (c *Conversation) Fork() *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewConversation(c.client, c.systemPrompt,
		WithMaxHistory(c.maxHistory),
		WithCompletionOptions(c.options),
		WithInitialMessages(c.messages))
}

// addMessage adds a message to the history, maintaining max history limit
func (c *Conversation) addMessage(msg Message) {
	c.messages = append(c.messages, msg)

	if len(c.messages) > c.maxHistory {
		// Keep the most recent messages
		excess := len(c.messages) - c.maxHistory
		c.messages = c.messages[excess:]
	}
}

// prepareMessages prepares messages for the API, including system prompt
func (c *Conversation) prepareMessages() []Message {
	messages := make([]Message, 0, len(c.messages)+2)

	if c.systemPrompt != "" {
		messages = append(messages, Message{
			Role:    "system",
			Content: c.systemPrompt,
		})
	}

	return append(messages, c.messages...)
}

// estimateTokens is used when the provider omits usage.
// Rough estimate: 1 token per 4 bytes.
func estimateTokens(messages []Message) int {
	length := 0
	for _, msg := range messages {
		length += len(msg.Content) / 4
	}
	return length
}
