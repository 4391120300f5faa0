package llm

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

// ErrSessionDestroyed is returned by calls on a destroyed session handle.
var ErrSessionDestroyed = errors.New("llm session destroyed")

// DefaultMaxHistory bounds how many messages a session replays per request.
const DefaultMaxHistory = 40

// Capability exposes a chat model as an enrichment capability. Sessions are
// conversations whose prompt size is the input usage.
type Capability struct {
	client     *Client
	config     *Config
	maxHistory int
}

func NewCapability(client *Client, config *Config) *Capability {
	return &Capability{
		client:     client,
		config:     config,
		maxHistory: DefaultMaxHistory,
	}
}

// Availability reports ready when the model is served, needs-download when it
// is missing but a pull endpoint is configured.
func (c *Capability) Availability(ctx context.Context, pair enrich.LanguagePair) (enrich.Availability, error) {
	ok, err := c.client.HasModel(ctx)
	if err != nil {
		return enrich.AvailabilityUnavailable, err
	}
	if ok {
		return enrich.AvailabilityReady, nil
	}
	if c.config.PullURL != "" {
		return enrich.AvailabilityNeedsDownload, nil
	}
	log.Warn("Model %s is not served at %s", c.config.Model, c.config.APIURL)
	return enrich.AvailabilityUnavailable, nil
}

func (c *Capability) SupportedLanguages() []language.Tag {
	return c.config.SupportedLanguages()
}

func (c *Capability) Create(ctx context.Context, opts enrich.CreateOptions) (enrich.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conv := NewConversation(c.client, opts.SystemPrompt,
		WithMaxHistory(c.maxHistory),
		WithCompletionOptions(completionOptions(opts)))
	h := newSessionHandle(opts.Kind, conv, c.config.ContextTokens)
	log.Debug("Created %s session %s for %s", opts.Kind, h.id, opts.Pair)
	return h, nil
}

// completionOptions maps session sampling onto request options. Unset values
// fall back to the client configuration.
func completionOptions(opts enrich.CreateOptions) *ChatCompletionOptions {
	o := NewChatCompletionOptions()
	if opts.MaxTokens > 0 {
		o = o.WithMaxTokens(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		o = o.WithTemperature(opts.Temperature)
	}
	return o
}

// Download pulls the configured model.
func (c *Capability) Download(ctx context.Context, progress func(loaded, total int64)) error {
	return c.client.PullModel(ctx, func(p PullProgress) {
		if progress != nil && p.Total > 0 {
			progress(p.Completed, p.Total)
		}
	})
}

type sessionHandle struct {
	id        string
	kind      enrich.Kind
	conv      *Conversation
	quota     int
	destroyed atomic.Bool
}

func newSessionHandle(kind enrich.Kind, conv *Conversation, quota int) *sessionHandle {
	return &sessionHandle{
		id:    uuid.NewString(),
		kind:  kind,
		conv:  conv,
		quota: quota,
	}
}

func (h *sessionHandle) Generate(ctx context.Context, text string) (string, error) {
	if h.destroyed.Load() {
		return "", ErrSessionDestroyed
	}
	return h.conv.SendMessage(ctx, text)
}

func (h *sessionHandle) Clone(ctx context.Context) (enrich.Handle, error) {
	if h.destroyed.Load() {
		return nil, ErrSessionDestroyed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clone := newSessionHandle(h.kind, h.conv.Fork(), h.quota)
	log.Debug("Cloned %s session %s from %s", h.kind, clone.id, h.id)
	return clone, nil
}

func (h *sessionHandle) Destroy() {
	if h.destroyed.CompareAndSwap(false, true) {
		log.Debug("Destroyed %s session %s", h.kind, h.id)
	}
}

func (h *sessionHandle) InputUsage() int { return h.conv.PromptUsage() }
func (h *sessionHandle) InputQuota() int { return h.quota }
