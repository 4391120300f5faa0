package enrich

import (
	"context"

	"golang.org/x/text/language"
)

// Kind names one enrichment service.
type Kind string

const (
	KindTranslation Kind = "translation"
	KindInsight     Kind = "insight"
)

// Availability is the outcome of an availability check.
type Availability int

const (
	AvailabilityUnavailable Availability = iota
	AvailabilityNeedsDownload
	AvailabilityReady
)

func (a Availability) String() string {
	switch a {
	case AvailabilityNeedsDownload:
		return "needs-download"
	case AvailabilityReady:
		return "ready"
	default:
		return "unavailable"
	}
}

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateUnavailable
	StateNeedsDownload
	StateReady
	StateInitializing
	StateInitialized
	StateRotating
	StateWorkingReady
	StateDestroyed
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateUnavailable:   "unavailable",
	StateNeedsDownload: "needs-download",
	StateReady:         "ready",
	StateInitializing:  "initializing",
	StateInitialized:   "initialized",
	StateRotating:      "rotating",
	StateWorkingReady:  "working-ready",
	StateDestroyed:     "destroyed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

type LanguagePair struct {
	Source language.Tag
	Target language.Tag
}

func (p LanguagePair) String() string {
	return p.Source.String() + "->" + p.Target.String()
}

// Profile is the user-facing configuration of one enrichment kind.
type Profile struct {
	SourceLanguage     language.Tag
	TargetLanguage     language.Tag
	SystemInstructions string
}

// ProfileProvider is read on every initialization; the core never writes it.
type ProfileProvider interface {
	Profile(kind Kind) (Profile, error)
}

// NoticeSink surfaces user-visible warnings.
type NoticeSink interface {
	SetWarning(msg string)
}

// CreateOptions configures a root session.
type CreateOptions struct {
	Kind         Kind
	Pair         LanguagePair
	SystemPrompt string
	// Temperature and MaxTokens tune sampling; zero keeps the model default.
	Temperature float64
	MaxTokens   int
}

// Capability is a model service able to host enrichment sessions. A nil
// Capability means the service is missing on this host.
type Capability interface {
	Availability(ctx context.Context, pair LanguagePair) (Availability, error)
	Create(ctx context.Context, opts CreateOptions) (Handle, error)
	// SupportedLanguages lists accepted languages; empty means any.
	SupportedLanguages() []language.Tag
}

// Handle is a live model session.
type Handle interface {
	Generate(ctx context.Context, text string) (string, error)
	Clone(ctx context.Context) (Handle, error)
	Destroy()
	InputUsage() int
	InputQuota() int
}

// Downloader is implemented by capabilities whose model can be fetched on
// demand. progress receives loaded and total byte counts.
type Downloader interface {
	Download(ctx context.Context, progress func(loaded, total int64)) error
}
