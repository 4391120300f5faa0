package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

// Config holds the service-specific constants of a Session.
type Config struct {
	Kind Kind
	// QuotaThreshold is the usage/quota ratio above which the working session
	// is rotated. A ratio exactly at the threshold does not rotate.
	QuotaThreshold float64
	// Instructions are prepended to the profile's system instructions.
	Instructions string
	Temperature  float64
	MaxTokens    int
}

// Session manages a long-lived root session and a disposable working session
// cloned from it. The working session is rotated when its input usage passes
// the quota threshold.
type Session struct {
	cfg        Config
	capability Capability
	profiles   ProfileProvider
	notices    NoticeSink

	flight singleflight.Group

	mu      sync.Mutex
	state   State
	root    Handle
	working Handle
}

// NewSession builds a session for cfg. capability may be nil when the service
// is missing on this host.
func NewSession(cfg Config, capability Capability, profiles ProfileProvider, notices NoticeSink) *Session {
	return &Session{
		cfg:        cfg,
		capability: capability,
		profiles:   profiles,
		notices:    notices,
		state:      StateUninitialized,
	}
}

func (s *Session) Kind() Kind { return s.cfg.Kind }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady reports whether a working session exists.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working != nil
}

// NeedsRecovery reports a root session whose working session was invalidated.
func (s *Session) NeedsRecovery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root != nil && s.working == nil && s.state != StateRotating
}

func (s *Session) warn(msg string) {
	log.Warn("%s", msg)
	if s.notices != nil {
		s.notices.SetWarning(msg)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// resolve reads the profile and applies language fallback, surfacing any
// warnings.
func (s *Session) resolve() (Profile, LanguagePair, bool, error) {
	if s.profiles == nil {
		return Profile{}, LanguagePair{}, false, NewError(ErrAvailability, "no profile provider").
			WithContext("kind", s.cfg.Kind)
	}
	profile, err := s.profiles.Profile(s.cfg.Kind)
	if err != nil {
		return Profile{}, LanguagePair{}, false, NewErrorWithCause(ErrAvailability, "read profile", err).
			WithContext("kind", s.cfg.Kind)
	}

	res := resolveLanguages(s.cfg.Kind, profile, s.capability.SupportedLanguages())
	for _, w := range res.warnings {
		s.warn(w)
	}
	return profile, res.pair, res.ok, nil
}

// CheckAvailability resolves language fallback and asks the capability whether
// the model for the resulting pair can be used.
func (s *Session) CheckAvailability(ctx context.Context) Availability {
	if s.capability == nil {
		s.warn(fmt.Sprintf("%s is not available on this device", s.cfg.Kind))
		s.setState(StateUnavailable)
		return AvailabilityUnavailable
	}

	_, pair, ok, err := s.resolve()
	if err != nil {
		log.Error("Failed to check %s availability: %v", s.cfg.Kind, err)
		s.setState(StateUnavailable)
		return AvailabilityUnavailable
	}
	if !ok {
		s.setState(StateUnavailable)
		return AvailabilityUnavailable
	}

	availability, err := s.capability.Availability(ctx, pair)
	if err != nil {
		log.Error("Failed to check %s availability for %s: %v", s.cfg.Kind, pair, err)
		availability = AvailabilityUnavailable
	}

	switch availability {
	case AvailabilityReady:
		s.setState(StateReady)
	case AvailabilityNeedsDownload:
		s.setState(StateNeedsDownload)
	default:
		s.setState(StateUnavailable)
	}
	log.Info("%s availability for %s: %s", s.cfg.Kind, pair, availability)
	return availability
}

// Download fetches the model when the capability supports it.
func (s *Session) Download(ctx context.Context, progress func(loaded, total int64)) error {
	downloader, ok := s.capability.(Downloader)
	if !ok {
		return NewError(ErrAvailability, "model download not supported").WithContext("kind", s.cfg.Kind)
	}
	if err := downloader.Download(ctx, progress); err != nil {
		return NewErrorWithCause(ErrAvailability, "model download failed", err).WithContext("kind", s.cfg.Kind)
	}
	s.setState(StateReady)
	return nil
}

// Initialize creates the root session and its first working session. It is a
// no-op when a root session exists. Failures are logged and reported as false.
// Concurrent callers share one creation.
func (s *Session) Initialize(ctx context.Context) bool {
	v, _, _ := s.flight.Do("initialize", func() (any, error) {
		return s.initialize(ctx), nil
	})
	return v.(bool)
}

func (s *Session) initialize(ctx context.Context) bool {
	s.mu.Lock()
	hasRoot := s.root != nil
	s.mu.Unlock()
	if hasRoot {
		return true
	}

	if s.capability == nil {
		log.Warn("Cannot initialize %s: capability missing", s.cfg.Kind)
		return false
	}

	profile, pair, ok, err := s.resolve()
	if err != nil {
		log.Error("Failed to initialize %s: %v", s.cfg.Kind, err)
		return false
	}
	if !ok {
		return false
	}

	s.setState(StateInitializing)
	root, err := s.capability.Create(ctx, CreateOptions{
		Kind:         s.cfg.Kind,
		Pair:         pair,
		SystemPrompt: s.systemPrompt(profile, pair),
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	})
	if err != nil {
		log.Error("Failed to initialize %s: %v",
			s.cfg.Kind, NewErrorWithCause(ErrInitialization, "create root session", err).WithContext("pair", pair))
		s.setState(StateReady)
		return false
	}

	s.mu.Lock()
	s.root = root
	s.state = StateInitialized
	s.mu.Unlock()
	log.Info("Created %s root session for %s", s.cfg.Kind, pair)

	return s.ResetSession(ctx)
}

func (s *Session) systemPrompt(profile Profile, pair LanguagePair) string {
	var sb strings.Builder
	instructions := strings.NewReplacer(
		"{source}", LanguageName(pair.Source),
		"{target}", LanguageName(pair.Target),
	).Replace(s.cfg.Instructions)
	sb.WriteString(instructions)
	if extra := strings.TrimSpace(profile.SystemInstructions); extra != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(extra)
	}
	return sb.String()
}

// ResetSession replaces the working session with a fresh clone of the root.
// Without a root session it behaves like Initialize.
func (s *Session) ResetSession(ctx context.Context) bool {
	s.mu.Lock()
	root := s.root
	s.mu.Unlock()
	if root == nil {
		return s.Initialize(ctx)
	}
	return s.rotate(ctx, root, nil)
}

// rotate destroys the working session and clones a new one. When stale is
// set, the rotation is skipped if stale was already replaced by another caller.
func (s *Session) rotate(ctx context.Context, root Handle, stale Handle) bool {
	v, _, _ := s.flight.Do("rotate", func() (any, error) {
		s.mu.Lock()
		if stale != nil && s.working != nil && s.working != stale {
			s.mu.Unlock()
			return true, nil
		}
		// old stays visible until the clone lands so concurrent over-quota
		// callers join this rotation instead of seeing no session
		old := s.working
		s.state = StateRotating
		s.mu.Unlock()

		if old != nil {
			old.Destroy()
		}

		next, err := root.Clone(ctx)
		if err != nil {
			log.Error("Failed to clone %s session: %v", s.cfg.Kind, err)
			s.mu.Lock()
			if s.working == old {
				s.working = nil
			}
			if s.root == root {
				s.state = StateInitialized
			}
			s.mu.Unlock()
			return false, nil
		}

		s.mu.Lock()
		if s.root != root {
			// destroyed while cloning
			s.mu.Unlock()
			next.Destroy()
			return false, nil
		}
		s.working = next
		s.state = StateWorkingReady
		s.mu.Unlock()
		log.Debug("Cloned %s working session", s.cfg.Kind)
		return true, nil
	})
	return v.(bool)
}

// Generate runs text through the working session, rotating it first when its
// usage is above the quota threshold. A failed call invalidates the working
// session unless ctx was cancelled or timed out, which only fails this call.
func (s *Session) Generate(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	root, working := s.root, s.working
	s.mu.Unlock()
	if working == nil {
		return "", NewErrorWithCause(ErrNotInitialized, "generate", ErrSessionNotInitialized).
			WithContext("kind", s.cfg.Kind)
	}

	if s.overQuota(working) {
		log.Info("%s session usage %d/%d above %.2f, rotating",
			s.cfg.Kind, working.InputUsage(), working.InputQuota(), s.cfg.QuotaThreshold)
		s.rotate(ctx, root, working)

		s.mu.Lock()
		working = s.working
		s.mu.Unlock()
		if working == nil {
			return "", NewErrorWithCause(ErrResetFailed, "generate", ErrSessionResetFailed).
				WithContext("kind", s.cfg.Kind)
		}
	}

	out, err := working.Generate(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			s.invalidate(working)
		}
		return "", NewErrorWithCause(ErrGeneration, "generate", err).WithContext("kind", s.cfg.Kind)
	}
	return out, nil
}

func (s *Session) overQuota(h Handle) bool {
	quota := h.InputQuota()
	if quota <= 0 {
		return false
	}
	return float64(h.InputUsage())/float64(quota) > s.cfg.QuotaThreshold
}

// invalidate drops h if it is still the working session.
func (s *Session) invalidate(h Handle) {
	s.mu.Lock()
	if s.working != h {
		s.mu.Unlock()
		return
	}
	s.working = nil
	s.state = StateInitialized
	s.mu.Unlock()

	h.Destroy()
	log.Warn("Invalidated %s working session after a failed generation", s.cfg.Kind)
}

// Destroy releases the working session and then the root session. Calling it
// again is a no-op.
func (s *Session) Destroy() {
	s.mu.Lock()
	root, working := s.root, s.working
	s.root, s.working = nil, nil
	if root != nil || working != nil {
		s.state = StateDestroyed
	}
	s.mu.Unlock()

	if working != nil {
		working.Destroy()
	}
	if root != nil {
		root.Destroy()
		log.Info("Destroyed %s sessions", s.cfg.Kind)
	}
}
