package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-sub-enricher/internal/config"
	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
	"github.com/MimeLyc/live-sub-enricher/internal/gate"
	"github.com/MimeLyc/live-sub-enricher/internal/playback"
	"github.com/MimeLyc/live-sub-enricher/internal/prefetch"
	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
	"github.com/MimeLyc/live-sub-enricher/pkg/icron"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

const noTarget = -2

// Options configures an Enricher.
type Options struct {
	Clock            playback.Clock
	Capability       enrich.Capability // nil when no model backend is configured
	Profiles         *config.ProfileStore
	Scheduler        prefetch.Config
	ActivationWindow time.Duration
	StatusCron       string // empty disables the status report
}

// ServiceState is the combined gate and session view of one service.
type ServiceState struct {
	Kind     enrich.Kind `json:"kind"`
	Status   gate.Status `json:"status"`
	Progress int         `json:"progress"`
	Session  string      `json:"session"`
}

// Status is a snapshot of the whole pipeline.
type Status struct {
	TimeMs         int64             `json:"timeMs"`
	Playing        bool              `json:"playing"`
	ActiveIndex    int               `json:"activeIndex"`
	TargetIndex    int               `json:"targetIndex"`
	Segments       int               `json:"segments"`
	Version        uint64            `json:"version"`
	SourceLanguage string            `json:"sourceLanguage"`
	Services       []ServiceState    `json:"services"`
	Prefetch       prefetch.Snapshot `json:"prefetch"`
	Notices        []Notice          `json:"notices"`
	NextReport     *time.Time        `json:"nextReport,omitempty"`
}

// Enricher follows the playback clock over a caption timeline and keeps the
// segments ahead of playback translated and explained. Sessions, the gate and
// the scheduler are rebuilt on every activation (video or profile change).
type Enricher struct {
	opts         Options
	clock        playback.Clock
	timeline     *subtitle.Timeline
	tracker      *subtitle.Tracker
	profiles     *config.ProfileStore
	notices      *Notices
	interactions *gate.ActivationTracker
	cron         *cron.Cron
	flight       singleflight.Group

	activateMu sync.Mutex

	mu         sync.Mutex
	baseCtx    context.Context
	cancel     context.CancelFunc
	genCancel  context.CancelFunc
	translator *enrich.Session
	insight    *enrich.Session
	scheduler  *prefetch.Scheduler
	gate       *gate.Gate
	lastTarget int
	language   language.Tag
	unsubs     []func()
	started    bool
}

func New(opts Options) (*Enricher, error) {
	if opts.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}

	timeline := subtitle.NewTimeline()
	return &Enricher{
		opts:         opts,
		clock:        opts.Clock,
		timeline:     timeline,
		tracker:      subtitle.NewTracker(timeline),
		profiles:     opts.Profiles,
		notices:      NewNotices(),
		interactions: gate.NewActivationTracker(opts.ActivationWindow),
		cron:         cron.New(),
		lastTarget:   noTarget,
		language:     language.Und,
	}, nil
}

// Start subscribes to the clock and timeline, schedules the status reporter
// and runs the first activation.
func (e *Enricher) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.baseCtx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if e.opts.StatusCron != "" {
		if _, err := e.cron.AddFunc(e.opts.StatusCron, e.reportStatus); err != nil {
			return fmt.Errorf("invalid status schedule: %w", err)
		}
		e.cron.Start()
		if info, err := icron.GetTriggerInfo(e.opts.StatusCron, time.Now()); err == nil {
			log.Info("Status reports every %s, next in %s", info.Period, info.TimeUntilNext.Round(time.Second))
		}
	}

	unsubClock := e.clock.Subscribe(e.onClock)
	unsubTimeline := e.timeline.Subscribe(e.onTimeline)
	e.mu.Lock()
	e.unsubs = append(e.unsubs, unsubClock, unsubTimeline)
	e.mu.Unlock()

	e.activate(nil)
	return nil
}

// Stop tears everything down. The Enricher cannot be restarted.
func (e *Enricher) Stop() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	<-e.cron.Stop().Done()

	e.activateMu.Lock()
	e.teardown()
	e.activateMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// LoadVideo replaces the captions with track and re-activates the services.
// An undetermined track language is detected from the caption text.
func (e *Enricher) LoadVideo(track *subtitle.Track) {
	lang := track.Language
	if lang == language.Und {
		lang = subtitle.DetectLanguage(track.Segments)
	}
	e.profiles.SetDetectedSource(lang)
	e.mu.Lock()
	e.language = lang
	e.mu.Unlock()

	log.Info("Loading %d caption segments (%s, %s)", len(track.Segments), track.Format, lang)
	e.activate(func() {
		e.timeline.Replace(track.Segments)
	})
}

// AddCaptions merges segments into the current timeline.
func (e *Enricher) AddCaptions(segments []subtitle.Segment) {
	e.timeline.Add(segments)
}

// ClearCaptions empties the timeline.
func (e *Enricher) ClearCaptions() {
	e.timeline.Clear()
}

// Shift moves every caption by offsetMs.
func (e *Enricher) Shift(offsetMs int64) {
	e.timeline.ShiftAll(offsetMs)
}

// ChangeProfile stores next and re-activates the services with it.
func (e *Enricher) ChangeProfile(next config.Profiles) error {
	if _, err := e.profiles.Update(next); err != nil {
		return err
	}
	log.Info("Profile changed, reactivating services")
	e.activate(nil)
	return nil
}

// Profiles returns the current enrichment profiles.
func (e *Enricher) Profiles() config.Profiles {
	return e.profiles.Profiles()
}

// Interact feeds a user interaction to the availability gate.
func (e *Enricher) Interact(in gate.Interaction) {
	e.interactions.Dispatch(in)
}

// Segments returns a copy of the timeline.
func (e *Enricher) Segments() []subtitle.Segment {
	return e.timeline.Segments()
}

// Subscribe registers fn for timeline changes, enrichment write-backs included.
func (e *Enricher) Subscribe(fn subtitle.Listener) func() {
	return e.timeline.Subscribe(fn)
}

// Timeline exposes the underlying timeline.
func (e *Enricher) Timeline() *subtitle.Timeline {
	return e.timeline
}

// Tracker exposes the active/target tracker.
func (e *Enricher) Tracker() *subtitle.Tracker {
	return e.tracker
}

// Wait blocks until the current gate downloads and scheduler batches settle.
func (e *Enricher) Wait() {
	e.mu.Lock()
	g, sched := e.gate, e.scheduler
	e.mu.Unlock()
	if g != nil {
		g.Wait()
	}
	if sched != nil {
		sched.Wait()
	}
}

func (e *Enricher) Status() Status {
	e.mu.Lock()
	g, sched := e.gate, e.scheduler
	sessions := map[enrich.Kind]*enrich.Session{
		enrich.KindTranslation: e.translator,
		enrich.KindInsight:     e.insight,
	}
	lang := e.language
	e.mu.Unlock()

	st := Status{
		TimeMs:         e.clock.CurrentTime(),
		Playing:        e.clock.Playing(),
		ActiveIndex:    e.tracker.Active(),
		TargetIndex:    e.tracker.Target(),
		Segments:       e.timeline.Len(),
		Version:        e.timeline.Version(),
		SourceLanguage: lang.String(),
		Notices:        e.notices.Recent(),
	}
	if sched != nil {
		st.Prefetch = sched.Snapshot()
	}
	if e.opts.StatusCron != "" {
		if info, err := icron.GetTriggerInfo(e.opts.StatusCron, time.Now()); err == nil {
			st.NextReport = &info.Next
		}
	}
	for _, kind := range []enrich.Kind{enrich.KindTranslation, enrich.KindInsight} {
		state := ServiceState{Kind: kind, Status: gate.StatusPending, Session: enrich.StateUninitialized.String()}
		if g != nil {
			state.Status = g.Status(kind)
		}
		if s := sessions[kind]; s != nil {
			state.Session = s.State().String()
		}
		st.Services = append(st.Services, state)
	}
	if g != nil {
		for i, gs := range g.Statuses() {
			st.Services[i].Progress = gs.Progress
		}
	}
	return st
}

// activate tears down the current sessions, runs between (if set) while
// nothing is scheduled, then builds and starts a new generation.
func (e *Enricher) activate(between func()) {
	e.activateMu.Lock()
	defer e.activateMu.Unlock()

	e.teardown()
	if between != nil {
		between()
	}

	e.mu.Lock()
	base := e.baseCtx
	e.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(base)

	translator := enrich.NewSession(enrich.TranslationConfig(), e.opts.Capability, e.profiles, e.notices)
	insight := enrich.NewSession(enrich.InsightConfig(), e.opts.Capability, e.profiles, e.notices)

	cfg := e.opts.Scheduler
	cfg.InsightEnabled = cfg.InsightEnabled && e.profiles.Profiles().InsightEnabled
	sched := prefetch.NewScheduler(cfg, e.timeline, translator, insight)

	g := gate.New([]gate.Service{translator, insight}, e.interactions,
		gate.WithNotices(e.notices),
		gate.WithOnReady(func(kind enrich.Kind) {
			log.Info("%s is ready", kind)
			sched.Reevaluate()
		}))

	e.mu.Lock()
	e.genCancel = cancel
	e.translator, e.insight = translator, insight
	e.scheduler, e.gate = sched, g
	e.lastTarget = noTarget
	e.mu.Unlock()

	g.Run(ctx)
	e.pushTarget(true)
}

// teardown destroys the current generation. Callers hold activateMu.
func (e *Enricher) teardown() {
	e.mu.Lock()
	translator, insight := e.translator, e.insight
	sched, g := e.scheduler, e.gate
	cancel := e.genCancel
	e.translator, e.insight, e.scheduler, e.gate = nil, nil, nil, nil
	e.genCancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g != nil {
		g.Stop()
	}
	if sched != nil {
		sched.Stop()
	}
	if translator != nil {
		translator.Destroy()
	}
	if insight != nil {
		insight.Destroy()
	}
}

func (e *Enricher) onClock(ev playback.Event) {
	e.tracker.SetTime(ev.TimeMs)
	e.pushTarget(false)
}

func (e *Enricher) onTimeline(c subtitle.Change) {
	switch c.Kind {
	case subtitle.ChangeEnriched:
		return
	case subtitle.ChangeCleared:
		e.mu.Lock()
		sched := e.scheduler
		e.mu.Unlock()
		if sched != nil {
			sched.Reset()
		}
	}
	// indices may have moved under an unchanged time
	e.pushTarget(true)
}

// pushTarget forwards the tracker's target to the scheduler when it changed,
// or unconditionally when force is set.
func (e *Enricher) pushTarget(force bool) {
	target := e.tracker.Target()

	e.mu.Lock()
	sched := e.scheduler
	changed := force || target != e.lastTarget
	e.lastTarget = target
	e.mu.Unlock()

	if sched != nil && changed {
		sched.OnTarget(target)
	}
}

func (e *Enricher) reportStatus() {
	_, _, _ = e.flight.Do("status", func() (any, error) {
		st := e.Status()
		services := ""
		for _, s := range st.Services {
			services += fmt.Sprintf(" %s=%s/%s", s.Kind, s.Status, s.Session)
		}
		log.Info("Status: t=%dms active=%d target=%d segments=%d pending=%d/%d%s",
			st.TimeMs, st.ActiveIndex, st.TargetIndex, st.Segments,
			st.Prefetch.PendingTranslation, st.Prefetch.PendingInsight, services)
		return nil, nil
	})
}
