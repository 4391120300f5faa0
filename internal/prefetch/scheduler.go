package prefetch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

// Session is the part of an enrichment session the scheduler drives.
type Session interface {
	IsReady() bool
	NeedsRecovery() bool
	ResetSession(ctx context.Context) bool
	Generate(ctx context.Context, text string) (string, error)
}

// Snapshot is a point-in-time view of scheduler bookkeeping.
type Snapshot struct {
	Watermark           int  `json:"watermark"`
	HasWatermark        bool `json:"hasWatermark"`
	PendingTranslation  int  `json:"pendingTranslation"`
	PendingInsight      int  `json:"pendingInsight"`
	TranslationInFlight bool `json:"translationInFlight"`
	InsightInFlight     bool `json:"insightInFlight"`
	InsightEnabled      bool `json:"insightEnabled"`
}

type unit struct {
	index int
	key   subtitle.Key
	text  string
}

// Scheduler reacts to target index changes by enriching the segments ahead of
// playback. At most one batch per kind runs at a time. Failed units stay
// pending until the next jump clears the pending sets.
type Scheduler struct {
	cfg        Config
	timeline   *subtitle.Timeline
	translator Session
	insight    Session

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.Mutex
	pending        map[enrich.Kind]map[int]struct{}
	inFlight       map[enrich.Kind]bool
	recovering     map[enrich.Kind]bool
	watermark      int
	hasWatermark   bool
	insightEnabled bool
	stopped        bool
}

// NewScheduler builds a scheduler over timeline. Either session may be nil when
// the service is unavailable.
func NewScheduler(cfg Config, timeline *subtitle.Timeline, translator, insight Session) *Scheduler {
	cfg = cfg.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		timeline:   timeline,
		translator: translator,
		insight:    insight,
		ctx:        ctx,
		cancel:     cancel,
		pending: map[enrich.Kind]map[int]struct{}{
			enrich.KindTranslation: {},
			enrich.KindInsight:     {},
		},
		inFlight:       make(map[enrich.Kind]bool),
		recovering:     make(map[enrich.Kind]bool),
		insightEnabled: cfg.InsightEnabled,
	}
}

// OnTarget handles a new target index. It never blocks on enrichment calls.
func (s *Scheduler) OnTarget(target int) {
	if target < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if s.hasWatermark && abs(target-s.watermark) > s.cfg.JumpThreshold {
		log.Debug("Target jumped %d -> %d, clearing pending sets", s.watermark, target)
		s.clearPendingLocked()
	}
	s.watermark = target
	s.hasWatermark = true

	s.evaluateLocked()
}

// Reset forgets pending work and the watermark. Running batches are not
// cancelled; their results are written back only if their segments remain.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.clearPendingLocked()
	s.hasWatermark = false
	s.watermark = 0
	s.mu.Unlock()
}

// SetInsightEnabled toggles insight generation for future batches.
func (s *Scheduler) SetInsightEnabled(enabled bool) {
	s.mu.Lock()
	s.insightEnabled = enabled
	s.mu.Unlock()
}

// Reevaluate schedules the window at the current watermark again, for example
// after a session became ready.
func (s *Scheduler) Reevaluate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.hasWatermark {
		return
	}
	s.evaluateLocked()
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Watermark:           s.watermark,
		HasWatermark:        s.hasWatermark,
		PendingTranslation:  len(s.pending[enrich.KindTranslation]),
		PendingInsight:      len(s.pending[enrich.KindInsight]),
		TranslationInFlight: s.inFlight[enrich.KindTranslation],
		InsightInFlight:     s.inFlight[enrich.KindInsight],
		InsightEnabled:      s.insightEnabled,
	}
}

// Wait blocks until no batch or recovery is running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop cancels outstanding calls and waits for running batches to settle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Scheduler) clearPendingLocked() {
	for kind := range s.pending {
		s.pending[kind] = make(map[int]struct{})
	}
}

func ready(sess Session) bool {
	return sess != nil && sess.IsReady()
}

func (s *Scheduler) evaluateLocked() {
	s.recoverLocked(enrich.KindTranslation, s.translator)
	s.recoverLocked(enrich.KindInsight, s.insight)

	t := s.watermark
	translatorReady := ready(s.translator)
	insightReady := s.insightEnabled && ready(s.insight)

	var translations, insights []unit
	for i := t; i < t+s.cfg.TranslationWindow; i++ {
		seg, ok := s.timeline.At(i)
		if !ok {
			break
		}
		u := unit{index: i, key: seg.Key(), text: seg.Text}

		if _, pending := s.pending[enrich.KindTranslation][i]; !pending && translatorReady && !seg.HasTranslation() {
			translations = append(translations, u)
		}
		if i < t+s.cfg.InsightWindow && insightReady && !seg.HasInsight() {
			if _, pending := s.pending[enrich.KindInsight][i]; !pending && enrich.IsComplex(seg.Text) {
				insights = append(insights, u)
			}
		}
	}

	if len(translations) > 0 && !s.inFlight[enrich.KindTranslation] {
		s.dispatchLocked(enrich.KindTranslation, translations, s.runTranslationBatch)
	}
	if len(insights) > 0 && !s.inFlight[enrich.KindInsight] {
		s.dispatchLocked(enrich.KindInsight, insights, s.runInsightBatch)
	}
}

func (s *Scheduler) dispatchLocked(kind enrich.Kind, units []unit, run func([]unit)) {
	for _, u := range units {
		s.pending[kind][u.index] = struct{}{}
	}
	s.inFlight[kind] = true
	log.Debug("Dispatching %s batch of %d from index %d", kind, len(units), units[0].index)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run(units)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.inFlight[kind] = false
		if !s.stopped && s.hasWatermark {
			s.evaluateLocked()
		}
	}()
}

// recoverLocked resets a session whose working session was invalidated by a
// failed generation, then re-evaluates the window.
func (s *Scheduler) recoverLocked(kind enrich.Kind, sess Session) {
	if sess == nil || s.recovering[kind] || !sess.NeedsRecovery() {
		return
	}
	s.recovering[kind] = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ok := sess.ResetSession(s.ctx)
		if !ok {
			log.Warn("Failed to recover %s session", kind)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.recovering[kind] = false
		if ok && !s.stopped && s.hasWatermark {
			s.evaluateLocked()
		}
	}()
}

func (s *Scheduler) runTranslationBatch(units []unit) {
	var g errgroup.Group
	var failed atomic.Int32
	for _, u := range units {
		g.Go(func() error {
			out, err := s.runUnit(s.translator, u.text)
			if err != nil {
				failed.Add(1)
				log.Warn("Translation failed for segment %d: %v", u.index, err)
				return nil
			}
			s.timeline.Enrich(u.index, u.key, enrich.ParseTranslation(out))
			return nil
		})
	}
	_ = g.Wait()
	log.Debug("Translation batch settled: %d units, %d failed", len(units), failed.Load())
}

func (s *Scheduler) runInsightBatch(units []unit) {
	failed := 0
	for _, u := range units {
		out, err := s.runUnit(s.insight, u.text)
		if err != nil {
			failed++
			log.Warn("Insight failed for segment %d: %v", u.index, err)
			continue
		}
		s.timeline.Enrich(u.index, u.key, enrich.ParseInsight(out))
	}
	log.Debug("Insight batch settled: %d units, %d failed", len(units), failed)
}

// runUnit races one generation against the task timeout. A call that ignores
// its context is abandoned when the timer fires but still holds Stop and Wait
// until it returns.
func (s *Scheduler) runUnit(sess Session, text string) (string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, err := sess.Generate(ctx, text)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return "", enrich.NewErrorWithCause(enrich.ErrTimeout, "enrichment unit timed out", ctx.Err()).
			WithContext("timeout", s.cfg.TaskTimeout)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
