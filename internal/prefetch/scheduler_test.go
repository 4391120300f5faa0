package prefetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
)

type fakeSession struct {
	ready    atomic.Bool
	recovery atomic.Bool
	resets   atomic.Int32

	generate func(ctx context.Context, text string) (string, error)

	mu          sync.Mutex
	calls       map[string]int
	order       []string
	running     int
	maxParallel int
}

func newFakeSession(generate func(ctx context.Context, text string) (string, error)) *fakeSession {
	s := &fakeSession{generate: generate, calls: make(map[string]int)}
	s.ready.Store(true)
	return s
}

func echo(prefix string) func(context.Context, string) (string, error) {
	return func(_ context.Context, text string) (string, error) {
		return prefix + text, nil
	}
}

func (s *fakeSession) IsReady() bool       { return s.ready.Load() }
func (s *fakeSession) NeedsRecovery() bool { return s.recovery.Load() }

func (s *fakeSession) ResetSession(context.Context) bool {
	s.resets.Add(1)
	s.recovery.Store(false)
	s.ready.Store(true)
	return true
}

func (s *fakeSession) Generate(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	s.calls[text]++
	s.order = append(s.order, text)
	s.running++
	if s.running > s.maxParallel {
		s.maxParallel = s.running
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()
	return s.generate(ctx, text)
}

func (s *fakeSession) callCount(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

func (s *fakeSession) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// buildTimeline creates n one-second segments. Even indices carry text long
// enough to need insight.
func buildTimeline(n int) *subtitle.Timeline {
	segments := make([]subtitle.Segment, n)
	for i := range segments {
		text := fmt.Sprintf("s%d", i)
		if i%2 == 0 {
			text = fmt.Sprintf("line %d has several words", i)
		}
		segments[i] = subtitle.Segment{Start: int64(i) * 1000, End: int64(i)*1000 + 900, Text: text}
	}
	tl := subtitle.NewTimeline()
	tl.Replace(segments)
	return tl
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TaskTimeout = time.Second
	return cfg
}

func translated(tl *subtitle.Timeline) []int {
	var idx []int
	for i, seg := range tl.Segments() {
		if seg.HasTranslation() {
			idx = append(idx, i)
		}
	}
	return idx
}

func TestScheduler_TranslatesWindow(t *testing.T) {
	tl := buildTimeline(15)
	translator := newFakeSession(echo("T:"))
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	s.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, translated(tl))
	seg, _ := tl.At(1)
	assert.Equal(t, "T:s1", seg.Translation)
	assert.Equal(t, 10, translator.totalCalls())

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Watermark)
	assert.Equal(t, 10, snap.PendingTranslation)
	assert.False(t, snap.TranslationInFlight)
}

func TestScheduler_InsightWindowComplexityAndOrder(t *testing.T) {
	tl := buildTimeline(15)
	translator := newFakeSession(echo("T:"))
	insight := newFakeSession(func(_ context.Context, text string) (string, error) {
		return `{"insight":"note on ` + text + `","literal":"lit"}`, nil
	})
	s := NewScheduler(testConfig(), tl, translator, insight)
	defer s.Stop()

	s.OnTarget(0)
	s.Wait()

	assert.Equal(t, []string{
		"line 0 has several words",
		"line 2 has several words",
		"line 4 has several words",
	}, insight.order)
	assert.Equal(t, 1, insight.maxParallel, "insight units run serially")

	seg, _ := tl.At(2)
	assert.Equal(t, "note on line 2 has several words", seg.Insight)
	assert.Equal(t, "lit", seg.LiteralTranslation)
	seg, _ = tl.At(1)
	assert.Empty(t, seg.Insight, "trivial text is skipped")
	seg, _ = tl.At(6)
	assert.Empty(t, seg.Insight, "outside the insight window")
}

func TestScheduler_TranslationUnitsRunConcurrently(t *testing.T) {
	tl := buildTimeline(10)
	var started sync.WaitGroup
	started.Add(10)
	release := make(chan struct{})
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		started.Done()
		<-release
		return "T:" + text, nil
	})
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	started.Wait() // every unit is running at once
	close(release)
	s.Wait()

	assert.Equal(t, 10, translator.maxParallel)
}

func TestScheduler_OneBatchPerKind(t *testing.T) {
	tl := buildTimeline(20)
	release := make(chan struct{})
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		<-release
		return "T:" + text, nil
	})
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	s.OnTarget(1)
	s.OnTarget(2)
	require.Eventually(t, func() bool { return translator.totalCalls() == 10 }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.True(t, snap.TranslationInFlight)
	assert.Equal(t, 2, snap.Watermark)
	assert.Equal(t, 10, translator.totalCalls(), "no second batch while one is in flight")

	close(release)
	s.Wait()

	// the settled batch re-evaluates at watermark 2, picking up 10 and 11
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, translated(tl))
	assert.Equal(t, 12, translator.totalCalls())
}

func TestScheduler_FailedUnitStaysPendingUntilJump(t *testing.T) {
	tl := buildTimeline(30)
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		if text == "s3" {
			return "", errors.New("model error")
		}
		return "T:" + text, nil
	})
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	s.Wait()
	seg, _ := tl.At(3)
	assert.Empty(t, seg.Translation)
	assert.Equal(t, 1, translator.callCount("s3"))

	// small step: index 3 is still pending and is not retried
	s.OnTarget(2)
	s.Wait()
	assert.Equal(t, 1, translator.callCount("s3"))

	// jump away and back clears the pending sets
	s.OnTarget(20)
	s.Wait()
	s.OnTarget(2)
	s.Wait()
	assert.Equal(t, 2, translator.callCount("s3"))
}

func TestScheduler_JumpClearsPendingSets(t *testing.T) {
	tl := buildTimeline(40)
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		return "", errors.New("offline")
	})
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	s.Wait()
	assert.Equal(t, 10, s.Snapshot().PendingTranslation)

	s.OnTarget(5) // exactly the threshold is not a jump
	s.Wait()
	assert.Equal(t, 15, s.Snapshot().PendingTranslation)

	s.OnTarget(25)
	s.Wait()
	assert.Equal(t, 10, s.Snapshot().PendingTranslation)
	assert.Equal(t, 25, s.Snapshot().Watermark)
}

func TestScheduler_TimeoutIsolatesUnit(t *testing.T) {
	tl := buildTimeline(4)
	stuck := make(chan struct{})
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		if text == "s1" {
			<-stuck // ignores its context
			return "late", nil
		}
		return "T:" + text, nil
	})
	cfg := testConfig()
	cfg.TaskTimeout = 30 * time.Millisecond
	s := NewScheduler(cfg, tl, translator, nil)

	s.OnTarget(0)
	require.Eventually(t, func() bool {
		return !s.Snapshot().TranslationInFlight && len(translated(tl)) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 2, 3}, translated(tl))

	close(stuck)
	s.Wait()
	assert.Equal(t, []int{0, 2, 3}, translated(tl), "a late result is dropped")
}

func TestScheduler_StopWaitsForAbandonedCall(t *testing.T) {
	tl := buildTimeline(1)
	stuck := make(chan struct{})
	var returned atomic.Bool
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		<-stuck // ignores its context
		returned.Store(true)
		return "late", nil
	})
	cfg := testConfig()
	cfg.TaskTimeout = 10 * time.Millisecond
	s := NewScheduler(cfg, tl, translator, nil)

	s.OnTarget(0)
	require.Eventually(t, func() bool { return !s.Snapshot().TranslationInFlight }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a generation was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(stuck)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the generation finished")
	}
	assert.True(t, returned.Load())
	assert.Empty(t, translated(tl))
}

func TestScheduler_TimeoutReturnsTypedError(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = 10 * time.Millisecond
	s := NewScheduler(cfg, subtitle.NewTimeline(), nil, nil)
	defer s.Stop()

	sess := newFakeSession(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return "", ctx.Err()
	})
	_, err := s.runUnit(sess, "x")
	require.Error(t, err)
	assert.True(t, enrich.IsErrorType(err, enrich.ErrTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_SkipsUnreadyAndDisabled(t *testing.T) {
	tl := buildTimeline(10)
	translator := newFakeSession(echo("T:"))
	translator.ready.Store(false)
	insight := newFakeSession(echo("I:"))
	cfg := testConfig()
	cfg.InsightEnabled = false
	s := NewScheduler(cfg, tl, translator, insight)
	defer s.Stop()

	s.OnTarget(-1)
	assert.False(t, s.Snapshot().HasWatermark)

	s.OnTarget(0)
	s.Wait()
	assert.Zero(t, translator.totalCalls())
	assert.Zero(t, insight.totalCalls())

	translator.ready.Store(true)
	s.SetInsightEnabled(true)
	s.Reevaluate()
	s.Wait()
	assert.Equal(t, 10, translator.totalCalls())
	assert.Equal(t, 3, insight.totalCalls())
}

func TestScheduler_RecoversInvalidatedSession(t *testing.T) {
	tl := buildTimeline(3)
	translator := newFakeSession(echo("T:"))
	translator.ready.Store(false)
	translator.recovery.Store(true)
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	s.Wait()

	assert.Equal(t, int32(1), translator.resets.Load())
	assert.Equal(t, []int{0, 1, 2}, translated(tl))
}

func TestScheduler_ResetForgetsWatermark(t *testing.T) {
	tl := buildTimeline(20)
	translator := newFakeSession(echo("T:"))
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	s.Wait()
	s.Reset()
	snap := s.Snapshot()
	assert.False(t, snap.HasWatermark)
	assert.Zero(t, snap.PendingTranslation)

	// a far target after reset is not a jump, just a first target
	s.OnTarget(10)
	s.Wait()
	assert.Len(t, translated(tl), 20)
}

func TestScheduler_WritesBackAfterTimelineGrows(t *testing.T) {
	tl := buildTimeline(3)
	release := make(chan struct{})
	translator := newFakeSession(func(_ context.Context, text string) (string, error) {
		<-release
		return "T:" + text, nil
	})
	s := NewScheduler(testConfig(), tl, translator, nil)
	defer s.Stop()

	s.OnTarget(0)
	require.Eventually(t, func() bool { return translator.totalCalls() == 3 }, time.Second, 5*time.Millisecond)

	// an earlier segment shifts every index by one while the batch runs
	tl.Add([]subtitle.Segment{{Start: -2000, End: -1000, Text: "intro"}})
	close(release)
	s.Wait()

	for _, seg := range tl.Segments() {
		if seg.Text == "intro" {
			continue
		}
		assert.True(t, strings.HasPrefix(seg.Translation, "T:"+seg.Text), seg.Text)
	}
}

func TestScheduler_StopPreventsNewWork(t *testing.T) {
	tl := buildTimeline(5)
	translator := newFakeSession(echo("T:"))
	s := NewScheduler(testConfig(), tl, translator, nil)

	s.Stop()
	s.OnTarget(0)
	s.Wait()
	assert.Zero(t, translator.totalCalls())
	s.Stop()
}
