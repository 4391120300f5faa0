package playback

import (
	"context"
	"sync"
	"time"
)

// SimulatedClock advances with wall time while playing and emits time updates
// on a fixed tick, the way a media element fires timeupdate.
type SimulatedClock struct {
	broadcaster

	tick time.Duration
	rate float64
	now  func() time.Time

	mu        sync.Mutex
	baseMs    int64
	startedAt time.Time
	playing   bool
}

func NewSimulatedClock(tick time.Duration, rate float64) *SimulatedClock {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	if rate <= 0 {
		rate = 1
	}
	return &SimulatedClock{tick: tick, rate: rate, now: time.Now}
}

func (c *SimulatedClock) CurrentTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *SimulatedClock) currentLocked() int64 {
	if !c.playing {
		return c.baseMs
	}
	elapsed := c.now().Sub(c.startedAt)
	return c.baseMs + int64(float64(elapsed.Milliseconds())*c.rate)
}

func (c *SimulatedClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *SimulatedClock) Seeking() bool { return false }

func (c *SimulatedClock) Subscribe(fn func(Event)) func() {
	return c.subscribe(fn)
}

func (c *SimulatedClock) Play() {
	c.mu.Lock()
	if c.playing {
		c.mu.Unlock()
		return
	}
	c.startedAt = c.now()
	c.playing = true
	ms := c.baseMs
	c.mu.Unlock()
	c.emit(Event{Kind: EventPlay, TimeMs: ms, Playing: true})
}

func (c *SimulatedClock) Pause() {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return
	}
	c.baseMs = c.currentLocked()
	c.playing = false
	ms := c.baseMs
	c.mu.Unlock()
	c.emit(Event{Kind: EventPause, TimeMs: ms, Playing: false})
}

func (c *SimulatedClock) Seek(ms int64) {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()
	c.emit(Event{Kind: EventSeeking, TimeMs: ms, Playing: playing})

	c.mu.Lock()
	c.baseMs = ms
	c.startedAt = c.now()
	c.mu.Unlock()
	c.emit(Event{Kind: EventSeeked, TimeMs: ms, Playing: playing})
}

// Run emits time updates until ctx is done.
func (c *SimulatedClock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			playing := c.playing
			ms := c.currentLocked()
			c.mu.Unlock()
			if playing {
				c.emit(Event{Kind: EventTimeUpdate, TimeMs: ms, Playing: true})
			}
		}
	}
}
