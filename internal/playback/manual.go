package playback

import "sync"

// ManualClock is driven from outside, e.g. by reports posted from a player.
type ManualClock struct {
	broadcaster

	mu      sync.RWMutex
	timeMs  int64
	playing bool
	seeking bool
}

func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) CurrentTime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeMs
}

func (c *ManualClock) Playing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playing
}

func (c *ManualClock) Seeking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seeking
}

func (c *ManualClock) Subscribe(fn func(Event)) func() {
	return c.subscribe(fn)
}

// SetTime reports a regular time update.
func (c *ManualClock) SetTime(ms int64) {
	c.mu.Lock()
	c.timeMs = ms
	playing := c.playing
	c.mu.Unlock()
	c.emit(Event{Kind: EventTimeUpdate, TimeMs: ms, Playing: playing})
}

// SetPlaying reports a play or pause transition. Repeated states are ignored.
func (c *ManualClock) SetPlaying(playing bool) {
	c.mu.Lock()
	if c.playing == playing {
		c.mu.Unlock()
		return
	}
	c.playing = playing
	ms := c.timeMs
	c.mu.Unlock()

	kind := EventPause
	if playing {
		kind = EventPlay
	}
	c.emit(Event{Kind: kind, TimeMs: ms, Playing: playing})
}

// Seek reports a seek to ms as a seeking/seeked pair.
func (c *ManualClock) Seek(ms int64) {
	c.mu.Lock()
	c.seeking = true
	playing := c.playing
	c.mu.Unlock()
	c.emit(Event{Kind: EventSeeking, TimeMs: ms, Playing: playing})

	c.mu.Lock()
	c.timeMs = ms
	c.seeking = false
	c.mu.Unlock()
	c.emit(Event{Kind: EventSeeked, TimeMs: ms, Playing: playing})
}
