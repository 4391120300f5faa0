package subtitle

import "sync"

// Tracker remembers the last playback time and re-derives the active and target
// indices whenever either the time or the timeline version moved. Readers never
// cache indices across timeline changes; they ask the tracker again.
type Tracker struct {
	timeline *Timeline

	mu      sync.Mutex
	timeMs  int64
	hasTime bool
	version uint64
	valid   bool
	active  int
	target  int
}

func NewTracker(timeline *Timeline) *Tracker {
	return &Tracker{
		timeline: timeline,
		active:   -1,
		target:   -1,
	}
}

// SetTime records the playback time.
func (t *Tracker) SetTime(ms int64) {
	t.mu.Lock()
	if !t.hasTime || t.timeMs != ms {
		t.timeMs = ms
		t.hasTime = true
		t.valid = false
	}
	t.mu.Unlock()
}

func (t *Tracker) Time() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeMs
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked()
	return t.active
}

func (t *Tracker) Target() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked()
	return t.target
}

func (t *Tracker) refreshLocked() {
	v := t.timeline.Version()
	if t.valid && v == t.version {
		return
	}
	if !t.hasTime {
		t.active, t.target = -1, -1
	} else {
		t.timeline.mu.RLock()
		t.active = activeIndex(t.timeline.segments, t.timeMs)
		t.target = targetIndex(t.timeline.segments, t.timeMs)
		v = t.timeline.version
		t.timeline.mu.RUnlock()
	}
	t.version = v
	t.valid = true
}
