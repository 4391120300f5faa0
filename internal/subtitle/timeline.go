package subtitle

import (
	"sort"
	"sync"
)

// ChangeKind describes what a timeline notification is about.
type ChangeKind int

const (
	ChangeReplaced ChangeKind = iota
	ChangeAdded
	ChangeCleared
	ChangeShifted
	ChangeEnriched
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReplaced:
		return "replaced"
	case ChangeAdded:
		return "added"
	case ChangeCleared:
		return "cleared"
	case ChangeShifted:
		return "shifted"
	case ChangeEnriched:
		return "enriched"
	default:
		return "unknown"
	}
}

// Change is delivered to timeline listeners after the list is fully updated.
type Change struct {
	Kind    ChangeKind
	Version uint64
	// Index is the enriched segment for ChangeEnriched, -1 otherwise.
	Index int
}

type Listener func(Change)

// Timeline owns an ordered list of segments sorted by start time. Gaps between
// segments are legal. Every structural change bumps Version so derived values
// can be re-computed on read instead of compared deeply.
type Timeline struct {
	mu       sync.RWMutex
	segments []Segment
	version  uint64

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

func NewTimeline() *Timeline {
	return &Timeline{
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Timeline) Subscribe(fn Listener) func() {
	t.listenerMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.listenerMu.Lock()
			delete(t.listeners, id)
			t.listenerMu.Unlock()
		})
	}
}

func (t *Timeline) notify(c Change) {
	t.listenerMu.Lock()
	fns := make([]Listener, 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listenerMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Replace swaps the whole segment list. Used on video change.
func (t *Timeline) Replace(segments []Segment) {
	next := make([]Segment, len(segments))
	copy(next, segments)
	sortByStart(next)

	t.mu.Lock()
	t.segments = next
	t.version++
	v := t.version
	t.mu.Unlock()

	t.notify(Change{Kind: ChangeReplaced, Version: v, Index: -1})
}

// Add merges segments into the list. Segments whose (start, end, text) already
// exist are skipped, so adding the same payload twice is a no-op apart from the
// version bump.
func (t *Timeline) Add(segments []Segment) {
	t.mu.Lock()
	seen := make(map[Key]struct{}, len(t.segments)+len(segments))
	for _, s := range t.segments {
		seen[s.Key()] = struct{}{}
	}
	merged := make([]Segment, len(t.segments), len(t.segments)+len(segments))
	copy(merged, t.segments)
	for _, s := range segments {
		if _, ok := seen[s.Key()]; ok {
			continue
		}
		seen[s.Key()] = struct{}{}
		merged = append(merged, s)
	}
	sortByStart(merged)
	t.segments = merged
	t.version++
	v := t.version
	t.mu.Unlock()

	t.notify(Change{Kind: ChangeAdded, Version: v, Index: -1})
}

func (t *Timeline) Clear() {
	t.mu.Lock()
	t.segments = nil
	t.version++
	v := t.version
	t.mu.Unlock()

	t.notify(Change{Kind: ChangeCleared, Version: v, Index: -1})
}

// ShiftAll moves every segment by offsetMs. Times are not clamped at zero.
func (t *Timeline) ShiftAll(offsetMs int64) {
	t.mu.Lock()
	for i := range t.segments {
		t.segments[i].Start += offsetMs
		t.segments[i].End += offsetMs
	}
	t.version++
	v := t.version
	t.mu.Unlock()

	t.notify(Change{Kind: ChangeShifted, Version: v, Index: -1})
}

func (t *Timeline) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.segments)
}

// At returns a copy of the segment at index i.
func (t *Timeline) At(i int) (Segment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.segments) {
		return Segment{}, false
	}
	return cloneSegment(t.segments[i]), true
}

// Segments returns a copy of the whole list.
func (t *Timeline) Segments() []Segment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ret := make([]Segment, len(t.segments))
	for i, s := range t.segments {
		ret[i] = cloneSegment(s)
	}
	return ret
}

// ActiveIndex returns the index of the segment with start <= ms < end, or -1.
// Overlapping input is not resolved.
func (t *Timeline) ActiveIndex(ms int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return activeIndex(t.segments, ms)
}

// TargetIndex returns the active index, or during a gap the first segment that
// starts at or after ms, or -1 when nothing remains.
func (t *Timeline) TargetIndex(ms int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return targetIndex(t.segments, ms)
}

// Enrich writes e onto the segment at index when it still carries key. If the
// list changed underneath, the key is looked up instead. It reports whether a
// segment was written.
func (t *Timeline) Enrich(index int, key Key, e Enrichment) bool {
	t.mu.Lock()
	i := index
	if i < 0 || i >= len(t.segments) || t.segments[i].Key() != key {
		i = indexOfKey(t.segments, key)
	}
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	e.apply(&t.segments[i])
	v := t.version
	t.mu.Unlock()

	t.notify(Change{Kind: ChangeEnriched, Version: v, Index: i})
	return true
}

func activeIndex(segments []Segment, ms int64) int {
	// last segment starting at or before ms
	i := sort.Search(len(segments), func(i int) bool { return segments[i].Start > ms }) - 1
	if i < 0 {
		return -1
	}
	if ms < segments[i].End {
		return i
	}
	return -1
}

func targetIndex(segments []Segment, ms int64) int {
	if i := activeIndex(segments, ms); i != -1 {
		return i
	}
	i := sort.Search(len(segments), func(i int) bool { return segments[i].Start >= ms })
	if i >= len(segments) {
		return -1
	}
	return i
}

func indexOfKey(segments []Segment, key Key) int {
	i := sort.Search(len(segments), func(i int) bool { return segments[i].Start >= key.Start })
	for ; i < len(segments) && segments[i].Start == key.Start; i++ {
		if segments[i].Key() == key {
			return i
		}
	}
	return -1
}

func sortByStart(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
}

func cloneSegment(s Segment) Segment {
	if s.Words != nil {
		s.Words = append([]Word(nil), s.Words...)
	}
	return s
}
