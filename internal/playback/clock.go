package playback

import "sync"

// EventKind is the kind of playback notification.
type EventKind int

const (
	EventTimeUpdate EventKind = iota
	EventPlay
	EventPause
	EventSeeking
	EventSeeked
)

func (k EventKind) String() string {
	switch k {
	case EventTimeUpdate:
		return "timeupdate"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventSeeking:
		return "seeking"
	case EventSeeked:
		return "seeked"
	default:
		return "unknown"
	}
}

// Event carries the clock reading at the moment it was emitted.
type Event struct {
	Kind    EventKind
	TimeMs  int64
	Playing bool
}

// Clock is the playback surface the core follows. It is owned by the host.
type Clock interface {
	CurrentTime() int64
	Playing() bool
	Seeking() bool
	Subscribe(fn func(Event)) (unsubscribe func())
}

// broadcaster fans events out to subscribers synchronously.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func (b *broadcaster) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]func(Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *broadcaster) emit(ev Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
