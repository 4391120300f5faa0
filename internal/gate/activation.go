package gate

import (
	"sync"
	"time"
)

// Interaction kinds reported by the host page.
const (
	PointerDown = "pointerdown"
	PointerUp   = "pointerup"
	MouseDown   = "mousedown"
	TouchStart  = "touchstart"
	TouchEnd    = "touchend"
	KeyDown     = "keydown"
)

var activatingKinds = map[string]struct{}{
	PointerDown: {},
	PointerUp:   {},
	MouseDown:   {},
	TouchStart:  {},
	TouchEnd:    {},
	KeyDown:     {},
}

// Interaction is one user input event.
type Interaction struct {
	Kind string `json:"kind"`
	Key  string `json:"key,omitempty"`
}

// Activating reports whether the interaction counts as a user gesture.
// Escape key presses do not.
func (i Interaction) Activating() bool {
	if _, ok := activatingKinds[i.Kind]; !ok {
		return false
	}
	return !(i.Kind == KeyDown && i.Key == "Escape")
}

// Interactions is the host's user-input surface.
type Interactions interface {
	Subscribe(fn func(Interaction)) (unsubscribe func())
	// Active reports whether a user gesture happened recently enough to
	// start a download right away.
	Active() bool
}

// DefaultActivationWindow is how long a gesture keeps the tracker active.
const DefaultActivationWindow = 5 * time.Second

// ActivationTracker records interactions dispatched by the host and fans them
// out to subscribers.
type ActivationTracker struct {
	window time.Duration
	now    func() time.Time

	mu         sync.Mutex
	lastActive time.Time
	subs       map[int]func(Interaction)
	nextID     int
}

func NewActivationTracker(window time.Duration) *ActivationTracker {
	if window <= 0 {
		window = DefaultActivationWindow
	}
	return &ActivationTracker{
		window: window,
		now:    time.Now,
		subs:   make(map[int]func(Interaction)),
	}
}

// Dispatch records in and notifies subscribers.
func (t *ActivationTracker) Dispatch(in Interaction) {
	t.mu.Lock()
	if in.Activating() {
		t.lastActive = t.now()
	}
	fns := make([]func(Interaction), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(in)
	}
}

func (t *ActivationTracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.lastActive.IsZero() && t.now().Sub(t.lastActive) < t.window
}

func (t *ActivationTracker) Subscribe(fn func(Interaction)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Subscribers returns how many listeners are attached.
func (t *ActivationTracker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
