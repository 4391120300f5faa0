package service

import (
	"sync"
	"time"
)

const maxNotices = 20

// Notice is one user-facing warning.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notices keeps the most recent warnings for the status endpoint.
type Notices struct {
	mu      sync.Mutex
	entries []Notice
	now     func() time.Time
}

func NewNotices() *Notices {
	return &Notices{now: time.Now}
}

// SetWarning implements enrich.NoticeSink.
func (n *Notices) SetWarning(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, Notice{Message: msg, At: n.now()})
	if len(n.entries) > maxNotices {
		n.entries = n.entries[len(n.entries)-maxNotices:]
	}
}

// Recent returns the kept warnings, oldest first.
func (n *Notices) Recent() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	ret := make([]Notice, len(n.entries))
	copy(ret, n.entries)
	return ret
}

// Latest returns the newest warning message or "".
func (n *Notices) Latest() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.entries) == 0 {
		return ""
	}
	return n.entries[len(n.entries)-1].Message
}
