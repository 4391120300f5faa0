package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
)

type segmentEvent struct {
	Change   string             `json:"change"`
	Version  uint64             `json:"version"`
	Index    int                `json:"index"`
	Segments []subtitle.Segment `json:"segments,omitempty"`
	Segment  *subtitle.Segment  `json:"segment,omitempty"`
}

// handleSegmentStream pushes the full list on connect and on structural
// changes, and single segments on enrichment write-backs.
func (s *Server) handleSegmentStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	changes := make(chan subtitle.Change, 64)
	unsubscribe := s.enricher.Subscribe(func(c subtitle.Change) {
		select {
		case changes <- c:
		default:
			// slow client; it gets a full list on the next structural change
		}
	})
	defer unsubscribe()

	send := func(ev segmentEvent) bool {
		payload, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Change, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(segmentEvent{Change: "snapshot", Index: -1, Segments: s.enricher.Segments()}) {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case c := <-changes:
			ev := segmentEvent{Change: c.Kind.String(), Version: c.Version, Index: c.Index}
			segments := s.enricher.Segments()
			if c.Kind == subtitle.ChangeEnriched {
				if c.Index < 0 || c.Index >= len(segments) {
					continue
				}
				seg := segments[c.Index]
				ev.Segment = &seg
			} else {
				ev.Segments = segments
			}
			if !send(ev) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
