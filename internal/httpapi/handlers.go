package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/MimeLyc/live-sub-enricher/internal/config"
	"github.com/MimeLyc/live-sub-enricher/internal/gate"
	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
)

type playbackRequest struct {
	TimeMs  *int64 `json:"timeMs"`
	Playing *bool  `json:"playing"`
	Seek    bool   `json:"seek"`
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.playback == nil {
		writeError(w, http.StatusNotImplemented, "playback is driven locally")
		return
	}

	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.TimeMs == nil && req.Playing == nil {
		writeError(w, http.StatusBadRequest, "timeMs or playing is required")
		return
	}
	if req.TimeMs != nil && *req.TimeMs < 0 {
		writeError(w, http.StatusBadRequest, "timeMs must not be negative")
		return
	}

	if req.Playing != nil {
		s.playback.SetPlaying(*req.Playing)
	}
	if req.TimeMs != nil {
		if req.Seek {
			s.playback.Seek(*req.TimeMs)
		} else {
			s.playback.SetTime(*req.TimeMs)
		}
	}
	writeJSON(w, http.StatusOK, s.enricher.Status())
}

// captionsRequest carries either a raw SRT or json3 document in Content or
// decoded Segments; Content wins. Mode is "replace" (default) or "add".
type captionsRequest struct {
	Mode     string             `json:"mode"`
	Language string             `json:"language"`
	Content  string             `json:"content"`
	Segments []subtitle.Segment `json:"segments"`
}

func (req captionsRequest) track() (*subtitle.Track, error) {
	track := &subtitle.Track{Segments: req.Segments, Language: language.Und, Format: "JSON"}
	if strings.TrimSpace(req.Content) != "" {
		parsed, err := subtitle.ReadBytes([]byte(req.Content))
		if err != nil {
			return nil, err
		}
		track = parsed
	}
	if req.Language != "" {
		tag, err := language.Parse(req.Language)
		if err != nil {
			return nil, fmt.Errorf("invalid language %q: %w", req.Language, err)
		}
		track.Language = tag
	}
	for i, seg := range track.Segments {
		if seg.End < seg.Start {
			return nil, fmt.Errorf("segment %d ends before it starts", i)
		}
	}
	return track, nil
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.enricher.Segments())
	case http.MethodPost:
		var req captionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		track, err := req.track()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		switch req.Mode {
		case "", "replace":
			s.enricher.LoadVideo(track)
		case "add":
			s.enricher.AddCaptions(track.Segments)
		default:
			writeError(w, http.StatusBadRequest, "mode must be replace or add")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"segments": len(track.Segments),
			"status":   s.enricher.Status(),
		})
	case http.MethodDelete:
		s.enricher.ClearCaptions()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type shiftRequest struct {
	OffsetMs int64 `json:"offsetMs"`
}

func (s *Server) handleShift(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req shiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.enricher.Shift(req.OffsetMs)
	writeJSON(w, http.StatusOK, s.enricher.Status())
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req gate.Interaction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	s.enricher.Interact(req)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"activating": req.Activating(),
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.enricher.Profiles())
	case http.MethodPut:
		var req config.Profiles
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.enricher.ChangeProfile(req); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.enricher.Profiles())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.enricher.Status())
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.enricher.Segments())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
