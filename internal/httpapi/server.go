package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/live-sub-enricher/internal/config"
	"github.com/MimeLyc/live-sub-enricher/internal/gate"
	"github.com/MimeLyc/live-sub-enricher/internal/service"
	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
)

// Enricher is the pipeline surface the HTTP API exposes.
type Enricher interface {
	LoadVideo(track *subtitle.Track)
	AddCaptions(segments []subtitle.Segment)
	ClearCaptions()
	Shift(offsetMs int64)
	ChangeProfile(next config.Profiles) error
	Profiles() config.Profiles
	Interact(in gate.Interaction)
	Segments() []subtitle.Segment
	Subscribe(fn subtitle.Listener) func()
	Status() service.Status
}

// PlaybackReporter receives clock reports posted by the player page.
type PlaybackReporter interface {
	SetTime(ms int64)
	SetPlaying(playing bool)
	Seek(ms int64)
}

type Server struct {
	enricher Enricher
	playback PlaybackReporter

	uiEnabled   bool
	uiStaticDir string
	keepAlive   time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

// WithPlayback accepts clock reports on /api/playback.
func WithPlayback(reporter PlaybackReporter) Option {
	return func(s *Server) {
		s.playback = reporter
	}
}

// WithKeepAlive sets the interval of SSE comment pings.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		s.keepAlive = d
	}
}

func NewServer(enricher Enricher, opts ...Option) *Server {
	s := &Server{
		enricher:  enricher,
		uiEnabled: false,
		keepAlive: 15 * time.Second,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/playback", s.handlePlayback)
	s.mux.HandleFunc("/api/captions", s.handleCaptions)
	s.mux.HandleFunc("/api/shift", s.handleShift)
	s.mux.HandleFunc("/api/interaction", s.handleInteraction)
	s.mux.HandleFunc("/api/profile", s.handleProfile)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/segments", s.handleSegments)
	s.mux.HandleFunc("/api/segments/stream", s.handleSegmentStream)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
