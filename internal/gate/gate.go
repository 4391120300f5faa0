package gate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

// Status is the transient availability of one service.
type Status string

const (
	StatusPending          Status = "pending"
	StatusUnavailable      Status = "unavailable"
	StatusNeedsInteraction Status = "needs-interaction"
	StatusDownloading      Status = "downloading"
	StatusReady            Status = "ready"
)

// Service is the session surface the gate drives.
type Service interface {
	Kind() enrich.Kind
	CheckAvailability(ctx context.Context) enrich.Availability
	Download(ctx context.Context, progress func(loaded, total int64)) error
	Initialize(ctx context.Context) bool
}

// ServiceStatus is the reported state of one service.
type ServiceStatus struct {
	Kind     enrich.Kind `json:"kind"`
	Status   Status      `json:"status"`
	Progress int         `json:"progress"`
}

type Option func(*Gate)

// WithOnReady registers fn to run each time a service becomes ready.
func WithOnReady(fn func(enrich.Kind)) Option {
	return func(g *Gate) {
		g.onReady = fn
	}
}

// WithNotices routes download progress to sink.
func WithNotices(sink enrich.NoticeSink) Option {
	return func(g *Gate) {
		g.notices = sink
	}
}

// Gate runs the one-time availability flow for a set of services. Services that
// need a model download wait for a user interaction before downloading.
type Gate struct {
	services     []Service
	interactions Interactions
	notices      enrich.NoticeSink
	onReady      func(enrich.Kind)

	once sync.Once
	wg   sync.WaitGroup

	mu          sync.Mutex
	status      map[enrich.Kind]Status
	progress    map[enrich.Kind]int
	unsubscribe func()
	stopped     bool
}

func New(services []Service, interactions Interactions, opts ...Option) *Gate {
	g := &Gate{
		services:     services,
		interactions: interactions,
		status:       make(map[enrich.Kind]Status),
		progress:     make(map[enrich.Kind]int),
	}
	for _, s := range services {
		g.status[s.Kind()] = StatusPending
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run checks every service once. Ready services are initialized before Run
// returns; downloads continue in the background under ctx.
func (g *Gate) Run(ctx context.Context) {
	g.once.Do(func() {
		g.run(ctx)
	})
}

func (g *Gate) run(ctx context.Context) {
	var mu sync.Mutex
	var needsDownload []Service

	var eg errgroup.Group
	for _, svc := range g.services {
		eg.Go(func() error {
			switch svc.CheckAvailability(ctx) {
			case enrich.AvailabilityReady:
				g.initialize(ctx, svc)
			case enrich.AvailabilityNeedsDownload:
				g.setStatus(svc.Kind(), StatusNeedsInteraction)
				mu.Lock()
				needsDownload = append(needsDownload, svc)
				mu.Unlock()
			default:
				g.setStatus(svc.Kind(), StatusUnavailable)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if len(needsDownload) == 0 {
		return
	}
	if g.interactions == nil {
		log.Warn("No interaction source, %d service(s) cannot download", len(needsDownload))
		return
	}

	var trigger sync.Once
	start := func() {
		trigger.Do(func() {
			g.detach()
			g.startDownloads(ctx, needsDownload)
		})
	}

	// Subscribe before reading Active so an interaction between the two is seen.
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.unsubscribe = g.interactions.Subscribe(func(in Interaction) {
		if in.Activating() {
			start()
		}
	})
	g.mu.Unlock()

	if g.interactions.Active() {
		start()
		return
	}
	log.Info("Waiting for a user interaction to download %d model(s)", len(needsDownload))
}

// detach removes the interaction listener if it is still attached.
func (g *Gate) detach() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Stop detaches the interaction listener and waits for running downloads.
// Downloads observe cancellation through the context given to Run.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
	g.detach()
	g.wg.Wait()
}

func (g *Gate) startDownloads(ctx context.Context, services []Service) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.wg.Add(len(services))
	g.mu.Unlock()

	for _, svc := range services {
		g.setStatus(svc.Kind(), StatusDownloading)
		go func() {
			defer g.wg.Done()
			g.download(ctx, svc)
		}()
	}
}

func (g *Gate) download(ctx context.Context, svc Service) {
	kind := svc.Kind()
	last := -1
	err := svc.Download(ctx, func(loaded, total int64) {
		if total <= 0 {
			return
		}
		pct := int(loaded * 100 / total)
		if pct > 100 {
			pct = 100
		}
		if pct == last {
			return
		}
		last = pct
		g.mu.Lock()
		g.progress[kind] = pct
		g.mu.Unlock()
		msg := fmt.Sprintf("Downloading %s model: %d%%", kind, pct)
		log.Info("%s", msg)
		if g.notices != nil {
			g.notices.SetWarning(msg)
		}
	})
	if err != nil {
		log.Error("Failed to download %s model: %v", kind, err)
		if g.notices != nil {
			g.notices.SetWarning(fmt.Sprintf("%s model download failed", kind))
		}
		g.setStatus(kind, StatusUnavailable)
		return
	}
	g.initialize(ctx, svc)
}

func (g *Gate) initialize(ctx context.Context, svc Service) {
	if !svc.Initialize(ctx) {
		g.setStatus(svc.Kind(), StatusUnavailable)
		return
	}
	g.mu.Lock()
	g.progress[svc.Kind()] = 100
	g.mu.Unlock()
	g.setStatus(svc.Kind(), StatusReady)
	if g.onReady != nil {
		g.onReady(svc.Kind())
	}
}

func (g *Gate) setStatus(kind enrich.Kind, status Status) {
	g.mu.Lock()
	g.status[kind] = status
	g.mu.Unlock()
	log.Debug("%s status: %s", kind, status)
}

// Status returns the state of kind, StatusUnavailable for unknown kinds.
func (g *Gate) Status(kind enrich.Kind) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.status[kind]; ok {
		return s
	}
	return StatusUnavailable
}

// Statuses reports every registered service in registration order.
func (g *Gate) Statuses() []ServiceStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	ret := make([]ServiceStatus, 0, len(g.services))
	for _, svc := range g.services {
		kind := svc.Kind()
		ret = append(ret, ServiceStatus{Kind: kind, Status: g.status[kind], Progress: g.progress[kind]})
	}
	return ret
}

// Wait blocks until background downloads finish.
func (g *Gate) Wait() {
	g.wg.Wait()
}
