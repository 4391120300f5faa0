package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/live-sub-enricher/internal/config"
	"github.com/MimeLyc/live-sub-enricher/internal/httpapi"
	"github.com/MimeLyc/live-sub-enricher/internal/playback"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

var (
	serveAddr string
	uiDir     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the enrichment API for a browser player",
	Long: `Serve exposes the caption timeline over HTTP. The player page posts its
playback clock, captions and user interactions, and reads enriched segments
from /api/segments or the /api/segments/stream event stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewFromEnv(config.WithHTTPAddr(serveAddr), config.WithProfileFile(profileFile))
		if err != nil {
			return err
		}

		clock := playback.NewManualClock()
		enricher, err := newEnricher(cfg, clock)
		if err != nil {
			return err
		}
		srv := httpapi.NewServer(enricher,
			httpapi.WithPlayback(clock),
			httpapi.WithUI(uiDir, uiDir != ""))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, enricher, srv)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().StringVar(&uiDir, "ui", "", "directory of a player page to serve at /")
}

type lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// runServe starts the pipeline and the HTTP server and blocks until ctx is
// done or the server fails.
func runServe(ctx context.Context, cfg *config.Config, pipeline lifecycle, srv httpServer) error {
	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer pipeline.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
