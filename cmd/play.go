package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/live-sub-enricher/internal/config"
	"github.com/MimeLyc/live-sub-enricher/internal/gate"
	"github.com/MimeLyc/live-sub-enricher/internal/playback"
	"github.com/MimeLyc/live-sub-enricher/internal/service"
	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
	"github.com/MimeLyc/live-sub-enricher/pkg/file"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

var (
	playRate  float64
	playTick  time.Duration
	playStart time.Duration
	playOut   string
	playSave  bool
)

var playCmd = &cobra.Command{
	Use:   "play <caption-file>",
	Short: "Play a caption file against a simulated clock",
	Long: `Play loads an SRT or json3 caption file and advances a simulated playback
clock over it, printing each segment as it becomes active together with its
translation and insight. Model downloads are allowed immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewFromEnv(config.WithProfileFile(profileFile))
		if err != nil {
			return err
		}
		track, err := subtitle.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(track.Segments) == 0 {
			return fmt.Errorf("%s has no caption segments", args[0])
		}

		clock := playback.NewSimulatedClock(playTick, playRate)
		enricher, err := newEnricher(cfg, clock)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runPlay(ctx, enricher, clock, track, cmd.OutOrStdout()); err != nil {
			return err
		}
		if out := outputPath(args[0]); out != "" {
			return writeEnriched(out, enricher.Segments())
		}
		return nil
	},
}

func init() {
	playCmd.Flags().Float64Var(&playRate, "rate", 1, "playback rate")
	playCmd.Flags().DurationVar(&playTick, "tick", 250*time.Millisecond, "time update interval")
	playCmd.Flags().DurationVar(&playStart, "start", 0, "start position")
	playCmd.Flags().StringVarP(&playOut, "out", "o", "", "write the enriched captions as SRT")
	playCmd.Flags().BoolVar(&playSave, "save", false, "write <name>.enriched.srt next to the input")
}

func outputPath(input string) string {
	if playOut != "" {
		return playOut
	}
	if playSave {
		return file.ReplaceExt(file.Sibling(input, "enriched"), ".srt")
	}
	return ""
}

// runPlay drives clock over track until the last segment ends or ctx is done.
func runPlay(ctx context.Context, enricher *service.Enricher, clock *playback.SimulatedClock, track *subtitle.Track, out io.Writer) error {
	if err := enricher.Start(ctx); err != nil {
		return err
	}
	defer enricher.Stop()

	// a terminal session has no gesture to wait for
	enricher.Interact(gate.Interaction{Kind: gate.KeyDown, Key: "Enter"})
	enricher.LoadVideo(track)

	end := track.Segments[len(track.Segments)-1].End
	done := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	last := -1

	unsubscribe := clock.Subscribe(func(ev playback.Event) {
		active := enricher.Timeline().ActiveIndex(ev.TimeMs)
		mu.Lock()
		changed := active != last
		last = active
		mu.Unlock()
		if changed && active >= 0 {
			if seg, ok := enricher.Timeline().At(active); ok {
				printSegment(out, active, seg)
			}
		}
		if ev.TimeMs >= end {
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go clock.Run(playCtx)
	clock.Seek(playStart.Milliseconds())
	clock.Play()

	select {
	case <-ctx.Done():
	case <-done:
	}
	clock.Pause()

	enriched := 0
	for _, seg := range enricher.Segments() {
		if seg.HasTranslation() {
			enriched++
		}
	}
	log.Info("Played %d segments, %d translated", len(track.Segments), enriched)
	return nil
}

func printSegment(out io.Writer, index int, seg subtitle.Segment) {
	fmt.Fprintf(out, "[%d] %s\n", index, seg.Text)
	if seg.Translation != "" {
		fmt.Fprintf(out, "    = %s\n", seg.Translation)
	}
	if seg.Insight != "" {
		fmt.Fprintf(out, "    ? %s\n", seg.Insight)
	}
}

func writeEnriched(path string, segments []subtitle.Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := subtitle.NewWriter().Write(f, segments); err != nil {
		return err
	}
	log.Info("Wrote %d segments to %s", len(segments), path)
	return nil
}
