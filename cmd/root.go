package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/live-sub-enricher/internal/config"
	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
	"github.com/MimeLyc/live-sub-enricher/internal/llm"
	"github.com/MimeLyc/live-sub-enricher/internal/playback"
	"github.com/MimeLyc/live-sub-enricher/internal/service"
	"github.com/MimeLyc/live-sub-enricher/pkg/log"
)

var (
	envFiles    []string
	logLevel    string
	profileFile string
	noModel     bool
)

var rootCmd = &cobra.Command{
	Use:   "live-sub-enricher",
	Short: "Translate and explain captions just ahead of playback",
	Long: `live-sub-enricher follows a video's playback clock over its caption track and
keeps the upcoming segments translated and annotated with grammar insight, using
a local or hosted chat model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		level := logLevel
		if level == "" {
			level = config.LogLevelFromEnv()
		}
		log.InitLogger(log.ParseLevel(level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", []string{".env"}, "dotenv files to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&profileFile, "profile", "", "YAML profile file (overrides PROFILE_FILE)")
	rootCmd.PersistentFlags().BoolVar(&noModel, "no-model", false, "run without a model backend")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(playCmd)
}

// newCapability connects the configured chat model. It returns a nil
// interface when no backend is usable, which sessions report as unavailable.
func newCapability(cfg *config.Config) enrich.Capability {
	if noModel || strings.TrimSpace(cfg.LLM.APIURL) == "" {
		return nil
	}
	clientCfg := cfg.LLM.ClientConfig()
	client, err := llm.NewClient(clientCfg)
	if err != nil {
		log.Warn("Model backend disabled: %v", err)
		return nil
	}
	return llm.NewCapability(client, clientCfg)
}

func newEnricher(cfg *config.Config, clock playback.Clock) (*service.Enricher, error) {
	profiles, err := config.NewProfileStoreFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return service.New(service.Options{
		Clock:            clock,
		Capability:       newCapability(cfg),
		Profiles:         profiles,
		Scheduler:        cfg.Prefetch.SchedulerConfig(),
		ActivationWindow: cfg.System.ActivationWindow,
		StatusCron:       cfg.System.StatusCron,
	})
}
