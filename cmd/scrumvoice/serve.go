package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrumvoice/scrumvoice/internal/config"
	"github.com/scrumvoice/scrumvoice/internal/server"
	"github.com/scrumvoice/scrumvoice/internal/speech"
	"github.com/scrumvoice/scrumvoice/internal/tracker"

	// Register tracker backends.
	_ "github.com/scrumvoice/scrumvoice/internal/jira"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the standup bot as an HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Server.ListenAddr = listenAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		tc, err := tracker.New(cfg.Tracker.Kind, cfg.Tracker.URL, cfg.Tracker.Email,
			cfg.Tracker.APIToken, cfg.Tracker.ProjectKey)
		if err != nil {
			return fmt.Errorf("build %s tracker: %w", cfg.Tracker.Kind, err)
		}

		var sp *speech.Client
		if cfg.Speech.APIKey != "" {
			sp, err = speech.NewClient(cfg.Speech.APIKey, cfg.Speech.STTModel, cfg.Speech.TTSVoice)
			if err != nil {
				return err
			}
			log.Printf("serve: speech enabled (stt=%s tts=%s)", cfg.Speech.STTModel, cfg.Speech.TTSVoice)
		} else {
			log.Printf("serve: no speech API key, running text-only")
		}

		srv := server.New(server.Config{
			Tracker:     tc,
			ProjectKey:  cfg.Tracker.ProjectKey,
			DefaultUser: cfg.Tracker.DefaultAssignee,
			Speech:      sp,
			StaticDir:   cfg.Server.StaticDir,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go watchCredentials(ctx, tc)

		return srv.Run(ctx, cfg.Server.ListenAddr)
	},
}

// watchCredentials hot-reloads tracker credentials when the config file
// changes, for backends that support it. Sessions keep their tracker handle,
// so rotated tokens take effect without a restart.
func watchCredentials(ctx context.Context, tc tracker.Client) {
	type credentialSetter interface {
		SetCredentials(baseURL, username, apiToken string)
	}
	setter, ok := tc.(credentialSetter)
	if !ok {
		return
	}
	err := config.Watch(ctx, configPath, func(cfg *config.Config) {
		setter.SetCredentials(cfg.Tracker.URL, cfg.Tracker.Email, cfg.Tracker.APIToken)
		log.Printf("serve: tracker credentials updated")
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("serve: config watcher stopped: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides config)")
}
