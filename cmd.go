package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"skidoodle/now-playing/internal/config"
	"skidoodle/now-playing/internal/healthcheck"
	"skidoodle/now-playing/internal/server"
	"skidoodle/now-playing/internal/spotify"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to an optional TOML configuration file",
		Sources: cli.EnvVars("CONFIG_FILE"),
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the now-playing HTTP server",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Print the current now-playing payload once",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
			},
		},
		Action: fetch,
	}
}

func healthcheckCommand() *cli.Command {
	return &cli.Command{
		Name:   "healthcheck",
		Usage:  "Check the local server's health endpoint",
		Flags:  []cli.Flag{configFlag()},
		Action: checkHealth,
	}
}

// loadConfig loads the configuration and configures logging from it.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	log.SetLevel(cfg.Level())
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	return cfg, nil
}

func newSpotifyClient(cfg *config.Config) *spotify.Client {
	return spotify.NewClient(spotify.Config{
		ClientID:      cfg.Spotify.ClientID,
		ClientSecret:  cfg.Spotify.ClientSecret,
		RefreshToken:  cfg.Spotify.RefreshToken,
		TokenURL:      cfg.Spotify.TokenURL,
		NowPlayingURL: cfg.Spotify.NowPlayingURL,
		HTTPClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		CacheTokens:   cfg.TokenCache,
	})
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(server.Options{
		Addr:           cfg.Addr(),
		AllowedOrigins: cfg.AllowedOrigins,
		NoStore:        cfg.NoStore,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		Stream:         cfg.Stream,
		PollInterval:   cfg.PollInterval,
		Realtime:       cfg.RT,
	}, newSpotifyClient(cfg))

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server shut down gracefully")
	return nil
}

func fetch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	snapshot, fetchErr := newSpotifyClient(cfg).NowPlaying(ctx)

	payload := server.NewPlaybackState(snapshot)
	if fetchErr != nil {
		payload = server.NewErrorState(fetchErr)
	}

	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}

	enc := json.NewEncoder(out)
	if cmd.Bool("pretty") {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}

	return fetchErr
}

func checkHealth(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := healthcheck.Check(ctx, healthcheck.URL(cfg.ServerPort)); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
