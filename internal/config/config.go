package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds the application configuration.
type Config struct {
	ServerPort     string   `toml:"server_port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	NoStore        bool     `toml:"no_store"`
	LogLevel       string   `toml:"log_level"`
	LogFormat      string   `toml:"log_format"`

	// RateLimit is the number of proxied requests per second; zero disables it.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`

	HTTPTimeout time.Duration `toml:"http_timeout"`
	TokenCache  bool          `toml:"token_cache"`

	Stream       bool          `toml:"stream"`
	PollInterval time.Duration `toml:"poll_interval"`
	RT           bool          `toml:"realtime"`

	Spotify struct {
		ClientID      string `toml:"client_id"`
		ClientSecret  string `toml:"client_secret"`
		RefreshToken  string `toml:"refresh_token"`
		TokenURL      string `toml:"token_url"`
		NowPlayingURL string `toml:"now_playing_url"`
	} `toml:"spotify"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerPort:   "3000",
		NoStore:      true,
		LogLevel:     "info",
		LogFormat:    "text",
		RateBurst:    1,
		PollInterval: 5 * time.Second,
	}
}

// Load builds the configuration from the defaults, the optional TOML file at
// path, a .env file and the process environment, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment variables")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" || cfg.Spotify.RefreshToken == "" {
		log.Warn("spotify credentials are not fully set, token exchange will fail")
	}

	return cfg, nil
}

// Level returns the configured logrus level, falling back to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}

func (c *Config) applyEnv() error {
	setString(&c.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	setString(&c.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	setString(&c.Spotify.RefreshToken, "SPOTIFY_REFRESH_TOKEN")
	setString(&c.Spotify.TokenURL, "SPOTIFY_TOKEN_URL")
	setString(&c.Spotify.NowPlayingURL, "SPOTIFY_NOW_PLAYING_URL")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}

	setBool(&c.NoStore, "NO_STORE")
	setBool(&c.TokenCache, "TOKEN_CACHE")
	setBool(&c.Stream, "STREAM")
	setBool(&c.RT, "RT")

	if v := os.Getenv("RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid RATE_LIMIT %q", v)
		}
		c.RateLimit = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid RATE_BURST %q", v)
		}
		c.RateBurst = n
	}
	if err := setDuration(&c.HTTPTimeout, "HTTP_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.PollInterval, "POLL_INTERVAL"); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setBool leaves dst untouched when the variable is unset or unparsable.
func setBool(dst *bool, key string) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
