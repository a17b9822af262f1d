package spotify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	api "github.com/zmb3/spotify"
	"golang.org/x/oauth2"
)

const currentlyPlayingURL = "https://api.spotify.com/v1/me/player/currently-playing"

// Config holds the credentials and endpoints used by the Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// TokenURL and NowPlayingURL default to the public Spotify endpoints.
	TokenURL      string
	NowPlayingURL string

	// HTTPClient is used for both the token exchange and the API call.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// CacheTokens reuses access tokens until they expire instead of
	// exchanging the refresh token on every call.
	CacheTokens bool
}

// Client is a thread-safe client for the Spotify now-playing API.
type Client struct {
	oauth         *oauth2.Config
	refreshToken  string
	nowPlayingURL string
	httpClient    *http.Client

	cacheTokens bool
	mu          sync.Mutex
	tokens      oauth2.TokenSource
}

// NewClient creates a new Spotify API client using the refresh token flow.
// The returned client is safe for concurrent use.
func NewClient(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = api.TokenURL
	}
	if cfg.NowPlayingURL == "" {
		cfg.NowPlayingURL = currentlyPlayingURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		refreshToken:  cfg.RefreshToken,
		nowPlayingURL: cfg.NowPlayingURL,
		httpClient:    cfg.HTTPClient,
		cacheTokens:   cfg.CacheTokens,
	}
}

// Token exchanges the refresh token for an access token.
func (c *Client) Token(ctx context.Context) (*oauth2.Token, error) {
	src := c.tokenSource(ctx)

	tok, err := src.Token()
	if err != nil {
		return nil, asTokenExchangeError(err)
	}
	return tok, nil
}

// tokenSource returns a fresh refresh-token source, or the shared caching
// one when token caching is enabled.
func (c *Client) tokenSource(ctx context.Context) oauth2.TokenSource {
	if !c.cacheTokens {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
		return c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refreshToken})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens == nil {
		// The cached source outlives any single request, so it must not
		// capture a request-scoped context.
		bg := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.tokens = oauth2.ReuseTokenSource(nil, c.oauth.TokenSource(bg, &oauth2.Token{RefreshToken: c.refreshToken}))
	}
	return c.tokens
}

// NowPlaying fetches the user's currently playing track and normalizes it.
// It returns a nil Snapshot and a nil error when Spotify has nothing to
// report: no content, or any 4xx/5xx from the player endpoint.
func (c *Client) NowPlaying(ctx context.Context) (*Snapshot, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nowPlayingURL, nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch currently playing: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Warn("failed to close spotify api response body")
		}
	}()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode >= http.StatusBadRequest {
		log.WithField("status", resp.StatusCode).Debug("spotify reported nothing playing")
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read currently playing: %w", err)
	}

	snapshot, err := decodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("decode currently playing: %w", err)
	}
	return &snapshot, nil
}
