package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"skidoodle/now-playing/internal/spotify"
)

// --- Fakes ---

type fakeSource struct {
	snapshot *spotify.Snapshot
	err      error
	calls    atomic.Int32
}

func (f *fakeSource) NowPlaying(ctx context.Context) (*spotify.Snapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

// upstream fakes both the Spotify accounts service and the player API.
type upstream struct {
	tokenStatus  int
	playerStatus int
	playerBody   string

	tokenCalls  atomic.Int32
	playerCalls atomic.Int32

	client *spotify.Client
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{tokenStatus: http.StatusOK, playerStatus: http.StatusOK}

	token := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.tokenCalls.Add(1)
		if u.tokenStatus != http.StatusOK {
			w.WriteHeader(u.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(token.Close)

	player := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.playerCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.playerStatus)
		_, _ = w.Write([]byte(u.playerBody))
	}))
	t.Cleanup(player.Close)

	u.client = spotify.NewClient(spotify.Config{
		ClientID:      "id",
		ClientSecret:  "secret",
		RefreshToken:  "refresh",
		TokenURL:      token.URL,
		NowPlayingURL: player.URL,
	})
	return u
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Origin", "https://me.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func defaultOptions() Options {
	return Options{Addr: ":0", NoStore: true}
}

// --- Tests ---

func TestNowPlayingHandler(t *testing.T) {
	t.Run("NotPlayingStatuses", func(t *testing.T) {
		for _, code := range []int{http.StatusNoContent, 400, 404, 500} {
			u := newUpstream(t)
			u.playerStatus = code
			h := NewServer(defaultOptions(), u.client).Handler()

			rec := serve(t, h, http.MethodGet, "/")

			if rec.Code != http.StatusOK {
				t.Errorf("upstream %d: expected status 200, got %d", code, rec.Code)
			}
			if got := rec.Body.String(); got != `{"isPlaying":false}` {
				t.Errorf("upstream %d: unexpected body %s", code, got)
			}
		}
	})

	t.Run("Playing", func(t *testing.T) {
		u := newUpstream(t)
		u.playerBody = `{
			"is_playing": true,
			"progress_ms": 1500,
			"item": {
				"name": "Teardrop",
				"duration_ms": 330000,
				"artists": [{"name": "Massive Attack"}, {"name": "Elizabeth Fraser"}],
				"album": {"name": "Mezzanine", "images": [{"url": "https://img/1"}, {"url": "https://img/2"}]},
				"external_urls": {"spotify": "https://open.spotify.com/track/t"}
			}
		}`
		h := NewServer(defaultOptions(), u.client).Handler()

		rec := serve(t, h, http.MethodGet, "/api/now-playing")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}

		var got spotify.Snapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		want := spotify.Snapshot{
			IsPlaying:  true,
			Title:      "Teardrop",
			Artist:     "Massive Attack, Elizabeth Fraser",
			Album:      "Mezzanine",
			Artwork:    "https://img/1",
			URL:        "https://open.spotify.com/track/t",
			ProgressMs: 1500,
			DurationMs: 330000,
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("MissingItemKeepsAllFields", func(t *testing.T) {
		u := newUpstream(t)
		u.playerBody = `{"is_playing": true}`
		h := NewServer(defaultOptions(), u.client).Handler()

		rec := serve(t, h, http.MethodGet, "/")

		want := `{"isPlaying":true,"title":"","artist":"","album":"","artwork":"","url":"","progressMs":0,"durationMs":0}`
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Errorf("expected 200 %s, got %d %s", want, rec.Code, rec.Body.String())
		}
	})

	t.Run("Preflight", func(t *testing.T) {
		u := newUpstream(t)
		h := NewServer(defaultOptions(), u.client).Handler()

		rec := serve(t, h, http.MethodOptions, "/")

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", rec.Body.String())
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected wildcard origin, got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET,OPTIONS" {
			t.Errorf("unexpected allowed methods %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
			t.Errorf("unexpected allowed headers %q", got)
		}
		if n := u.tokenCalls.Load() + u.playerCalls.Load(); n != 0 {
			t.Errorf("expected no upstream calls, got %d", n)
		}
	})

	t.Run("TokenExchangeFailure", func(t *testing.T) {
		u := newUpstream(t)
		u.tokenStatus = http.StatusUnauthorized
		h := NewServer(defaultOptions(), u.client).Handler()

		rec := serve(t, h, http.MethodGet, "/")

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		var body status
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.IsPlaying || !strings.HasPrefix(body.Error, "token exchange failed: 401") {
			t.Errorf("unexpected error body %+v", body)
		}
		if n := u.tokenCalls.Load(); n != 1 {
			t.Errorf("expected one token exchange, got %d", n)
		}
		if n := u.playerCalls.Load(); n != 0 {
			t.Errorf("expected no player calls, got %d", n)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		u := newUpstream(t)
		u.playerBody = `{"is_playing": false, "progress_ms": 10, "item": {"name": "Angel"}}`
		h := NewServer(defaultOptions(), u.client).Handler()

		first := serve(t, h, http.MethodGet, "/")
		second := serve(t, h, http.MethodGet, "/")

		if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
			t.Errorf("expected identical bodies, got %s and %s", first.Body, second.Body)
		}
		if n := u.tokenCalls.Load(); n != 2 {
			t.Errorf("expected a token exchange per request, got %d", n)
		}
	})

	t.Run("UnexpectedFailure", func(t *testing.T) {
		src := &fakeSource{err: errors.New("connection refused")}
		h := NewServer(defaultOptions(), src).Handler()

		rec := serve(t, h, http.MethodGet, "/")

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
		if got := rec.Body.String(); got != `{"isPlaying":false,"error":"connection refused"}` {
			t.Errorf("unexpected body %s", got)
		}
		if n := src.calls.Load(); n != 1 {
			t.Errorf("expected one source call, got %d", n)
		}
	})

	t.Run("UnknownPath", func(t *testing.T) {
		src := &fakeSource{}
		h := NewServer(defaultOptions(), src).Handler()

		rec := serve(t, h, http.MethodGet, "/elsewhere")

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
		if n := src.calls.Load(); n != 0 {
			t.Errorf("expected no source calls, got %d", n)
		}
	})
}

func TestHeaders(t *testing.T) {
	t.Run("NoStore", func(t *testing.T) {
		h := NewServer(defaultOptions(), &fakeSource{}).Handler()
		rec := serve(t, h, http.MethodGet, "/")

		want := map[string]string{
			"Cache-Control":            "no-store, no-cache, max-age=0, must-revalidate",
			"Pragma":                   "no-cache",
			"Expires":                  "0",
			"CDN-Cache-Control":        "no-store",
			"Vercel-CDN-Cache-Control": "no-store",
		}
		for key, value := range want {
			if got := rec.Header().Get(key); got != value {
				t.Errorf("%s: expected %q, got %q", key, value, got)
			}
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Error("expected a request id header")
		}
	})

	t.Run("CachingAllowed", func(t *testing.T) {
		opts := defaultOptions()
		opts.NoStore = false
		h := NewServer(opts, &fakeSource{}).Handler()
		rec := serve(t, h, http.MethodGet, "/")

		if got := rec.Header().Get("Cache-Control"); got != "" {
			t.Errorf("expected no Cache-Control, got %q", got)
		}
	})

	t.Run("ConfiguredOrigins", func(t *testing.T) {
		opts := defaultOptions()
		opts.AllowedOrigins = []string{"https://site.example", "https://me.example"}
		h := NewServer(opts, &fakeSource{}).Handler()

		rec := serve(t, h, http.MethodGet, "/")
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://me.example" {
			t.Errorf("expected request origin echoed, got %q", got)
		}
		if got := rec.Header().Get("Vary"); got != "Origin" {
			t.Errorf("expected Vary: Origin, got %q", got)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://site.example" {
			t.Errorf("expected first configured origin, got %q", got)
		}
	})
}

func TestRateLimit(t *testing.T) {
	src := &fakeSource{snapshot: &spotify.Snapshot{IsPlaying: true, Title: "Roygbiv"}}
	opts := defaultOptions()
	opts.RateLimit = 0.001
	opts.RateBurst = 1
	h := NewServer(opts, src).Handler()

	if rec := serve(t, h, http.MethodGet, "/"); rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec := serve(t, h, http.MethodGet, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"isPlaying":false,"error":"rate limit exceeded"}` {
		t.Errorf("unexpected body %s", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS headers on limited response, got %q", got)
	}

	if rec := serve(t, h, http.MethodOptions, "/"); rec.Code != http.StatusOK {
		t.Errorf("expected preflight to bypass the limiter, got %d", rec.Code)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected one source call, got %d", n)
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(defaultOptions(), &fakeSource{}).Handler()
	rec := serve(t, h, http.MethodGet, "/health")

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || string(body) != "OK" {
		t.Errorf("expected 200 OK, got %d %q", rec.Code, body)
	}
}
