package server

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// nowPlayingHandler proxies the Spotify now-playing state to browsers.
type nowPlayingHandler struct {
	source  Source
	headers headerPolicy
	limiter *rate.Limiter
}

func (h *nowPlayingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.headers.apply(w, r)

	// CORS preflight never reaches Spotify.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		writeJSON(w, r, http.StatusTooManyRequests, status{IsPlaying: false, Error: "rate limit exceeded"})
		return
	}

	snapshot, err := h.source.NowPlaying(r.Context())
	if err != nil {
		requestLogger(r).WithError(err).Error("failed to get currently playing track")
		writeJSON(w, r, http.StatusInternalServerError, NewErrorState(err))
		return
	}

	writeJSON(w, r, http.StatusOK, NewPlaybackState(snapshot))
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		requestLogger(r).WithError(err).Error("failed to encode response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		requestLogger(r).WithError(err).Warn("failed to write response")
	}
}

// healthHandler responds to container health checks.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.WithError(err).Warn("failed to write health check response")
	}
}
