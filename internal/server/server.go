package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"skidoodle/now-playing/internal/spotify"
)

const shutdownTimeout = 10 * time.Second

// Source provides the current playback snapshot. A nil snapshot with a nil
// error means nothing is playing.
type Source interface {
	NowPlaying(ctx context.Context) (*spotify.Snapshot, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	NoStore        bool

	// RateLimit is the number of proxied requests per second; zero disables it.
	RateLimit float64
	RateBurst int

	// Stream enables the websocket feed at /ws.
	Stream       bool
	PollInterval time.Duration
	Realtime     bool
}

// Server is the main application orchestrator.
type Server struct {
	addr       string
	httpServer *http.Server
	handler    http.Handler
	hub        *Hub
	poller     *Poller
	upgrader   websocket.Upgrader
}

// NewServer creates a new, fully configured server.
func NewServer(opts Options, source Source) *Server {
	headers := headerPolicy{origins: opts.AllowedOrigins, noStore: opts.NoStore}

	proxy := &nowPlayingHandler{source: source, headers: headers}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		proxy.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s := &Server{addr: opts.Addr}

	mux := http.NewServeMux()
	mux.Handle("/{$}", proxy)
	mux.Handle("/api/now-playing", proxy)
	mux.HandleFunc("/health", healthHandler)

	if opts.Stream {
		s.hub = NewHub()
		s.poller = NewPoller(source, s.hub, opts.PollInterval, opts.Realtime)
		s.upgrader = websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if !headers.allowed(origin) {
					log.WithField("origin", origin).Warn("origin not allowed, rejecting connection")
					return false
				}
				return true
			},
		}
		mux.HandleFunc("/ws", s.serveWs)
	}

	s.handler = withRequestID(logRequests(mux))
	return s
}

// Handler returns the server's root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It returns once
// in-flight requests have drained and the stream components have stopped.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	if s.hub != nil {
		wg.Add(2)

		go func() {
			defer wg.Done()
			s.hub.Run(ctx)
		}()

		go func() {
			defer wg.Done()
			s.poller.Run(ctx)
		}()
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info("shutdown signal received, stopping http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("http server shutdown error")
		}
	}()

	log.WithField("addr", ln.Addr().String()).Info("http server listening")
	err := s.httpServer.Serve(ln)

	// Serve returns as soon as Shutdown starts; wait for the drain to finish.
	cancel()
	<-shutdownDone
	wg.Wait()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// serveWs upgrades the request and streams playback updates to the client.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		requestLogger(r).WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn)

	// The hub queues the last known state when it registers the client.
	if !s.hub.join(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	client.readPump()
}
