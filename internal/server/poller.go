package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"skidoodle/now-playing/internal/spotify"
)

const defaultPollInterval = 5 * time.Second

// Poller is responsible for fetching data from the Spotify API periodically.
type Poller struct {
	source   Source
	hub      *Hub
	interval time.Duration
	realtime bool

	mu        sync.Mutex
	seen      bool
	lastState *spotify.Snapshot
}

// NewPoller creates a new Poller.
func NewPoller(source Source, hub *Hub, interval time.Duration, realtime bool) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		source:   source,
		hub:      hub,
		interval: interval,
		realtime: realtime,
	}
}

// Run starts the polling loop. It must be run in a separate goroutine.
func (p *Poller) Run(ctx context.Context) {
	log.WithField("interval", p.interval).Info("poller started")
	defer log.Info("poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.UpdateState(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.UpdateState(ctx)
		}
	}
}

// UpdateState fetches the latest state, compares it, and broadcasts if needed.
func (p *Poller) UpdateState(ctx context.Context) {
	current, err := p.source.NowPlaying(ctx)
	if err != nil {
		log.WithError(err).Error("failed to get currently playing track")
		return
	}

	payload, err := json.Marshal(NewPlaybackState(current))
	if err != nil {
		log.WithError(err).Error("failed to encode playback state")
		return
	}

	p.mu.Lock()
	hasChanged := p.hasStateChanged(current)
	p.seen = true
	p.lastState = current
	p.mu.Unlock()

	if hasChanged && !p.realtime {
		trackName := "Nothing"
		if current != nil && current.Title != "" {
			trackName = current.Title
		}
		log.WithFields(log.Fields{
			"isPlaying": current != nil && current.IsPlaying,
			"track":     trackName,
		}).Info("state changed, broadcasting update")
	}

	// Always publish so late joiners get fresh progress, even when
	// connected clients are not notified.
	p.hub.Publish(payload, hasChanged)
}

// hasStateChanged reports whether current differs from the last state.
// This function must be called within a lock.
func (p *Poller) hasStateChanged(current *spotify.Snapshot) bool {
	if !p.seen {
		return true
	}
	if p.realtime && current != nil && current.IsPlaying {
		return true
	}
	if (p.lastState == nil) != (current == nil) {
		return true
	}
	if current == nil {
		return false
	}
	return !p.lastState.SameTrack(*current)
}
