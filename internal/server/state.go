package server

import "skidoodle/now-playing/internal/spotify"

// status is the payload sent when there is no snapshot to report.
type status struct {
	IsPlaying bool   `json:"isPlaying"`
	Error     string `json:"error,omitempty"`
}

// NewPlaybackState returns the client-facing payload for a snapshot.
// A nil snapshot means nothing is playing.
func NewPlaybackState(data *spotify.Snapshot) any {
	if data == nil {
		return status{IsPlaying: false}
	}
	return data
}

// NewErrorState returns the payload sent when the state could not be fetched.
func NewErrorState(err error) any {
	return status{IsPlaying: false, Error: err.Error()}
}
