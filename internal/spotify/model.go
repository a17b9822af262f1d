package spotify

import (
	"encoding/json"
	"math"
	"strings"

	api "github.com/zmb3/spotify"
)

// Snapshot is the normalized now-playing payload served to clients.
// All fields are always present in the encoded JSON.
type Snapshot struct {
	IsPlaying  bool   `json:"isPlaying"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Artwork    string `json:"artwork"`
	URL        string `json:"url"`
	ProgressMs int    `json:"progressMs"`
	DurationMs int    `json:"durationMs"`
}

// SameTrack reports whether two snapshots describe the same track in the same
// playing state, ignoring playback progress.
func (s Snapshot) SameTrack(other Snapshot) bool {
	s.ProgressMs, other.ProgressMs = 0, 0
	return s == other
}

// decodeSnapshot parses a currently-playing body into a Snapshot.
//
// is_playing, progress_ms and item.duration_ms are read loosely: any JSON
// value is accepted, numbers are truncated and anything that is not a number
// counts as 0. The remaining track fields are decoded with the Spotify wire
// types. A missing or non-object item leaves the track fields empty.
func decodeSnapshot(body []byte) (Snapshot, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Snapshot{}, err
	}

	obj, _ := raw.(map[string]any)
	s := Snapshot{
		IsPlaying:  truthy(obj["is_playing"]),
		ProgressMs: finiteInt(obj["progress_ms"]),
	}

	item, ok := obj["item"].(map[string]any)
	if !ok {
		return s, nil
	}

	s.DurationMs = finiteInt(item["duration_ms"])
	delete(item, "duration_ms")

	data, err := json.Marshal(item)
	if err != nil {
		return Snapshot{}, err
	}
	var track api.FullTrack
	if err := json.Unmarshal(data, &track); err != nil {
		return Snapshot{}, err
	}

	names := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		if artist.Name != "" {
			names = append(names, artist.Name)
		}
	}

	s.Title = track.Name
	s.Artist = strings.Join(names, ", ")
	s.Album = track.Album.Name
	if len(track.Album.Images) > 0 {
		s.Artwork = track.Album.Images[0].URL
	}
	s.URL = track.ExternalURLs["spotify"]

	return s, nil
}

// truthy follows JavaScript truthiness for decoded JSON values.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

func finiteInt(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}
