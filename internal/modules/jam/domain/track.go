package domain

import (
	"strconv"
	"time"
)

// TrackURI is an opaque identifier of a playable item.
// It is never interpreted, only forwarded to the catalog and the player.
type TrackURI string

// Track represents a catalog entry as seen by a session.
type Track struct {
	URI      TrackURI
	Title    string
	Artist   string
	Duration time.Duration
}

// NewTrack creates a Track with the given metadata.
func NewTrack(uri TrackURI, title, artist string, duration time.Duration) Track {
	return Track{
		URI:      uri,
		Title:    title,
		Artist:   artist,
		Duration: duration,
	}
}

// DisplayTitle returns the title, or the URI when the catalog has no title.
func (t Track) DisplayTitle() string {
	if t.Title == "" {
		return string(t.URI)
	}
	return t.Title
}

// FormattedDuration returns the duration as a human-readable string (mm:ss or hh:mm:ss).
func (t Track) FormattedDuration() string {
	totalSeconds := int(t.Duration.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return pad(hours) + ":" + pad(minutes) + ":" + pad(seconds)
	}
	return pad(minutes) + ":" + pad(seconds)
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
