package domain

import "slices"

// UnknownIndex marks a play index that has not been received yet.
const UnknownIndex = -1

// Mirror is a client's local copy of the host's backing playlist.
type Mirror struct {
	tracks       []Track
	currentIndex int
}

// NewMirror creates an empty Mirror with an unknown play index.
func NewMirror() *Mirror {
	return &Mirror{
		tracks:       make([]Track, 0),
		currentIndex: UnknownIndex,
	}
}

// Len returns the number of tracks in the mirror.
func (m *Mirror) Len() int {
	return len(m.tracks)
}

// CurrentPlayIndex returns the mirrored play index, or UnknownIndex.
func (m *Mirror) CurrentPlayIndex() int {
	return m.currentIndex
}

// Load replaces the mirrored tracks.
func (m *Mirror) Load(tracks []Track) {
	m.tracks = slices.Clone(tracks)
}

// Tracks returns a copy of all mirrored tracks.
func (m *Mirror) Tracks() []Track {
	return slices.Clone(m.tracks)
}

// Current returns the track at the play index, or nil.
func (m *Mirror) Current() *Track {
	if m.currentIndex < 0 || m.currentIndex >= len(m.tracks) {
		return nil
	}
	t := m.tracks[m.currentIndex]
	return &t
}

// IsValidPlayIndex returns true if index may be applied as the play index.
// index == Len() is allowed: the host may have finished the last track.
func (m *Mirror) IsValidPlayIndex(index int) bool {
	return 0 <= index && index <= len(m.tracks)
}

// SetCurrentPlayIndex applies index if it is valid.
// Out-of-range values leave the mirror unchanged.
func (m *Mirror) SetCurrentPlayIndex(index int) bool {
	if !m.IsValidPlayIndex(index) {
		return false
	}
	m.currentIndex = index
	return true
}

// InsertAt splices track in at index. Returns false if index is out of range.
func (m *Mirror) InsertAt(index int, track Track) bool {
	if index < 0 || index > len(m.tracks) {
		return false
	}
	m.tracks = slices.Insert(m.tracks, index, track)
	return true
}
