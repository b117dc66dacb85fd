package domain

import (
	"time"

	"github.com/google/uuid"
)

// SongRequest associates a track in the pending queue with who asked for it.
type SongRequest struct {
	ID            uuid.UUID
	TrackURI      TrackURI
	RequesterID   UserID
	RequesterName string
	RequestedAt   time.Time
}

// NewSongRequest creates a SongRequest with a fresh ID.
func NewSongRequest(uri TrackURI, requesterID UserID, requesterName string) SongRequest {
	return SongRequest{
		ID:            uuid.New(),
		TrackURI:      uri,
		RequesterID:   requesterID,
		RequesterName: requesterName,
		RequestedAt:   time.Now().UTC(),
	}
}

// NewFillerRequest creates a SongRequest owned by the filler sentinel.
func NewFillerRequest(uri TrackURI) SongRequest {
	return NewSongRequest(uri, FillerUser.ID, FillerUser.DisplayName)
}

// IsFiller returns true if the request came from the base playlist.
func (r SongRequest) IsFiller() bool {
	return r.RequesterID == FillerUser.ID
}
