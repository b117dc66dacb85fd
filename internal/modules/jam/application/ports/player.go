package ports

import (
	"context"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// PlayerEventKind identifies a player transport event.
type PlayerEventKind int

const (
	// PlayerStarted is emitted when playback starts or resumes.
	PlayerStarted PlayerEventKind = iota
	PlayerPaused
	// PlayerTrackAdvanced is emitted when the player moves to another track.
	PlayerTrackAdvanced
	// PlayerDeliveryDone is emitted when the player ran out of tracks.
	PlayerDeliveryDone
	// PlayerBecameActive is emitted once the player is ready to accept commands.
	PlayerBecameActive
)

// String returns a human-readable representation of the kind.
func (k PlayerEventKind) String() string {
	switch k {
	case PlayerStarted:
		return "started"
	case PlayerPaused:
		return "paused"
	case PlayerTrackAdvanced:
		return "track_advanced"
	case PlayerDeliveryDone:
		return "delivery_done"
	case PlayerBecameActive:
		return "became_active"
	default:
		return "unknown"
	}
}

// PlayerEvent is emitted by a Player.
type PlayerEvent struct {
	Kind PlayerEventKind
	// URI is the track that is now playing, if any.
	URI domain.TrackURI
}

// Player is the audio engine playing the backing playlist.
//
// When a playlist track starts, the player commits to the following playlist
// track unless enqueued tracks are waiting. Enqueued tracks play after that
// committed track, then the playlist resumes.
type Player interface {
	// Play starts the playlist at atIndex.
	Play(ctx context.Context, playlistURI string, atIndex int) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SkipNext(ctx context.Context) error

	// Enqueue queues uri to play after the committed next track.
	Enqueue(ctx context.Context, uri domain.TrackURI) error

	// Release stops playback and frees the player. It blocks until done or ctx expires.
	Release(ctx context.Context) error
	// ForceRelease frees the player without waiting.
	ForceRelease()

	Events() <-chan PlayerEvent
}
