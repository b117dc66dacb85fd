package ports

import (
	"context"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// TracksPage is one page of a playlist's tracks.
type TracksPage struct {
	Items []domain.Track
	// NextOffset is nil on the last page.
	NextOffset *int
}

// CatalogService is the remote music catalog holding users, tracks and
// playlists. Every call may fail with a network or authorization error.
type CatalogService interface {
	// GetCurrentUser returns the user the credentials belong to.
	GetCurrentUser(ctx context.Context, creds domain.Credentials) (domain.User, error)

	// CreatePlaylist creates an empty playlist owned by ownerID.
	CreatePlaylist(
		ctx context.Context,
		creds domain.Credentials,
		ownerID domain.UserID,
		name string,
	) (domain.Playlist, error)

	// GetPlaylistTracksPage returns up to limit tracks starting at offset.
	GetPlaylistTracksPage(
		ctx context.Context,
		playlistID domain.PlaylistID,
		limit, offset int,
	) (*TracksPage, error)

	// AddTrackAtPosition inserts uri at position, or appends if position is nil.
	AddTrackAtPosition(
		ctx context.Context,
		creds domain.Credentials,
		playlistID domain.PlaylistID,
		uri domain.TrackURI,
		position *int,
	) error

	// GetUserByID looks up a user.
	GetUserByID(ctx context.Context, id domain.UserID) (domain.User, error)

	// GetTrack returns catalog metadata for uri.
	GetTrack(ctx context.Context, uri domain.TrackURI) (domain.Track, error)

	FollowPlaylist(ctx context.Context, creds domain.Credentials, id domain.PlaylistID) error
	UnfollowPlaylist(ctx context.Context, creds domain.Credentials, id domain.PlaylistID) error
	RenamePlaylist(ctx context.Context, creds domain.Credentials, id domain.PlaylistID, name string) error
}
