package infrastructure

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// Catalog errors shared by the catalog adapters.
var (
	ErrUnauthorized        = errors.New("missing credentials")
	ErrForbidden           = errors.New("not the playlist owner")
	ErrUserNotFound        = errors.New("user not found")
	ErrTrackNotFound       = errors.New("track not found")
	ErrPlaylistNotFound    = errors.New("playlist not found")
	ErrPositionOutOfRange  = errors.New("position out of range")
	ErrInvalidPage         = errors.New("invalid page request")
	ErrPlaylistNotFollowed = errors.New("playlist not followed")
)

// Ensure MemoryCatalog implements CatalogService.
var _ ports.CatalogService = (*MemoryCatalog)(nil)

type memoryPlaylist struct {
	playlist domain.Playlist
	tracks   []domain.TrackURI
}

// MemoryCatalog is an in-memory implementation of CatalogService.
// It backs an ephemeral host when no catalog file is configured.
type MemoryCatalog struct {
	mu        sync.RWMutex
	users     map[domain.UserID]domain.User
	tracks    map[domain.TrackURI]domain.Track
	playlists map[domain.PlaylistID]*memoryPlaylist
	// follows maps a follower to the playlists they follow and their alias.
	follows map[domain.UserID]map[domain.PlaylistID]string
}

// NewMemoryCatalog creates a new empty MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		users:     make(map[domain.UserID]domain.User),
		tracks:    make(map[domain.TrackURI]domain.Track),
		playlists: make(map[domain.PlaylistID]*memoryPlaylist),
		follows:   make(map[domain.UserID]map[domain.PlaylistID]string),
	}
}

// ImportTracks stores track metadata, replacing existing entries.
func (c *MemoryCatalog) ImportTracks(_ context.Context, tracks ...domain.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range tracks {
		c.tracks[t.URI] = t
	}
	return nil
}

// GetCurrentUser returns the user for creds, registering it on first sight.
func (c *MemoryCatalog) GetCurrentUser(
	_ context.Context,
	creds domain.Credentials,
) (domain.User, error) {
	if creds.IsZero() {
		return domain.User{}, ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	user, ok := c.users[creds.UserID]
	if !ok || (creds.DisplayName != "" && user.DisplayName != creds.DisplayName) {
		user = creds.User()
		if user.DisplayName == "" {
			user.DisplayName = string(user.ID)
		}
		c.users[user.ID] = user
	}
	return user, nil
}

// CreatePlaylist creates an empty playlist owned by ownerID.
func (c *MemoryCatalog) CreatePlaylist(
	_ context.Context,
	creds domain.Credentials,
	ownerID domain.UserID,
	name string,
) (domain.Playlist, error) {
	if creds.IsZero() {
		return domain.Playlist{}, ErrUnauthorized
	}
	if creds.UserID != ownerID {
		return domain.Playlist{}, ErrForbidden
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	playlist := domain.Playlist{
		ID:      domain.PlaylistID(uuid.NewString()),
		Name:    name,
		OwnerID: ownerID,
	}
	c.playlists[playlist.ID] = &memoryPlaylist{playlist: playlist}
	return playlist, nil
}

// GetPlaylistTracksPage returns up to limit tracks starting at offset.
func (c *MemoryCatalog) GetPlaylistTracksPage(
	_ context.Context,
	playlistID domain.PlaylistID,
	limit, offset int,
) (*ports.TracksPage, error) {
	if limit <= 0 || offset < 0 {
		return nil, ErrInvalidPage
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.playlists[playlistID]
	if !ok {
		return nil, ErrPlaylistNotFound
	}

	start := min(offset, len(p.tracks))
	end := min(offset+limit, len(p.tracks))

	page := &ports.TracksPage{Items: make([]domain.Track, 0, end-start)}
	for _, uri := range p.tracks[start:end] {
		page.Items = append(page.Items, c.trackOrStub(uri))
	}
	if end < len(p.tracks) {
		page.NextOffset = &end
	}
	return page, nil
}

// AddTrackAtPosition inserts uri at position, or appends if position is nil.
func (c *MemoryCatalog) AddTrackAtPosition(
	_ context.Context,
	creds domain.Credentials,
	playlistID domain.PlaylistID,
	uri domain.TrackURI,
	position *int,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.playlists[playlistID]
	if !ok {
		return ErrPlaylistNotFound
	}
	if creds.UserID != p.playlist.OwnerID {
		return ErrForbidden
	}

	at := len(p.tracks)
	if position != nil {
		if *position < 0 || *position > len(p.tracks) {
			return ErrPositionOutOfRange
		}
		at = *position
	}
	p.tracks = slices.Insert(p.tracks, at, uri)
	return nil
}

// GetUserByID looks up a user.
func (c *MemoryCatalog) GetUserByID(_ context.Context, id domain.UserID) (domain.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	user, ok := c.users[id]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// GetTrack returns the stored metadata for uri.
func (c *MemoryCatalog) GetTrack(_ context.Context, uri domain.TrackURI) (domain.Track, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	track, ok := c.tracks[uri]
	if !ok {
		return domain.Track{}, ErrTrackNotFound
	}
	return track, nil
}

// FollowPlaylist adds the playlist to the user's library.
func (c *MemoryCatalog) FollowPlaylist(
	_ context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
) error {
	if creds.IsZero() {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.playlists[id]
	if !ok {
		return ErrPlaylistNotFound
	}
	follows, ok := c.follows[creds.UserID]
	if !ok {
		follows = make(map[domain.PlaylistID]string)
		c.follows[creds.UserID] = follows
	}
	if _, already := follows[id]; !already {
		follows[id] = p.playlist.Name
	}
	return nil
}

// UnfollowPlaylist removes the playlist from the user's library.
func (c *MemoryCatalog) UnfollowPlaylist(
	_ context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
) error {
	if creds.IsZero() {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.follows[creds.UserID], id)
	return nil
}

// RenamePlaylist renames the playlist for its owner, or sets the name a
// follower sees in their library.
func (c *MemoryCatalog) RenamePlaylist(
	_ context.Context,
	creds domain.Credentials,
	id domain.PlaylistID,
	name string,
) error {
	if creds.IsZero() {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.playlists[id]
	if !ok {
		return ErrPlaylistNotFound
	}
	if p.playlist.OwnerID == creds.UserID {
		p.playlist.Name = name
		return nil
	}
	follows := c.follows[creds.UserID]
	if _, ok := follows[id]; !ok {
		return ErrPlaylistNotFollowed
	}
	follows[id] = name
	return nil
}

// FollowedPlaylists returns the playlists in a user's library under the
// names the user sees.
func (c *MemoryCatalog) FollowedPlaylists(
	_ context.Context,
	userID domain.UserID,
) ([]domain.Playlist, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Playlist, 0, len(c.follows[userID]))
	for id, alias := range c.follows[userID] {
		p := c.playlists[id].playlist
		p.Name = alias
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Playlist) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// trackOrStub returns the stored track, or a stub titled with its URI.
func (c *MemoryCatalog) trackOrStub(uri domain.TrackURI) domain.Track {
	if t, ok := c.tracks[uri]; ok {
		return t
	}
	return domain.Track{URI: uri, Title: string(uri)}
}
