package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// Player errors shared by the player adapters.
var (
	ErrNothingPlaying   = errors.New("nothing is playing")
	ErrIndexOutOfRange  = errors.New("playlist index out of range")
	ErrInvalidPlaylist  = errors.New("invalid playlist uri")
	ErrPlayerReleased   = errors.New("player released")
	ErrPlayerNotStarted = errors.New("player has no playlist")
)

// trackSource is the part of the catalog a player reads from.
type trackSource interface {
	GetPlaylistTracksPage(ctx context.Context, id domain.PlaylistID, limit, offset int) (*ports.TracksPage, error)
	GetTrack(ctx context.Context, uri domain.TrackURI) (domain.Track, error)
}

// cursorEntry is a track the cursor has started or committed to.
// position is -1 for enqueued tracks.
type cursorEntry struct {
	track    domain.Track
	position int
}

// PlaybackCursor decides which track plays next. It is not safe for
// concurrent use; players guard it with their own lock.
//
// When a playlist track starts, the cursor commits to the playlist track at
// the following position unless enqueued tracks are waiting. The committed
// track plays next even if the playlist changes in between. Enqueued tracks
// play after it, then the playlist resumes after the last playlist track
// that started.
type PlaybackCursor struct {
	source trackSource

	playlist domain.PlaylistID
	current  *cursorEntry
	onDeck   *cursorEntry
	queue    []domain.Track
	// next is the playlist position to resume at once the queue drains.
	next int
}

// NewPlaybackCursor creates a cursor reading playlists from source.
func NewPlaybackCursor(source trackSource) *PlaybackCursor {
	return &PlaybackCursor{source: source}
}

// Start begins playlistURI at index, dropping anything queued.
func (c *PlaybackCursor) Start(ctx context.Context, playlistURI string, index int) (domain.Track, error) {
	id, ok := domain.ParsePlaylistURI(playlistURI)
	if !ok {
		return domain.Track{}, fmt.Errorf("%w: %q", ErrInvalidPlaylist, playlistURI)
	}

	c.Reset()
	c.playlist = id

	track, ok, err := c.trackAt(ctx, index)
	if err != nil {
		return domain.Track{}, err
	}
	if !ok {
		return domain.Track{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if err := c.startPlaylistTrack(ctx, track, index); err != nil {
		return domain.Track{}, err
	}
	return track, nil
}

// Enqueue adds uri to the queue that plays after the committed track.
func (c *PlaybackCursor) Enqueue(ctx context.Context, uri domain.TrackURI) error {
	if c.playlist == "" {
		return ErrPlayerNotStarted
	}
	track, err := c.source.GetTrack(ctx, uri)
	if err != nil {
		track = domain.Track{URI: uri}
	}
	c.queue = append(c.queue, track)
	return nil
}

// Next moves to the following track. It reports false once nothing is left.
func (c *PlaybackCursor) Next(ctx context.Context) (domain.Track, bool, error) {
	if c.current == nil {
		return domain.Track{}, false, ErrNothingPlaying
	}

	if c.onDeck != nil {
		entry := *c.onDeck
		c.onDeck = nil
		if err := c.startPlaylistTrack(ctx, entry.track, entry.position); err != nil {
			return domain.Track{}, false, err
		}
		return entry.track, true, nil
	}

	if len(c.queue) > 0 {
		track := c.queue[0]
		c.queue = c.queue[1:]
		c.current = &cursorEntry{track: track, position: -1}
		return track, true, nil
	}

	track, ok, err := c.trackAt(ctx, c.next)
	if err != nil {
		return domain.Track{}, false, err
	}
	if !ok {
		c.current = nil
		return domain.Track{}, false, nil
	}
	if err := c.startPlaylistTrack(ctx, track, c.next); err != nil {
		return domain.Track{}, false, err
	}
	return track, true, nil
}

// Current returns the track that is playing.
func (c *PlaybackCursor) Current() (domain.Track, bool) {
	if c.current == nil {
		return domain.Track{}, false
	}
	return c.current.track, true
}

// Reset forgets the playlist and everything queued.
func (c *PlaybackCursor) Reset() {
	c.playlist = ""
	c.current = nil
	c.onDeck = nil
	c.queue = nil
	c.next = 0
}

func (c *PlaybackCursor) startPlaylistTrack(ctx context.Context, track domain.Track, position int) error {
	c.current = &cursorEntry{track: track, position: position}
	c.next = position + 1

	if len(c.queue) > 0 {
		return nil
	}
	following, ok, err := c.trackAt(ctx, c.next)
	if err != nil {
		return err
	}
	if ok {
		c.onDeck = &cursorEntry{track: following, position: c.next}
	}
	return nil
}

func (c *PlaybackCursor) trackAt(ctx context.Context, index int) (domain.Track, bool, error) {
	if index < 0 {
		return domain.Track{}, false, nil
	}
	page, err := c.source.GetPlaylistTracksPage(ctx, c.playlist, 1, index)
	if err != nil {
		return domain.Track{}, false, fmt.Errorf("load playlist track %d: %w", index, err)
	}
	if len(page.Items) == 0 {
		return domain.Track{}, false, nil
	}
	return page.Items[0], true, nil
}
