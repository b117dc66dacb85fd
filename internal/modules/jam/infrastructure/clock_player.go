package infrastructure

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// DefaultTrackLength is used for tracks the catalog has no duration for.
const DefaultTrackLength = 3 * time.Minute

// Ensure ClockPlayer implements Player.
var _ ports.Player = (*ClockPlayer)(nil)

// ClockPlayer is a silent Player that plays each track for its catalog
// duration multiplied by a scale factor.
type ClockPlayer struct {
	scale  float64
	events chan ports.PlayerEvent

	mu       sync.Mutex
	cursor   *PlaybackCursor
	timer    *time.Timer
	deadline time.Time
	// remaining is set while paused.
	remaining time.Duration
	paused    bool
	active    bool
	released  bool
	// generation invalidates timers that fired after a state change.
	generation uint64
}

// NewClockPlayer creates a ClockPlayer reading playlists from source.
// A scale of 0 plays tracks in real time.
func NewClockPlayer(source trackSource, scale float64) *ClockPlayer {
	if scale <= 0 {
		scale = 1
	}
	return &ClockPlayer{
		scale:  scale,
		events: make(chan ports.PlayerEvent, 32),
		cursor: NewPlaybackCursor(source),
	}
}

// Events returns the player event channel.
func (p *ClockPlayer) Events() <-chan ports.PlayerEvent {
	return p.events
}

func (p *ClockPlayer) emit(events ...ports.PlayerEvent) {
	for _, ev := range events {
		p.events <- ev
	}
}

// Play starts playlistURI at atIndex.
func (p *ClockPlayer) Play(ctx context.Context, playlistURI string, atIndex int) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPlayerReleased
	}

	track, err := p.cursor.Start(ctx, playlistURI, atIndex)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	var events []ports.PlayerEvent
	if !p.active {
		p.active = true
		events = append(events, ports.PlayerEvent{Kind: ports.PlayerBecameActive})
	}
	p.paused = false
	p.armLocked(p.lengthOf(track))
	events = append(events, ports.PlayerEvent{Kind: ports.PlayerStarted, URI: track.URI})
	p.mu.Unlock()

	slog.Debug("clock player started", "uri", track.URI, "index", atIndex)
	p.emit(events...)
	return nil
}

// Pause stops the clock, keeping the remaining time of the current track.
func (p *ClockPlayer) Pause(_ context.Context) error {
	p.mu.Lock()
	if _, ok := p.cursor.Current(); !ok || p.paused {
		p.mu.Unlock()
		return ErrNothingPlaying
	}
	p.remaining = max(time.Until(p.deadline), 0)
	p.stopLocked()
	p.paused = true
	p.mu.Unlock()

	p.emit(ports.PlayerEvent{Kind: ports.PlayerPaused})
	return nil
}

// Resume restarts the clock where Pause left it.
func (p *ClockPlayer) Resume(_ context.Context) error {
	p.mu.Lock()
	current, ok := p.cursor.Current()
	if !ok || !p.paused {
		p.mu.Unlock()
		return ErrNothingPlaying
	}
	p.paused = false
	p.armLocked(p.remaining)
	p.mu.Unlock()

	p.emit(ports.PlayerEvent{Kind: ports.PlayerStarted, URI: current.URI})
	return nil
}

// SkipNext ends the current track immediately.
func (p *ClockPlayer) SkipNext(ctx context.Context) error {
	p.mu.Lock()
	if _, ok := p.cursor.Current(); !ok {
		p.mu.Unlock()
		return ErrNothingPlaying
	}
	events := p.advanceLocked(ctx)
	p.mu.Unlock()

	p.emit(events...)
	return nil
}

// Enqueue queues uri after the committed track.
func (p *ClockPlayer) Enqueue(ctx context.Context, uri domain.TrackURI) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return ErrPlayerReleased
	}
	return p.cursor.Enqueue(ctx, uri)
}

// Release stops playback.
func (p *ClockPlayer) Release(_ context.Context) error {
	p.ForceRelease()
	return nil
}

// ForceRelease stops playback.
func (p *ClockPlayer) ForceRelease() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.cursor.Reset()
	p.released = true
}

func (p *ClockPlayer) lengthOf(track domain.Track) time.Duration {
	length := track.Duration
	if length <= 0 {
		length = DefaultTrackLength
	}
	return time.Duration(float64(length) * p.scale)
}

func (p *ClockPlayer) armLocked(d time.Duration) {
	p.stopLocked()
	p.deadline = time.Now().Add(d)
	generation := p.generation
	p.timer = time.AfterFunc(d, func() { p.onTrackEnd(generation) })
}

func (p *ClockPlayer) stopLocked() {
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *ClockPlayer) onTrackEnd(generation uint64) {
	p.mu.Lock()
	if generation != p.generation || p.released {
		p.mu.Unlock()
		return
	}
	events := p.advanceLocked(context.Background())
	p.mu.Unlock()

	p.emit(events...)
}

func (p *ClockPlayer) advanceLocked(ctx context.Context) []ports.PlayerEvent {
	p.stopLocked()

	track, ok, err := p.cursor.Next(ctx)
	if err != nil {
		slog.Warn("clock player could not advance", "error", err)
		p.cursor.Reset()
		return []ports.PlayerEvent{{Kind: ports.PlayerDeliveryDone}}
	}
	if !ok {
		return []ports.PlayerEvent{{Kind: ports.PlayerDeliveryDone}}
	}

	if p.paused {
		p.remaining = p.lengthOf(track)
	} else {
		p.armLocked(p.lengthOf(track))
	}
	return []ports.PlayerEvent{{Kind: ports.PlayerTrackAdvanced, URI: track.URI}}
}
