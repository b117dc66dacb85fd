package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// voiceConnectionTimeout is the maximum time to wait for voice connection to be established.
const voiceConnectionTimeout = 10 * time.Second

// ErrNoLavalinkNode is returned when no Lavalink node is available.
var ErrNoLavalinkNode = errors.New("no available Lavalink node")

// ErrTrackUnavailable is returned when Lavalink cannot resolve a track URI.
var ErrTrackUnavailable = errors.New("track unavailable")

// pendingVoiceConnection tracks the state of a pending voice connection.
type pendingVoiceConnection struct {
	mu             sync.Mutex
	hasVoiceState  bool
	hasVoiceServer bool
	ready          chan struct{}
}

// onEvent marks an event as received and signals ready if both events are present.
func (p *pendingVoiceConnection) onEvent(isVoiceState bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isVoiceState {
		p.hasVoiceState = true
	} else {
		p.hasVoiceServer = true
	}

	if p.hasVoiceState && p.hasVoiceServer {
		select {
		case <-p.ready:
		default:
			close(p.ready)
		}
	}
}

// voiceEventBuffer holds one half of the voice handshake until the other
// half arrives, so Lavalink never sees a partial voice state.
type voiceEventBuffer struct {
	mu sync.Mutex

	hasVoiceState bool
	channelID     *snowflake.ID
	sessionID     string

	hasVoiceServer bool
	token          string
	endpoint       string
}

// setVoiceState stores voice state data and returns true if both events are now ready.
func (b *voiceEventBuffer) setVoiceState(channelID *snowflake.ID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceState = true
	b.channelID = channelID
	b.sessionID = sessionID
	return b.hasVoiceServer
}

// setVoiceServer stores voice server data and returns true if both events are now ready.
func (b *voiceEventBuffer) setVoiceServer(token, endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceServer = true
	b.token = token
	b.endpoint = endpoint
	return b.hasVoiceState
}

// take returns the buffered data and resets the buffer.
func (b *voiceEventBuffer) take() (channelID *snowflake.ID, sessionID, token, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channelID, sessionID, token, endpoint = b.channelID, b.sessionID, b.token, b.endpoint

	b.hasVoiceState = false
	b.hasVoiceServer = false
	b.channelID = nil
	b.sessionID = ""
	b.token = ""
	b.endpoint = ""
	return
}

// LavalinkConfig contains Lavalink connection configuration.
type LavalinkConfig struct {
	Address  string
	Password string
	GuildID  snowflake.ID
	// VoiceChannelID is the channel the player joins on first Play.
	VoiceChannelID snowflake.ID
}

// Ensure LavalinkPlayer implements Player.
var _ ports.Player = (*LavalinkPlayer)(nil)

// LavalinkPlayer plays the backing playlist into a Discord voice channel
// through a Lavalink node. Track URIs are passed to Lavalink as identifiers.
type LavalinkPlayer struct {
	link    disgolink.Client
	session *discordgo.Session
	botID   snowflake.ID
	cfg     LavalinkConfig

	events chan ports.PlayerEvent

	pendingMu sync.Mutex
	pending   *pendingVoiceConnection
	voice     voiceEventBuffer

	mu     sync.Mutex
	cursor *PlaybackCursor
	joined bool
	active bool
}

// NewLavalinkPlayer connects to the Lavalink node. Voice updates for the bot
// must be forwarded to OnVoiceStateUpdate and OnVoiceServerUpdate.
// Playlists are read from source.
func NewLavalinkPlayer(
	session *discordgo.Session,
	source trackSource,
	cfg LavalinkConfig,
) (*LavalinkPlayer, error) {
	botID, err := snowflake.Parse(session.State.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bot ID: %w", err)
	}

	p := &LavalinkPlayer{
		session: session,
		botID:   botID,
		cfg:     cfg,
		events:  make(chan ports.PlayerEvent, 32),
		cursor:  NewPlaybackCursor(source),
	}

	p.link = disgolink.New(botID,
		disgolink.WithListenerFunc(p.onTrackStart),
		disgolink.WithListenerFunc(p.onTrackEnd),
		disgolink.WithListenerFunc(p.onTrackException),
		disgolink.WithListenerFunc(p.onTrackStuck),
	)

	node, err := p.link.AddNode(context.Background(), disgolink.NodeConfig{
		Name:     "main",
		Address:  cfg.Address,
		Password: cfg.Password,
		Secure:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add Lavalink node: %w", err)
	}

	slog.Info("connected to Lavalink", "node", node.Config().Name, "address", cfg.Address)
	return p, nil
}

// Events returns the player event channel.
func (p *LavalinkPlayer) Events() <-chan ports.PlayerEvent {
	return p.events
}

func (p *LavalinkPlayer) emit(events ...ports.PlayerEvent) {
	for _, ev := range events {
		p.events <- ev
	}
}

// Play joins the voice channel if needed and starts playlistURI at atIndex.
func (p *LavalinkPlayer) Play(ctx context.Context, playlistURI string, atIndex int) error {
	events, err := p.start(ctx, playlistURI, atIndex)
	if err != nil {
		return err
	}
	p.emit(events...)
	return nil
}

func (p *LavalinkPlayer) start(
	ctx context.Context,
	playlistURI string,
	atIndex int,
) ([]ports.PlayerEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.joined {
		if err := p.joinChannel(ctx); err != nil {
			return nil, err
		}
		p.joined = true
	}

	track, err := p.cursor.Start(ctx, playlistURI, atIndex)
	if err != nil {
		return nil, err
	}
	if err := p.playLocked(ctx, track.URI); err != nil {
		return nil, err
	}

	var events []ports.PlayerEvent
	if !p.active {
		p.active = true
		events = append(events, ports.PlayerEvent{Kind: ports.PlayerBecameActive})
	}
	return append(events, ports.PlayerEvent{Kind: ports.PlayerStarted, URI: track.URI}), nil
}

// Pause pauses the current playback.
func (p *LavalinkPlayer) Pause(ctx context.Context) error {
	if err := p.link.Player(p.cfg.GuildID).Update(ctx, lavalink.WithPaused(true)); err != nil {
		return fmt.Errorf("failed to pause playback: %w", err)
	}
	p.emit(ports.PlayerEvent{Kind: ports.PlayerPaused})
	return nil
}

// Resume resumes the paused playback.
func (p *LavalinkPlayer) Resume(ctx context.Context) error {
	if err := p.link.Player(p.cfg.GuildID).Update(ctx, lavalink.WithPaused(false)); err != nil {
		return fmt.Errorf("failed to resume playback: %w", err)
	}

	p.mu.Lock()
	current, _ := p.cursor.Current()
	p.mu.Unlock()

	p.emit(ports.PlayerEvent{Kind: ports.PlayerStarted, URI: current.URI})
	return nil
}

// SkipNext moves to the following track immediately.
func (p *LavalinkPlayer) SkipNext(ctx context.Context) error {
	p.mu.Lock()
	if _, ok := p.cursor.Current(); !ok {
		p.mu.Unlock()
		return ErrNothingPlaying
	}
	ev := p.advanceLocked(ctx)
	p.mu.Unlock()

	p.emit(ev)
	return nil
}

// Enqueue queues uri after the committed track.
func (p *LavalinkPlayer) Enqueue(ctx context.Context, uri domain.TrackURI) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cursor.Enqueue(ctx, uri)
}

// Release stops playback and leaves the voice channel.
func (p *LavalinkPlayer) Release(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cursor.Reset()
	if player := p.link.ExistingPlayer(p.cfg.GuildID); player != nil {
		if err := player.Destroy(ctx); err != nil {
			slog.Warn("failed to destroy player", "guild", p.cfg.GuildID, "error", err)
		}
	}
	if !p.joined {
		return nil
	}
	if err := p.session.ChannelVoiceJoinManual(p.cfg.GuildID.String(), "", false, false); err != nil {
		return fmt.Errorf("failed to leave voice channel: %w", err)
	}
	p.joined = false
	return nil
}

// ForceRelease leaves the voice channel without waiting for Lavalink.
func (p *LavalinkPlayer) ForceRelease() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), voiceConnectionTimeout)
		defer cancel()
		if err := p.Release(ctx); err != nil {
			slog.Warn("forced release failed", "error", err)
		}
	}()
}

// Close disconnects from every Lavalink node.
func (p *LavalinkPlayer) Close() {
	p.link.Close()
}

// joinChannel connects to the configured voice channel.
// It waits for both VoiceStateUpdate and VoiceServerUpdate events before returning.
func (p *LavalinkPlayer) joinChannel(ctx context.Context) error {
	pending := &pendingVoiceConnection{ready: make(chan struct{})}

	p.pendingMu.Lock()
	p.pending = pending
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		p.pending = nil
		p.pendingMu.Unlock()
	}()

	err := p.session.ChannelVoiceJoinManual(
		p.cfg.GuildID.String(),
		p.cfg.VoiceChannelID.String(),
		false,
		true,
	)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	select {
	case <-pending.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for voice connection: %w", ctx.Err())
	case <-time.After(voiceConnectionTimeout):
		return fmt.Errorf("timeout waiting for voice connection")
	}
}

// playLocked resolves uri on the best node and replaces the playing track.
func (p *LavalinkPlayer) playLocked(ctx context.Context, uri domain.TrackURI) error {
	node := p.link.BestNode()
	if node == nil {
		return ErrNoLavalinkNode
	}

	result, err := node.LoadTracks(ctx, string(uri))
	if err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}
	track, err := pickTrack(result)
	if err != nil {
		return fmt.Errorf("%s: %w", uri, err)
	}

	// Use WithEncodedTrack to avoid userData:null issue
	if err := p.link.Player(p.cfg.GuildID).Update(ctx, lavalink.WithEncodedTrack(track.Encoded)); err != nil {
		return fmt.Errorf("failed to play track: %w", err)
	}
	return nil
}

// advanceLocked moves the cursor and plays whatever comes next. Tracks
// Lavalink cannot load are skipped.
func (p *LavalinkPlayer) advanceLocked(ctx context.Context) ports.PlayerEvent {
	for {
		track, ok, err := p.cursor.Next(ctx)
		if err != nil || !ok {
			if err != nil {
				slog.Warn("failed to advance playlist", "error", err)
			}
			p.cursor.Reset()
			if err := p.link.Player(p.cfg.GuildID).Update(ctx, lavalink.WithNullTrack()); err != nil {
				slog.Warn("failed to stop playback", "error", err)
			}
			return ports.PlayerEvent{Kind: ports.PlayerDeliveryDone}
		}

		if err := p.playLocked(ctx, track.URI); err != nil {
			slog.Warn("skipping unplayable track", "uri", track.URI, "error", err)
			continue
		}
		return ports.PlayerEvent{Kind: ports.PlayerTrackAdvanced, URI: track.URI}
	}
}

// pickTrack selects the track to play from a load result.
func pickTrack(result *lavalink.LoadResult) (lavalink.Track, error) {
	switch data := result.Data.(type) {
	case lavalink.Track:
		return data, nil
	case lavalink.Playlist:
		if len(data.Tracks) > 0 {
			return data.Tracks[0], nil
		}
	case lavalink.Search:
		if len(data) > 0 {
			return data[0], nil
		}
	case lavalink.Exception:
		return lavalink.Track{}, fmt.Errorf("%w: %s", ErrTrackUnavailable, data.Message)
	}
	return lavalink.Track{}, ErrTrackUnavailable
}

// advancesOnEnd reports whether a track end should move to the next track.
// Stopped and replaced tracks were ended by the player itself, which has
// already moved on.
func advancesOnEnd(reason lavalink.TrackEndReason) bool {
	switch reason {
	case lavalink.TrackEndReasonFinished, lavalink.TrackEndReasonLoadFailed:
		return true
	default:
		return false
	}
}

// OnVoiceServerUpdate handles Discord voice server updates.
func (p *LavalinkPlayer) OnVoiceServerUpdate(event *discordgo.VoiceServerUpdate) {
	if event.GuildID != p.cfg.GuildID.String() {
		return
	}

	if p.voice.setVoiceServer(event.Token, event.Endpoint) {
		p.forwardVoiceEvents()
	}
	p.signalPending(false)
}

// OnVoiceStateUpdate handles Discord voice state updates for the bot.
func (p *LavalinkPlayer) OnVoiceStateUpdate(event *discordgo.VoiceStateUpdate) {
	if event.UserID != p.botID.String() || event.GuildID != p.cfg.GuildID.String() {
		return
	}

	// An empty channel ID means the bot is disconnecting.
	if event.ChannelID == "" {
		p.link.OnVoiceStateUpdate(context.Background(), p.cfg.GuildID, nil, event.SessionID)
		p.voice.take()
		return
	}

	channelID, err := snowflake.Parse(event.ChannelID)
	if err != nil {
		slog.Error("failed to parse channel ID in voice state update", "error", err)
		return
	}
	if p.voice.setVoiceState(&channelID, event.SessionID) {
		p.forwardVoiceEvents()
	}
	p.signalPending(true)
}

func (p *LavalinkPlayer) signalPending(isVoiceState bool) {
	p.pendingMu.Lock()
	pending := p.pending
	p.pendingMu.Unlock()

	if pending != nil {
		pending.onEvent(isVoiceState)
	}
}

// forwardVoiceEvents sends the buffered voice events to Lavalink in order.
func (p *LavalinkPlayer) forwardVoiceEvents() {
	channelID, sessionID, token, endpoint := p.voice.take()

	slog.Debug("forwarding buffered voice events to Lavalink",
		"guild", p.cfg.GuildID,
		"channel", channelID,
		"hasSessionID", sessionID != "",
	)

	p.link.OnVoiceStateUpdate(context.Background(), p.cfg.GuildID, channelID, sessionID)
	p.link.OnVoiceServerUpdate(context.Background(), p.cfg.GuildID, token, endpoint)
}

func (p *LavalinkPlayer) onTrackStart(player disgolink.Player, event lavalink.TrackStartEvent) {
	slog.Debug("track started", "guild", player.GuildID(), "track", event.Track.Info.Title)
}

func (p *LavalinkPlayer) onTrackEnd(player disgolink.Player, event lavalink.TrackEndEvent) {
	slog.Debug("track ended", "guild", player.GuildID(), "reason", event.Reason)

	if !advancesOnEnd(event.Reason) {
		return
	}

	p.mu.Lock()
	if _, ok := p.cursor.Current(); !ok {
		p.mu.Unlock()
		return
	}
	ev := p.advanceLocked(context.Background())
	p.mu.Unlock()

	p.emit(ev)
}

func (p *LavalinkPlayer) onTrackException(
	player disgolink.Player,
	event lavalink.TrackExceptionEvent,
) {
	slog.Warn("track exception", "guild", player.GuildID(), "error", event.Exception.Message)
}

func (p *LavalinkPlayer) onTrackStuck(player disgolink.Player, event lavalink.TrackStuckEvent) {
	slog.Warn("track stuck", "guild", player.GuildID(), "threshold", event.Threshold)
}
