package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	"github.com/sglre6355/sgrjam/internal/modules/jam/protocol"
)

// DefaultReleaseTimeout bounds the graceful player release on shutdown.
const DefaultReleaseTimeout = 5 * time.Second

// HostConfig configures a HostSession.
type HostConfig struct {
	// SessionName is advertised to discovering clients.
	SessionName string
	// PlaylistName names the backing playlist. Defaults to "<user>'s jam".
	PlaylistName string
	FairPlay     bool
	// FillerPlaylist is shuffled into the backing playlist when set.
	FillerPlaylist domain.PlaylistID
	// Autoplay starts the player as soon as there is something to play.
	Autoplay       bool
	CatalogRetry   RetryPolicy
	ReleaseTimeout time.Duration
}

// HostSnapshot is a copy of the host state for display.
type HostSnapshot struct {
	State            domain.HostState
	Playlist         domain.Playlist
	CurrentPlayIndex int
	Pending          []domain.SongRequest
	Clients          []domain.Endpoint
}

// HostSession owns the authoritative queue and keeps connected clients in sync.
type HostSession struct {
	*loop

	cfg       HostConfig
	creds     domain.Credentials
	catalog   ports.CatalogService
	transport ports.Transport
	player    ports.Player
	publisher ports.EventPublisher

	state    domain.HostState
	user     domain.User
	playlist domain.Playlist
	queue    *domain.Queue
	clients  map[domain.Endpoint]struct{}
	names    map[domain.UserID]string

	// placements are applied to the catalog one at a time, in order.
	placements []pendingPlacement
	placing    bool

	// skipArmed absorbs the track the player pre-buffered before an
	// insertion replaced it.
	skipArmed bool
}

type pendingPlacement struct {
	request   domain.SongRequest
	placement domain.Placement
}

// Host loop events.
type (
	hostReady struct {
		user     domain.User
		playlist domain.Playlist
		filler   []domain.TrackURI
		err      error
	}
	placementDone struct {
		err error
	}
	requesterResolved struct {
		requestID uuid.UUID
		userID    domain.UserID
		name      string
		found     bool
	}
	credentialsUpdated struct {
		creds domain.Credentials
	}
)

// NewHostSession creates a new HostSession.
func NewHostSession(
	cfg HostConfig,
	creds domain.Credentials,
	catalog ports.CatalogService,
	transport ports.Transport,
	player ports.Player,
	publisher ports.EventPublisher,
) *HostSession {
	if cfg.CatalogRetry.Attempts <= 0 {
		cfg.CatalogRetry = DefaultRetryPolicy
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}

	return &HostSession{
		loop:      newLoop(),
		cfg:       cfg,
		creds:     creds,
		catalog:   catalog,
		transport: transport,
		player:    player,
		publisher: publisher,
		state:     domain.HostInitializing,
		queue:     domain.NewQueue(cfg.FairPlay),
		clients:   make(map[domain.Endpoint]struct{}),
		names:     make(map[domain.UserID]string),
	}
}

// Run sets up the backing playlist, starts advertising and processes events
// until the session shuts down or ctx is cancelled.
func (h *HostSession) Run(ctx context.Context) error {
	h.bind(ctx)
	h.start()

	transportEvents := h.transport.Events()
	playerEvents := h.player.Events()

	for !h.finished() {
		select {
		case <-h.ctx.Done():
			h.shutdown()
		case ev := <-h.inbox:
			h.handle(ev)
		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			h.handle(ev)
		case ev, ok := <-playerEvents:
			if !ok {
				playerEvents = nil
				continue
			}
			h.handle(ev)
		}
	}

	return h.err
}

// Request submits a track on behalf of the host user.
func (h *HostSession) Request(ctx context.Context, uri domain.TrackURI) error {
	return h.exec(ctx, func() error {
		return h.submit(uri, h.creds.User())
	})
}

// Play starts playback at the current play index.
func (h *HostSession) Play(ctx context.Context) error {
	return h.exec(ctx, h.play)
}

// Pause pauses playback.
func (h *HostSession) Pause(ctx context.Context) error {
	return h.exec(ctx, h.pause)
}

// Resume resumes paused playback.
func (h *HostSession) Resume(ctx context.Context) error {
	return h.exec(ctx, h.resume)
}

// Skip skips the current track.
func (h *HostSession) Skip(ctx context.Context) error {
	return h.exec(ctx, h.skip)
}

// Snapshot returns a copy of the current host state.
func (h *HostSession) Snapshot(ctx context.Context) (HostSnapshot, error) {
	var snap HostSnapshot
	err := h.exec(ctx, func() error {
		snap = h.snapshot()
		return nil
	})
	return snap, err
}

// UpdateCredentials replaces the credentials used for catalog calls.
func (h *HostSession) UpdateCredentials(ctx context.Context, creds domain.Credentials) error {
	return h.post(ctx, credentialsUpdated{creds: creds})
}

// Shutdown notifies clients, stops advertising and releases the player.
func (h *HostSession) Shutdown(ctx context.Context) error {
	err := h.exec(ctx, func() error {
		h.shutdown()
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (h *HostSession) handle(ev any) {
	switch ev := ev.(type) {
	case command:
		ev.reply <- ev.run()
	case hostReady:
		h.onReady(ev)
	case placementDone:
		h.onPlacementDone(ev)
	case requesterResolved:
		h.onRequesterResolved(ev)
	case credentialsUpdated:
		h.creds = ev.creds
		slog.Info("host credentials updated", "user", ev.creds.UserID)
	case ports.TransportEvent:
		h.onTransportEvent(ev)
	case ports.PlayerEvent:
		h.onPlayerEvent(ev)
	default:
		slog.Warn("unhandled host event", "type", fmt.Sprintf("%T", ev))
	}
}

// --- setup ---

func (h *HostSession) start() {
	ctx, creds := h.ctx, h.creds
	h.spawn(func() any {
		return h.setup(ctx, creds)
	})
}

func (h *HostSession) setup(ctx context.Context, creds domain.Credentials) hostReady {
	user, err := retry(ctx, h.cfg.CatalogRetry, "get current user",
		func(ctx context.Context) (domain.User, error) {
			return h.catalog.GetCurrentUser(ctx, creds)
		},
	)
	if err != nil {
		return hostReady{err: err}
	}

	name := h.cfg.PlaylistName
	if name == "" {
		name = user.DisplayName + "'s jam"
	}
	playlist, err := retry(ctx, h.cfg.CatalogRetry, "create playlist",
		func(ctx context.Context) (domain.Playlist, error) {
			return h.catalog.CreatePlaylist(ctx, creds, user.ID, name)
		},
	)
	if err != nil {
		return hostReady{err: err}
	}

	return hostReady{
		user:     user,
		playlist: playlist,
		filler:   h.loadFiller(ctx, creds, playlist.ID),
	}
}

// loadFiller shuffles the filler playlist into the backing playlist.
// It returns the tracks that were added, in playlist order.
func (h *HostSession) loadFiller(
	ctx context.Context,
	creds domain.Credentials,
	backing domain.PlaylistID,
) []domain.TrackURI {
	if h.cfg.FillerPlaylist == "" {
		return nil
	}

	tracks, err := fetchAllTracks(ctx, h.catalog, h.cfg.FillerPlaylist, DefaultPageSize)
	if err != nil {
		slog.Warn("filler playlist partially loaded", "playlist", h.cfg.FillerPlaylist, "error", err)
	}
	rand.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})

	uris := make([]domain.TrackURI, 0, len(tracks))
	for _, t := range tracks {
		if err := h.catalog.AddTrackAtPosition(ctx, creds, backing, t.URI, nil); err != nil {
			slog.Warn("stopped loading filler playlist", "added", len(uris), "error", err)
			break
		}
		uris = append(uris, t.URI)
	}
	return uris
}

func (h *HostSession) onReady(ev hostReady) {
	if ev.err != nil {
		h.fail(ev.err)
		return
	}

	h.user = ev.user
	h.playlist = ev.playlist
	if len(ev.filler) > 0 {
		h.queue.LoadFiller(ev.filler)
		slog.Info("filler playlist loaded", "tracks", len(ev.filler))
	}

	if err := h.transport.Advertise(h.ctx, h.cfg.SessionName); err != nil {
		h.fail(fmt.Errorf("advertise: %w", err))
		return
	}

	slog.Info("hosting session",
		"name", h.cfg.SessionName,
		"playlist", h.playlist.ID,
		"fair_play", h.queue.IsFairPlay(),
	)
	h.setState(domain.HostAdvertising)
	h.publishQueue()

	if h.cfg.Autoplay && !h.queue.IsEmpty() {
		_ = h.startPlayback()
	}
}

func (h *HostSession) fail(err error) {
	slog.Error("host session failed", "error", err)
	h.setState(domain.HostFailed)
	h.publish(domain.SessionFailedEvent{Reason: err.Error()})
	h.finish(fmt.Errorf("%w: %w", ErrSessionFailed, err))
}

// --- requests ---

func (h *HostSession) submit(uri domain.TrackURI, requester domain.User) error {
	if h.state != domain.HostAdvertising && !h.state.IsActive() {
		return ErrNotReady
	}

	name := requester.DisplayName
	if name == "" {
		name = h.names[requester.ID]
	}

	req := domain.NewSongRequest(uri, requester.ID, name)
	placement := h.queue.Enqueue(req, h.state.IsActive())

	slog.Info("song request scheduled",
		"uri", uri,
		"requester", requester.ID,
		"index", placement.Index,
		"position", placement.Position,
		"is_next", placement.IsNext,
	)

	if name == "" {
		h.resolveRequester(req.ID, requester.ID)
	}

	h.placements = append(h.placements, pendingPlacement{request: req, placement: placement})
	h.publishQueue()
	h.placeNext()

	return nil
}

// resolveRequester looks up a display name without holding up the insertion.
func (h *HostSession) resolveRequester(requestID uuid.UUID, userID domain.UserID) {
	ctx := h.ctx
	h.spawn(func() any {
		user, err := h.catalog.GetUserByID(ctx, userID)
		if err != nil {
			slog.Warn("requester lookup failed", "user", userID, "error", err)
			return requesterResolved{
				requestID: requestID,
				userID:    userID,
				name:      domain.UnknownUser.DisplayName,
			}
		}
		return requesterResolved{
			requestID: requestID,
			userID:    userID,
			name:      user.DisplayName,
			found:     true,
		}
	})
}

func (h *HostSession) onRequesterResolved(ev requesterResolved) {
	if ev.found {
		h.names[ev.userID] = ev.name
	}
	if h.queue.SetRequesterName(ev.requestID, ev.name) {
		h.publishQueue()
	}
}

func (h *HostSession) placeNext() {
	if h.placing || len(h.placements) == 0 {
		return
	}
	h.placing = true

	next := h.placements[0]
	ctx, creds, playlistID := h.ctx, h.creds, h.playlist.ID
	position := next.placement.Position
	h.spawn(func() any {
		err := h.catalog.AddTrackAtPosition(ctx, creds, playlistID, next.request.TrackURI, &position)
		return placementDone{err: err}
	})
}

func (h *HostSession) onPlacementDone(ev placementDone) {
	h.placing = false
	if len(h.placements) == 0 {
		return
	}
	done := h.placements[0]
	h.placements = h.placements[1:]

	if ev.err != nil {
		h.rollback(done, ev.err)
		h.placeNext()
		return
	}

	position := done.placement.Position
	h.broadcast(h.ctx, protocol.NewTrackAdded{NewIndex: position})
	h.publish(domain.TrackAddedEvent{
		Index:         position,
		Track:         domain.Track{URI: done.request.TrackURI},
		RequesterName: done.request.RequesterName,
	})

	switch {
	case h.state == domain.HostWaitingForTrack:
		_ = h.startPlayback()
	case h.state == domain.HostAdvertising && h.cfg.Autoplay:
		_ = h.startPlayback()
	case done.placement.IsNext && (h.state == domain.HostPlaying || h.state == domain.HostPaused):
		h.reconcileOnDeck(done.request)
	}

	h.placeNext()
}

// rollback removes a request whose catalog placement failed and shifts the
// positions of the placements queued behind it.
func (h *HostSession) rollback(failed pendingPlacement, err error) {
	slog.Error("failed to add track to playlist",
		"uri", failed.request.TrackURI,
		"position", failed.placement.Position,
		"error", err,
	)

	h.queue.Remove(failed.request.ID)
	for i := range h.placements {
		if h.placements[i].placement.Position > failed.placement.Position {
			h.placements[i].placement.Position--
		}
	}
	h.publishQueue()
}

// reconcileOnDeck brings the player in line with a request that displaced
// the on-deck track. The queue may have advanced since the request was
// scheduled, so its current index decides the correction.
func (h *HostSession) reconcileOnDeck(req domain.SongRequest) {
	switch index := h.queue.IndexOf(req.ID); index {
	case 1:
		h.correctOnDeck(req.TrackURI)
	case 0:
		// The player moved on to the stale on-deck track before the
		// request reached the catalog.
		h.restartAtCurrent()
	default:
		slog.Debug("no on-deck correction needed", "uri", req.TrackURI, "index", index)
	}
}

// restartAtCurrent restarts the player at the current play index, keeping
// it paused if it was.
func (h *HostSession) restartAtCurrent() {
	index := h.queue.CurrentPlayIndex()
	if err := h.player.Play(h.ctx, h.playlist.URI(), index); err != nil {
		slog.Error("failed to restart playback", "index", index, "error", err)
		return
	}
	h.skipArmed = false
	slog.Info("restarted playback at current track", "index", index)

	if h.state == domain.HostPaused {
		if err := h.player.Pause(h.ctx); err != nil {
			slog.Warn("failed to pause restarted playback", "error", err)
			h.setState(domain.HostPlaying)
		}
	}
}

// correctOnDeck queues uri in the player and arms a skip for the track the
// player had already committed to.
func (h *HostSession) correctOnDeck(uri domain.TrackURI) {
	if err := h.player.Enqueue(h.ctx, uri); err != nil {
		slog.Warn("failed to enqueue on-deck track", "uri", uri, "error", err)
		return
	}
	h.skipArmed = true
	slog.Debug("armed defensive skip", "uri", uri)
}

// --- playback ---

func (h *HostSession) play() error {
	switch {
	case h.state.IsTerminal():
		return ErrSessionClosed
	case h.state == domain.HostInitializing:
		return ErrNotReady
	case h.state == domain.HostPlaying || h.state == domain.HostPaused:
		return ErrAlreadyPlaying
	}
	return h.startPlayback()
}

func (h *HostSession) startPlayback() error {
	if h.queue.IsEmpty() {
		return ErrQueueEmpty
	}

	index := h.queue.CurrentPlayIndex()
	if err := h.player.Play(h.ctx, h.playlist.URI(), index); err != nil {
		slog.Error("failed to start playback", "index", index, "error", err)
		return err
	}

	h.skipArmed = false
	h.setState(domain.HostPlaying)
	h.publishNowPlaying()
	return nil
}

func (h *HostSession) pause() error {
	if h.state != domain.HostPlaying {
		return ErrNotPlaying
	}
	if err := h.player.Pause(h.ctx); err != nil {
		return err
	}
	h.setState(domain.HostPaused)
	return nil
}

func (h *HostSession) resume() error {
	if h.state != domain.HostPaused {
		return ErrNotPaused
	}
	if err := h.player.Resume(h.ctx); err != nil {
		return err
	}
	h.setState(domain.HostPlaying)
	return nil
}

func (h *HostSession) skip() error {
	if h.state != domain.HostPlaying && h.state != domain.HostPaused {
		return ErrNotPlaying
	}
	return h.player.SkipNext(h.ctx)
}

func (h *HostSession) onPlayerEvent(ev ports.PlayerEvent) {
	slog.Debug("player event", "kind", ev.Kind.String(), "uri", ev.URI)

	switch ev.Kind {
	case ports.PlayerBecameActive:
		slog.Info("player is active")
	case ports.PlayerStarted:
		if h.state == domain.HostPaused {
			h.setState(domain.HostPlaying)
		}
	case ports.PlayerPaused:
		if h.state == domain.HostPlaying {
			h.setState(domain.HostPaused)
		}
	case ports.PlayerTrackAdvanced:
		h.onTrackAdvanced()
	case ports.PlayerDeliveryDone:
		h.onDeliveryDone()
	}
}

func (h *HostSession) onTrackAdvanced() {
	if h.state != domain.HostPlaying && h.state != domain.HostPaused {
		return
	}

	if h.skipArmed {
		h.skipArmed = false
		slog.Debug("skipping pre-buffered track")
		if err := h.player.SkipNext(h.ctx); err != nil {
			slog.Warn("failed to skip pre-buffered track", "error", err)
		}
		return
	}

	h.advance()
}

func (h *HostSession) onDeliveryDone() {
	if h.state != domain.HostPlaying && h.state != domain.HostPaused {
		return
	}
	h.skipArmed = false
	h.advance()
	h.setState(domain.HostWaitingForTrack)
}

func (h *HostSession) advance() {
	if _, ok := h.queue.Advance(); !ok {
		return
	}

	h.broadcast(h.ctx, protocol.CurrentlyPlayingUpdate{CurrentPlayIndex: h.queue.CurrentPlayIndex()})
	h.publishQueue()
	h.publishNowPlaying()
}

// --- transport ---

func (h *HostSession) onTransportEvent(ev ports.TransportEvent) {
	switch ev.Kind {
	case ports.ConnectionRequested:
		if h.state != domain.HostAdvertising && !h.state.IsActive() {
			if err := h.transport.Reject(ev.Endpoint); err != nil {
				slog.Warn("failed to reject connection", "endpoint", ev.Endpoint, "error", err)
			}
			return
		}
		if err := h.transport.AcceptIncoming(h.ctx, ev.Endpoint); err != nil {
			slog.Warn("failed to accept connection", "endpoint", ev.Endpoint, "error", err)
		}

	case ports.Connected:
		h.clients[ev.Endpoint] = struct{}{}
		slog.Info("client connected", "endpoint", ev.Endpoint, "clients", len(h.clients))
		h.send(h.ctx, ev.Endpoint, protocol.InitiateClient{
			HostID:           h.user.ID,
			PlaylistID:       h.playlist.ID,
			CurrentPlayIndex: h.queue.CurrentPlayIndex(),
		})
		h.publish(domain.ClientConnectedEvent{Endpoint: ev.Endpoint, ClientCount: len(h.clients)})

	case ports.Disconnected, ports.ConnectionFailed:
		if _, ok := h.clients[ev.Endpoint]; !ok {
			return
		}
		delete(h.clients, ev.Endpoint)
		slog.Info("client disconnected", "endpoint", ev.Endpoint, "clients", len(h.clients))
		h.publish(domain.ClientDisconnectedEvent{Endpoint: ev.Endpoint, ClientCount: len(h.clients)})

	case ports.PayloadReceived:
		h.onPayload(ev.Endpoint, ev.Payload)
	}
}

func (h *HostSession) onPayload(from domain.Endpoint, payload []byte) {
	if _, ok := h.clients[from]; !ok {
		slog.Warn("dropping payload from unknown endpoint", "endpoint", from)
		return
	}

	switch msg := protocol.Decode(payload).(type) {
	case protocol.SongRequest:
		if err := h.submit(msg.TrackURI, domain.User{ID: msg.RequesterID}); err != nil {
			slog.Warn("dropping song request", "endpoint", from, "error", err)
		}
	case protocol.Invalid:
		slog.Warn("dropping invalid payload", "endpoint", from, "reason", msg.Reason)
	default:
		slog.Warn("dropping unexpected message", "endpoint", from, "kind", msg.Kind().String())
	}
}

func (h *HostSession) send(ctx context.Context, ep domain.Endpoint, msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("failed to encode message", "kind", msg.Kind().String(), "error", err)
		return
	}
	if err := h.transport.Send(ctx, ep, payload); err != nil {
		slog.Warn("failed to send message", "endpoint", ep, "kind", msg.Kind().String(), "error", err)
	}
}

// broadcast sends msg to every connected client. Failures are not retried.
func (h *HostSession) broadcast(ctx context.Context, msg protocol.Message) {
	for ep := range h.clients {
		h.send(ctx, ep, msg)
	}
}

// --- shutdown ---

func (h *HostSession) shutdown() {
	if h.state.IsTerminal() {
		h.finish(nil)
		return
	}
	ctx := context.WithoutCancel(h.ctx)

	h.broadcast(ctx, protocol.HostDisconnecting{})
	if err := h.transport.StopAdvertising(); err != nil {
		slog.Warn("failed to stop advertising", "error", err)
	}
	if err := h.transport.DisconnectAll(); err != nil {
		slog.Warn("failed to disconnect clients", "error", err)
	}
	h.releasePlayer(ctx)

	h.setState(domain.HostShuttingDown)
	h.finish(nil)
}

func (h *HostSession) releasePlayer(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ReleaseTimeout)
	defer cancel()

	if err := h.player.Release(ctx); err != nil {
		slog.Warn("player release did not complete, forcing", "error", err)
		h.player.ForceRelease()
	}
}

// --- notifications ---

func (h *HostSession) setState(state domain.HostState) {
	if h.state == state {
		return
	}
	from := h.state
	h.state = state
	slog.Info("host state changed", "from", from.String(), "to", state.String())
	h.publish(domain.HostStateChangedEvent{From: from, To: state})
}

func (h *HostSession) publish(event domain.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		slog.Warn("failed to publish event", "event", event.EventName(), "error", err)
	}
}

func (h *HostSession) publishQueue() {
	h.publish(domain.QueueUpdatedEvent{
		CurrentPlayIndex: h.queue.CurrentPlayIndex(),
		Pending:          h.queue.Pending(),
	})
}

func (h *HostSession) publishNowPlaying() {
	ev := domain.NowPlayingChangedEvent{Index: h.queue.CurrentPlayIndex()}
	if cur := h.queue.Current(); cur != nil {
		ev.Track = &domain.Track{URI: cur.TrackURI}
		ev.RequesterName = cur.RequesterName
	}
	h.publish(ev)
}

func (h *HostSession) snapshot() HostSnapshot {
	clients := make([]domain.Endpoint, 0, len(h.clients))
	for ep := range h.clients {
		clients = append(clients, ep)
	}
	slices.Sort(clients)

	return HostSnapshot{
		State:            h.state,
		Playlist:         h.playlist,
		CurrentPlayIndex: h.queue.CurrentPlayIndex(),
		Pending:          h.queue.Pending(),
		Clients:          clients,
	}
}
