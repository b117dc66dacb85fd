package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	"github.com/sglre6355/sgrjam/internal/modules/jam/protocol"
)

// DefaultConnectRetries is the number of reconnects after the first failure.
const DefaultConnectRetries = 3

// maxMirrorReloads caps how often the initial load restarts because tracks
// were added while it ran.
const maxMirrorReloads = 3

// ClientConfig configures a ClientSession.
type ClientConfig struct {
	// MaxRetries is how many times a failed connection is retried.
	MaxRetries int
	PageSize   int
}

// LeaveOptions controls what happens to the backing playlist on leave.
type LeaveOptions struct {
	// Follow subscribes the user to the backing playlist.
	Follow bool
	// Rename renames the followed playlist when non-empty.
	Rename string
}

// DiscoveredHost is an advertising host found while discovering.
type DiscoveredHost struct {
	Endpoint domain.Endpoint
	Name     string
}

// ClientSnapshot is a copy of the client state for display.
type ClientSnapshot struct {
	State            domain.ClientState
	Host             domain.Endpoint
	HostID           domain.UserID
	PlaylistID       domain.PlaylistID
	CurrentPlayIndex int
	Tracks           []domain.Track
	Discovered       []DiscoveredHost
}

// ClientSession mirrors a host's queue and forwards track requests to it.
type ClientSession struct {
	*loop

	cfg       ClientConfig
	creds     domain.Credentials
	catalog   ports.CatalogService
	transport ports.Transport
	publisher ports.EventPublisher

	state      domain.ClientState
	mirror     *domain.Mirror
	host       domain.Endpoint
	hostID     domain.UserID
	playlistID domain.PlaylistID
	discovered map[domain.Endpoint]string

	reconnectCount          int
	hadEverConnected        bool
	hostInitiatedDisconnect bool
	leaving                 bool

	// generation invalidates catalog results from an earlier handshake.
	generation int
	// latestIndex is the newest play index received while initiating.
	latestIndex int
	// addedWhileLoading counts insertions broadcast during the current load.
	addedWhileLoading int
	reloads           int

	// fetches holds NewTrackAdded indices, applied in broadcast order.
	fetches  []int
	fetching bool
}

// Client loop events.
type (
	mirrorLoaded struct {
		generation int
		tracks     []domain.Track
		err        error
	}
	trackFetched struct {
		generation int
		index      int
		track      *domain.Track
		err        error
	}
	leaveDone struct {
		err error
	}
)

// NewClientSession creates a new ClientSession.
func NewClientSession(
	cfg ClientConfig,
	creds domain.Credentials,
	catalog ports.CatalogService,
	transport ports.Transport,
	publisher ports.EventPublisher,
) *ClientSession {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConnectRetries
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	return &ClientSession{
		loop:        newLoop(),
		cfg:         cfg,
		creds:       creds,
		catalog:     catalog,
		transport:   transport,
		publisher:   publisher,
		state:       domain.ClientIdle,
		mirror:      domain.NewMirror(),
		discovered:  make(map[domain.Endpoint]string),
		latestIndex: domain.UnknownIndex,
	}
}

// Run processes events until the session terminates or ctx is cancelled.
// It returns ErrJoinFailed if the host could never be reached.
func (c *ClientSession) Run(ctx context.Context) error {
	c.bind(ctx)

	transportEvents := c.transport.Events()

	for !c.finished() {
		select {
		case <-c.ctx.Done():
			c.disconnect()
			c.finish(nil)
		case ev := <-c.inbox:
			c.handle(ev)
		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			c.handle(ev)
		}
	}

	return c.err
}

// Discover starts looking for advertising hosts.
func (c *ClientSession) Discover(ctx context.Context) error {
	return c.exec(ctx, func() error {
		return c.transport.Discover(c.ctx)
	})
}

// Join connects to the host at ep.
func (c *ClientSession) Join(ctx context.Context, ep domain.Endpoint) error {
	return c.exec(ctx, func() error {
		return c.join(ep)
	})
}

// Request sends a track request to the host. The mirror is only updated
// once the host announces the insertion.
func (c *ClientSession) Request(ctx context.Context, uri domain.TrackURI) error {
	return c.exec(ctx, func() error {
		return c.request(uri)
	})
}

// Leave disconnects from the host, optionally follows the backing playlist,
// and terminates the session.
func (c *ClientSession) Leave(ctx context.Context, opts LeaveOptions) error {
	err := c.exec(ctx, func() error {
		c.leave(opts)
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current client state.
func (c *ClientSession) Snapshot(ctx context.Context) (ClientSnapshot, error) {
	var snap ClientSnapshot
	err := c.exec(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

// UpdateCredentials replaces the credentials used for requests and catalog calls.
func (c *ClientSession) UpdateCredentials(ctx context.Context, creds domain.Credentials) error {
	return c.post(ctx, credentialsUpdated{creds: creds})
}

func (c *ClientSession) handle(ev any) {
	switch ev := ev.(type) {
	case command:
		ev.reply <- ev.run()
	case mirrorLoaded:
		c.onMirrorLoaded(ev)
	case trackFetched:
		c.onTrackFetched(ev)
	case leaveDone:
		c.onLeaveDone(ev)
	case credentialsUpdated:
		c.creds = ev.creds
		slog.Info("client credentials updated", "user", ev.creds.UserID)
	case ports.TransportEvent:
		c.onTransportEvent(ev)
	default:
		slog.Warn("unhandled client event", "type", fmt.Sprintf("%T", ev))
	}
}

// --- connection ---

func (c *ClientSession) join(ep domain.Endpoint) error {
	if c.state != domain.ClientIdle {
		return ErrAlreadyJoined
	}

	c.host = ep
	c.reconnectCount = 0
	c.hadEverConnected = false
	c.hostInitiatedDisconnect = false

	slog.Info("joining host", "endpoint", ep)
	c.connect()
	return nil
}

func (c *ClientSession) connect() {
	c.setState(domain.ClientConnecting)
	if err := c.transport.Connect(c.ctx, c.host); err != nil {
		c.onConnectionLost(err)
	}
}

func (c *ClientSession) onTransportEvent(ev ports.TransportEvent) {
	switch ev.Kind {
	case ports.EndpointFound:
		if _, seen := c.discovered[ev.Endpoint]; !seen {
			c.publish(domain.EndpointDiscoveredEvent{Endpoint: ev.Endpoint, Name: ev.Name})
		}
		c.discovered[ev.Endpoint] = ev.Name
		return
	case ports.ConnectionRequested:
		if err := c.transport.Reject(ev.Endpoint); err != nil {
			slog.Warn("failed to reject connection", "endpoint", ev.Endpoint, "error", err)
		}
		return
	}

	if ev.Endpoint != c.host || c.leaving || c.state == domain.ClientIdle {
		return
	}

	switch ev.Kind {
	case ports.Connected:
		c.reconnectCount = 0
		c.hadEverConnected = true
		slog.Info("connected to host", "endpoint", ev.Endpoint)
	case ports.ConnectionFailed, ports.Disconnected:
		c.onConnectionLost(ev.Err)
	case ports.PayloadReceived:
		c.onPayload(ev.Payload)
	}
}

// onConnectionLost applies the bounded retry policy.
func (c *ClientSession) onConnectionLost(err error) {
	if c.state == domain.ClientDisconnected {
		return
	}
	c.reconnectCount++
	slog.Warn("connection to host lost",
		"endpoint", c.host,
		"attempt", c.reconnectCount,
		"error", err,
	)

	if c.hostInitiatedDisconnect {
		c.setState(domain.ClientDisconnected)
		return
	}

	if c.reconnectCount > c.cfg.MaxRetries {
		c.setState(domain.ClientDisconnected)
		if c.hadEverConnected {
			c.publish(domain.HostDisconnectedEvent{Endpoint: c.host})
			return
		}
		c.publish(domain.JoinFailedEvent{Endpoint: c.host, Attempts: c.reconnectCount})
		c.finish(ErrJoinFailed)
		return
	}

	c.setState(domain.ClientReconnectPending)
	c.connect()
}

// --- protocol ---

func (c *ClientSession) onPayload(payload []byte) {
	switch msg := protocol.Decode(payload).(type) {
	case protocol.InitiateClient:
		c.onInitiate(msg)
	case protocol.CurrentlyPlayingUpdate:
		c.onCurrentlyPlaying(msg.CurrentPlayIndex)
	case protocol.NewTrackAdded:
		c.onNewTrackAdded(msg.NewIndex)
	case protocol.HostDisconnecting:
		slog.Info("host is shutting down")
		c.hostInitiatedDisconnect = true
		c.publish(domain.FollowOrLeaveEvent{PlaylistID: c.playlistID})
	case protocol.Invalid:
		slog.Warn("dropping invalid payload", "reason", msg.Reason)
	default:
		slog.Warn("dropping unexpected message", "kind", msg.Kind().String())
	}
}

func (c *ClientSession) onInitiate(msg protocol.InitiateClient) {
	c.hostID = msg.HostID
	c.playlistID = msg.PlaylistID
	c.latestIndex = msg.CurrentPlayIndex
	c.generation++
	c.fetches = nil
	c.fetching = false
	c.reloads = 0
	c.mirror = domain.NewMirror()

	slog.Info("loading host playlist",
		"host", msg.HostID,
		"playlist", msg.PlaylistID,
		"index", msg.CurrentPlayIndex,
	)
	c.setState(domain.ClientInitiating)
	c.loadMirror()
}

func (c *ClientSession) loadMirror() {
	c.addedWhileLoading = 0

	ctx, gen, playlistID, pageSize := c.ctx, c.generation, c.playlistID, c.cfg.PageSize
	c.spawn(func() any {
		tracks, err := fetchAllTracks(ctx, c.catalog, playlistID, pageSize)
		return mirrorLoaded{generation: gen, tracks: tracks, err: err}
	})
}

func (c *ClientSession) onMirrorLoaded(ev mirrorLoaded) {
	if ev.generation != c.generation || c.state != domain.ClientInitiating {
		return
	}
	if ev.err != nil {
		slog.Warn("host playlist partially loaded", "tracks", len(ev.tracks), "error", ev.err)
	}

	// The pages may predate insertions broadcast during the load.
	if c.addedWhileLoading > 0 {
		if c.reloads < maxMirrorReloads {
			c.reloads++
			slog.Info("reloading host playlist",
				"added", c.addedWhileLoading,
				"attempt", c.reloads,
			)
			c.generation++
			c.loadMirror()
			return
		}
		slog.Warn("host playlist changed during every load, mirror may be stale",
			"added", c.addedWhileLoading,
		)
	}

	c.mirror.Load(ev.tracks)
	if c.latestIndex != domain.UnknownIndex && !c.mirror.SetCurrentPlayIndex(c.latestIndex) {
		slog.Warn("dropping out-of-range play index", "index", c.latestIndex, "tracks", c.mirror.Len())
	}

	c.setState(domain.ClientSynced)
	c.publish(domain.MirrorLoadedEvent{
		HostID:           c.hostID,
		PlaylistID:       c.playlistID,
		TrackCount:       c.mirror.Len(),
		CurrentPlayIndex: c.mirror.CurrentPlayIndex(),
	})
	c.publishNowPlaying()
}

func (c *ClientSession) onCurrentlyPlaying(index int) {
	switch c.state {
	case domain.ClientInitiating:
		c.latestIndex = index
	case domain.ClientSynced:
		if !c.mirror.SetCurrentPlayIndex(index) {
			slog.Warn("dropping out-of-range play index", "index", index, "tracks", c.mirror.Len())
			return
		}
		c.publishNowPlaying()
	default:
		slog.Debug("ignoring play index outside a session", "index", index)
	}
}

func (c *ClientSession) onNewTrackAdded(index int) {
	switch c.state {
	case domain.ClientInitiating:
		c.addedWhileLoading++
		slog.Debug("track added while loading", "index", index)
		return
	case domain.ClientSynced:
	default:
		slog.Debug("ignoring track insertion outside a session", "index", index)
		return
	}
	c.fetches = append(c.fetches, index)
	c.fetchNext()
}

func (c *ClientSession) fetchNext() {
	if c.fetching || len(c.fetches) == 0 {
		return
	}
	c.fetching = true

	ctx, gen, playlistID, index := c.ctx, c.generation, c.playlistID, c.fetches[0]
	c.spawn(func() any {
		page, err := c.catalog.GetPlaylistTracksPage(ctx, playlistID, 1, index)
		ev := trackFetched{generation: gen, index: index, err: err}
		if err == nil && len(page.Items) > 0 {
			ev.track = &page.Items[0]
		}
		return ev
	})
}

func (c *ClientSession) onTrackFetched(ev trackFetched) {
	if ev.generation != c.generation {
		return
	}
	c.fetching = false
	if len(c.fetches) > 0 {
		c.fetches = c.fetches[1:]
	}

	switch {
	case ev.err != nil:
		slog.Warn("failed to fetch added track", "index", ev.index, "error", ev.err)
	case ev.track == nil:
		slog.Warn("added track not found in playlist", "index", ev.index)
	case !c.mirror.InsertAt(ev.index, *ev.track):
		slog.Warn("dropping out-of-range insertion", "index", ev.index, "tracks", c.mirror.Len())
	default:
		c.publish(domain.TrackAddedEvent{Index: ev.index, Track: *ev.track})
	}

	c.fetchNext()
}

func (c *ClientSession) request(uri domain.TrackURI) error {
	if c.state != domain.ClientInitiating && c.state != domain.ClientSynced {
		return ErrNotJoined
	}

	payload, err := protocol.Encode(protocol.SongRequest{TrackURI: uri, RequesterID: c.creds.UserID})
	if err != nil {
		return err
	}
	return c.transport.Send(c.ctx, c.host, payload)
}

// --- leave ---

func (c *ClientSession) leave(opts LeaveOptions) {
	if c.leaving {
		return
	}
	c.leaving = true
	c.disconnect()

	if !opts.Follow || c.playlistID == "" {
		c.setState(domain.ClientDisconnected)
		c.finish(nil)
		return
	}

	ctx, creds, playlistID := context.WithoutCancel(c.ctx), c.creds, c.playlistID
	c.spawn(func() any {
		if err := c.catalog.FollowPlaylist(ctx, creds, playlistID); err != nil {
			return leaveDone{err: fmt.Errorf("follow playlist: %w", err)}
		}
		if opts.Rename != "" {
			if err := c.catalog.RenamePlaylist(ctx, creds, playlistID, opts.Rename); err != nil {
				return leaveDone{err: fmt.Errorf("rename playlist: %w", err)}
			}
		}
		return leaveDone{}
	})
}

func (c *ClientSession) onLeaveDone(ev leaveDone) {
	if ev.err != nil {
		slog.Warn("failed to keep playlist", "playlist", c.playlistID, "error", ev.err)
	} else {
		slog.Info("followed playlist", "playlist", c.playlistID)
	}
	c.setState(domain.ClientDisconnected)
	c.finish(nil)
}

func (c *ClientSession) disconnect() {
	if err := c.transport.DisconnectAll(); err != nil {
		slog.Warn("failed to disconnect", "error", err)
	}
}

// --- notifications ---

func (c *ClientSession) setState(state domain.ClientState) {
	if c.state == state {
		return
	}
	from := c.state
	c.state = state
	slog.Info("client state changed", "from", from.String(), "to", state.String())
	c.publish(domain.ClientStateChangedEvent{From: from, To: state})
}

func (c *ClientSession) publish(event domain.Event) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(event); err != nil {
		slog.Warn("failed to publish event", "event", event.EventName(), "error", err)
	}
}

func (c *ClientSession) publishNowPlaying() {
	c.publish(domain.NowPlayingChangedEvent{
		Index: c.mirror.CurrentPlayIndex(),
		Track: c.mirror.Current(),
	})
}

func (c *ClientSession) snapshot() ClientSnapshot {
	discovered := make([]DiscoveredHost, 0, len(c.discovered))
	for ep, name := range c.discovered {
		discovered = append(discovered, DiscoveredHost{Endpoint: ep, Name: name})
	}
	slices.SortFunc(discovered, func(a, b DiscoveredHost) int {
		return cmp.Compare(a.Endpoint, b.Endpoint)
	})

	return ClientSnapshot{
		State:            c.state,
		Host:             c.host,
		HostID:           c.hostID,
		PlaylistID:       c.playlistID,
		CurrentPlayIndex: c.mirror.CurrentPlayIndex(),
		Tracks:           c.mirror.Tracks(),
		Discovered:       discovered,
	}
}
