package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	"github.com/sglre6355/sgrjam/internal/modules/jam/protocol"
)

var errCatalog = errors.New("catalog unavailable")

// syncSpawn makes a loop run spawned work inline so tests can drain
// deterministically.
func syncSpawn(l *loop) {
	l.spawn = func(fn func() any) {
		if ev := fn(); ev != nil {
			l.inbox <- ev
		}
	}
}

// drain handles queued host events until the inbox is empty.
func (h *HostSession) drain() {
	drainInbox(h.loop, h.handle)
}

// drain handles queued client events until the inbox is empty.
func (c *ClientSession) drain() {
	drainInbox(c.loop, c.handle)
}

func drainInbox(l *loop, handle func(any)) {
	for {
		select {
		case ev := <-l.inbox:
			handle(ev)
		default:
			return
		}
	}
}

// --- catalog ---

type addCall struct {
	playlistID domain.PlaylistID
	uri        domain.TrackURI
	position   *int
}

type pageCall struct {
	playlistID domain.PlaylistID
	limit      int
	offset     int
}

type mockCatalog struct {
	mu sync.Mutex

	user domain.User
	// getUserFailures and createFailures fail the first n calls.
	getUserFailures int
	createFailures  int
	getUserCalls    int
	createCalls     int

	users     map[domain.UserID]domain.User
	playlists map[domain.PlaylistID][]domain.Track
	addErrs   map[domain.TrackURI]error
	pageErr   error

	added     []addCall
	pageCalls []pageCall
	followed  []domain.PlaylistID
	renamed   map[domain.PlaylistID]string
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		user:      domain.User{ID: "alice", DisplayName: "Alice"},
		users:     make(map[domain.UserID]domain.User),
		playlists: make(map[domain.PlaylistID][]domain.Track),
		addErrs:   make(map[domain.TrackURI]error),
		renamed:   make(map[domain.PlaylistID]string),
	}
}

func (m *mockCatalog) GetCurrentUser(_ context.Context, _ domain.Credentials) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getUserCalls++
	if m.getUserCalls <= m.getUserFailures {
		return domain.User{}, errCatalog
	}
	return m.user, nil
}

func (m *mockCatalog) CreatePlaylist(
	_ context.Context,
	_ domain.Credentials,
	ownerID domain.UserID,
	name string,
) (domain.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.createCalls <= m.createFailures {
		return domain.Playlist{}, errCatalog
	}
	m.playlists["jam"] = nil
	return domain.Playlist{ID: "jam", Name: name, OwnerID: ownerID}, nil
}

func (m *mockCatalog) GetPlaylistTracksPage(
	_ context.Context,
	playlistID domain.PlaylistID,
	limit, offset int,
) (*ports.TracksPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pageCalls = append(m.pageCalls, pageCall{playlistID: playlistID, limit: limit, offset: offset})
	if m.pageErr != nil {
		return nil, m.pageErr
	}

	tracks := m.playlists[playlistID]
	start := min(offset, len(tracks))
	end := min(offset+limit, len(tracks))
	page := &ports.TracksPage{Items: slices.Clone(tracks[start:end])}
	if end < len(tracks) {
		page.NextOffset = &end
	}
	return page, nil
}

func (m *mockCatalog) AddTrackAtPosition(
	_ context.Context,
	_ domain.Credentials,
	playlistID domain.PlaylistID,
	uri domain.TrackURI,
	position *int,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.added = append(m.added, addCall{playlistID: playlistID, uri: uri, position: position})
	if err := m.addErrs[uri]; err != nil {
		return err
	}

	tracks := m.playlists[playlistID]
	at := len(tracks)
	if position != nil && *position < len(tracks) {
		at = *position
	}
	m.playlists[playlistID] = slices.Insert(tracks, at, domain.Track{URI: uri, Title: string(uri)})
	return nil
}

func (m *mockCatalog) GetUserByID(_ context.Context, id domain.UserID) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return domain.User{}, errCatalog
	}
	return user, nil
}

func (m *mockCatalog) GetTrack(_ context.Context, uri domain.TrackURI) (domain.Track, error) {
	return domain.Track{URI: uri, Title: string(uri)}, nil
}

func (m *mockCatalog) FollowPlaylist(_ context.Context, _ domain.Credentials, id domain.PlaylistID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.followed = append(m.followed, id)
	return nil
}

func (m *mockCatalog) UnfollowPlaylist(_ context.Context, _ domain.Credentials, _ domain.PlaylistID) error {
	return nil
}

func (m *mockCatalog) RenamePlaylist(
	_ context.Context,
	_ domain.Credentials,
	id domain.PlaylistID,
	name string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.renamed[id] = name
	return nil
}

func (m *mockCatalog) addedPositions() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int
	for _, call := range m.added {
		if call.position != nil {
			out = append(out, *call.position)
		}
	}
	return out
}

// --- transport ---

type mockTransport struct {
	mu sync.Mutex

	events chan ports.TransportEvent

	connectErr   error
	advertiseErr error

	advertisedAs    string
	stoppedAdvert   bool
	disconnectedAll bool
	discoverCalls   int
	connects        []domain.Endpoint
	accepted        []domain.Endpoint
	rejected        []domain.Endpoint
	sent            map[domain.Endpoint][][]byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		events: make(chan ports.TransportEvent, 16),
		sent:   make(map[domain.Endpoint][][]byte),
	}
}

func (m *mockTransport) Advertise(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.advertiseErr != nil {
		return m.advertiseErr
	}
	m.advertisedAs = name
	return nil
}

func (m *mockTransport) StopAdvertising() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stoppedAdvert = true
	return nil
}

func (m *mockTransport) Discover(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.discoverCalls++
	return nil
}

func (m *mockTransport) Connect(_ context.Context, ep domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connects = append(m.connects, ep)
	return m.connectErr
}

func (m *mockTransport) AcceptIncoming(_ context.Context, ep domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accepted = append(m.accepted, ep)
	return nil
}

func (m *mockTransport) Reject(ep domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rejected = append(m.rejected, ep)
	return nil
}

func (m *mockTransport) Send(_ context.Context, ep domain.Endpoint, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent[ep] = append(m.sent[ep], payload)
	return nil
}

func (m *mockTransport) Disconnect(_ domain.Endpoint) error {
	return nil
}

func (m *mockTransport) DisconnectAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectedAll = true
	return nil
}

func (m *mockTransport) Events() <-chan ports.TransportEvent {
	return m.events
}

func (m *mockTransport) LocalEndpoint() domain.Endpoint {
	return "local"
}

func (m *mockTransport) Close() error {
	return nil
}

// messages decodes everything sent to ep.
func (m *mockTransport) messages(ep domain.Endpoint) []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]protocol.Message, 0, len(m.sent[ep]))
	for _, payload := range m.sent[ep] {
		out = append(out, protocol.Decode(payload))
	}
	return out
}

func (m *mockTransport) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.connects)
}

// --- player ---

type playCall struct {
	playlistURI string
	index       int
}

type mockPlayer struct {
	mu sync.Mutex

	events chan ports.PlayerEvent

	playErr    error
	releaseErr error

	plays    []playCall
	enqueued []domain.TrackURI
	skips    int
	pauses   int
	resumes  int
	released bool
	forced   bool
}

func newMockPlayer() *mockPlayer {
	return &mockPlayer{events: make(chan ports.PlayerEvent, 16)}
}

func (m *mockPlayer) Play(_ context.Context, playlistURI string, atIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playErr != nil {
		return m.playErr
	}
	m.plays = append(m.plays, playCall{playlistURI: playlistURI, index: atIndex})
	return nil
}

func (m *mockPlayer) Pause(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pauses++
	return nil
}

func (m *mockPlayer) Resume(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resumes++
	return nil
}

func (m *mockPlayer) SkipNext(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.skips++
	return nil
}

func (m *mockPlayer) Enqueue(_ context.Context, uri domain.TrackURI) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enqueued = append(m.enqueued, uri)
	return nil
}

func (m *mockPlayer) Release(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.released = true
	return m.releaseErr
}

func (m *mockPlayer) ForceRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.forced = true
}

func (m *mockPlayer) Events() <-chan ports.PlayerEvent {
	return m.events
}

// --- publisher ---

type mockEventPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockEventPublisher) Publish(event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	return nil
}

// eventsOf returns the published events of type T.
func eventsOf[T domain.Event](m *mockEventPublisher) []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []T
	for _, ev := range m.events {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// --- helpers ---

func payloadOf(msg protocol.Message) []byte {
	payload, err := protocol.Encode(msg)
	if err != nil {
		panic(err)
	}
	return payload
}

func received(ep domain.Endpoint, msg protocol.Message) ports.TransportEvent {
	return ports.TransportEvent{Kind: ports.PayloadReceived, Endpoint: ep, Payload: payloadOf(msg)}
}

func tracksNamed(n int) []domain.Track {
	tracks := make([]domain.Track, n)
	for i := range tracks {
		tracks[i] = domain.Track{URI: domain.TrackURI("track:" + string(rune('a'+i%26)))}
	}
	return tracks
}
