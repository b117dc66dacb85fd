package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	"github.com/sglre6355/sgrjam/internal/modules/jam/protocol"
)

const hostEP domain.Endpoint = "host-1"

type clientFixture struct {
	client    *ClientSession
	catalog   *mockCatalog
	transport *mockTransport
	publisher *mockEventPublisher
}

func newClientFixture(t *testing.T, cfg ClientConfig) *clientFixture {
	t.Helper()

	f := &clientFixture{
		catalog:   newMockCatalog(),
		transport: newMockTransport(),
		publisher: &mockEventPublisher{},
	}
	creds := domain.Credentials{UserID: "carol", DisplayName: "Carol"}
	f.client = NewClientSession(cfg, creds, f.catalog, f.transport, f.publisher)
	syncSpawn(f.client.loop)
	return f
}

func (f *clientFixture) handle(ev any) {
	f.client.handle(ev)
	f.client.drain()
}

func (f *clientFixture) join(t *testing.T) {
	t.Helper()
	if err := f.client.join(hostEP); err != nil {
		t.Fatalf("join: %v", err)
	}
	f.client.drain()
}

func (f *clientFixture) hostEvent(kind ports.TransportEventKind) {
	f.handle(ports.TransportEvent{Kind: kind, Endpoint: hostEP})
}

func (f *clientFixture) fromHost(msg protocol.Message) {
	f.handle(received(hostEP, msg))
}

// synced joins and completes the handshake against a playlist of n tracks.
func (f *clientFixture) synced(t *testing.T, n, index int) {
	t.Helper()
	f.catalog.playlists["jam"] = tracksNamed(n)
	f.join(t)
	f.hostEvent(ports.Connected)
	f.fromHost(protocol.InitiateClient{HostID: "alice", PlaylistID: "jam", CurrentPlayIndex: index})
	if f.client.state != domain.ClientSynced {
		t.Fatalf("expected synced, got %s", f.client.state)
	}
}

// deferSpawn holds spawned work until the returned function is called.
func deferSpawn(l *loop) (flush func(handle func(any))) {
	var queued []func() any
	l.spawn = func(fn func() any) {
		queued = append(queued, fn)
	}
	return func(handle func(any)) {
		for len(queued) > 0 {
			fn := queued[0]
			queued = queued[1:]
			if ev := fn(); ev != nil {
				handle(ev)
			}
		}
	}
}

func TestClientSession_JoinFailsAfterRetryCap(t *testing.T) {
	tests := []struct {
		name       string
		connectErr error
	}{
		{name: "connect returns error", connectErr: errors.New("unreachable")},
		{name: "connection failed events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newClientFixture(t, ClientConfig{})
			f.transport.connectErr = tt.connectErr

			f.join(t)
			for !f.client.finished() && f.transport.connectCount() <= DefaultConnectRetries+1 {
				f.hostEvent(ports.ConnectionFailed)
			}

			if got := f.transport.connectCount(); got != DefaultConnectRetries+1 {
				t.Errorf("expected %d connection attempts, got %d", DefaultConnectRetries+1, got)
			}
			if !f.client.finished() {
				t.Fatal("expected session to stop")
			}
			if !errors.Is(f.client.err, ErrJoinFailed) {
				t.Errorf("expected ErrJoinFailed, got %v", f.client.err)
			}
			failed := eventsOf[domain.JoinFailedEvent](f.publisher)
			if len(failed) != 1 || failed[0].Attempts != DefaultConnectRetries+1 {
				t.Errorf("unexpected join failed events: %+v", failed)
			}
		})
	}
}

func TestClientSession_HostLostAfterConnect(t *testing.T) {
	f := newClientFixture(t, ClientConfig{MaxRetries: 2})
	f.join(t)
	f.hostEvent(ports.Connected)

	for range 3 {
		f.hostEvent(ports.Disconnected)
	}

	if f.client.state != domain.ClientDisconnected {
		t.Errorf("expected disconnected, got %s", f.client.state)
	}
	if f.client.finished() {
		t.Error("expected session to stay alive for the user to leave")
	}
	if got := eventsOf[domain.HostDisconnectedEvent](f.publisher); len(got) != 1 {
		t.Errorf("expected one HostDisconnectedEvent, got %d", len(got))
	}
	if got := eventsOf[domain.JoinFailedEvent](f.publisher); len(got) != 0 {
		t.Errorf("expected no JoinFailedEvent, got %d", len(got))
	}
	if got := f.transport.connectCount(); got != 3 {
		t.Errorf("expected 3 connection attempts, got %d", got)
	}
}

func TestClientSession_ReconnectCountResetsOnConnect(t *testing.T) {
	f := newClientFixture(t, ClientConfig{MaxRetries: 2})
	f.join(t)

	for range 2 {
		f.hostEvent(ports.ConnectionFailed)
	}
	f.hostEvent(ports.Connected)
	for range 2 {
		f.hostEvent(ports.Disconnected)
	}

	if f.client.state != domain.ClientConnecting {
		t.Errorf("expected connecting, got %s", f.client.state)
	}
	if f.client.reconnectCount != 2 {
		t.Errorf("expected reconnect count 2, got %d", f.client.reconnectCount)
	}
}

func TestClientSession_HostDisconnecting(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.synced(t, 2, 0)

	f.fromHost(protocol.HostDisconnecting{})

	leaves := eventsOf[domain.FollowOrLeaveEvent](f.publisher)
	if len(leaves) != 1 || leaves[0].PlaylistID != "jam" {
		t.Fatalf("unexpected follow-or-leave events: %+v", leaves)
	}

	connects := f.transport.connectCount()
	f.hostEvent(ports.Disconnected)

	if f.client.state != domain.ClientDisconnected {
		t.Errorf("expected disconnected, got %s", f.client.state)
	}
	if got := f.transport.connectCount(); got != connects {
		t.Errorf("expected no reconnect, got %d new attempts", got-connects)
	}
}

func TestClientSession_LoadsMirrorInPages(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.synced(t, 120, 5)

	var offsets []int
	for _, call := range f.catalog.pageCalls {
		if call.limit != DefaultPageSize {
			t.Errorf("expected page size %d, got %d", DefaultPageSize, call.limit)
		}
		offsets = append(offsets, call.offset)
	}
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 50 || offsets[2] != 100 {
		t.Errorf("expected offsets [0 50 100], got %v", offsets)
	}

	if f.client.mirror.Len() != 120 {
		t.Errorf("expected 120 tracks, got %d", f.client.mirror.Len())
	}
	if f.client.mirror.CurrentPlayIndex() != 5 {
		t.Errorf("expected play index 5, got %d", f.client.mirror.CurrentPlayIndex())
	}

	loaded := eventsOf[domain.MirrorLoadedEvent](f.publisher)
	if len(loaded) != 1 || loaded[0].TrackCount != 120 || loaded[0].HostID != "alice" {
		t.Errorf("unexpected mirror loaded events: %+v", loaded)
	}
}

func TestClientSession_IndexUpdatesWhileLoading(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.catalog.playlists["jam"] = tracksNamed(10)
	flush := deferSpawn(f.client.loop)

	f.join(t)
	f.hostEvent(ports.Connected)
	f.fromHost(protocol.InitiateClient{HostID: "alice", PlaylistID: "jam", CurrentPlayIndex: 2})
	f.fromHost(protocol.CurrentlyPlayingUpdate{CurrentPlayIndex: 4})
	f.fromHost(protocol.NewTrackAdded{NewIndex: 5})

	if f.client.state != domain.ClientInitiating {
		t.Fatalf("expected initiating, got %s", f.client.state)
	}

	flush(f.handle)

	if f.client.state != domain.ClientSynced {
		t.Fatalf("expected synced, got %s", f.client.state)
	}
	if f.client.mirror.CurrentPlayIndex() != 4 {
		t.Errorf("expected the newest index 4, got %d", f.client.mirror.CurrentPlayIndex())
	}
	loads := 0
	for _, call := range f.catalog.pageCalls {
		if call.limit == 1 {
			t.Errorf("expected no single-track fetch while loading, got fetch at %d", call.offset)
		}
		if call.offset == 0 {
			loads++
		}
	}
	if loads != 2 {
		t.Errorf("expected the playlist to be reloaded once, got %d loads", loads)
	}
}

func TestClientSession_InsertionDuringLoadIsNotLost(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.catalog.playlists["jam"] = tracksNamed(10)
	flush := deferSpawn(f.client.loop)

	f.join(t)
	f.hostEvent(ports.Connected)
	f.fromHost(protocol.InitiateClient{HostID: "alice", PlaylistID: "jam", CurrentPlayIndex: 0})

	// The first load finishes reading before the host inserts at 3.
	inserted := false
	flush(func(ev any) {
		if _, ok := ev.(mirrorLoaded); ok && !inserted {
			inserted = true
			position := 3
			if err := f.catalog.AddTrackAtPosition(
				context.Background(), domain.Credentials{}, "jam", "track:new", &position,
			); err != nil {
				t.Fatalf("add: %v", err)
			}
			f.fromHost(protocol.NewTrackAdded{NewIndex: position})
		}
		f.handle(ev)
	})

	if f.client.state != domain.ClientSynced {
		t.Fatalf("expected synced, got %s", f.client.state)
	}
	tracks := f.client.mirror.Tracks()
	if len(tracks) != 11 {
		t.Fatalf("expected 11 tracks, got %d", len(tracks))
	}
	if tracks[3].URI != "track:new" {
		t.Errorf("expected track:new at 3, got %s", tracks[3].URI)
	}
	if got := eventsOf[domain.MirrorLoadedEvent](f.publisher); len(got) != 1 || got[0].TrackCount != 11 {
		t.Errorf("expected a single load of 11 tracks, got %+v", got)
	}
}

func TestClientSession_StaleLoadIsDiscarded(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.catalog.playlists["old"] = tracksNamed(2)
	f.catalog.playlists["new"] = tracksNamed(4)
	flush := deferSpawn(f.client.loop)

	f.join(t)
	f.hostEvent(ports.Connected)
	f.fromHost(protocol.InitiateClient{HostID: "alice", PlaylistID: "old", CurrentPlayIndex: 0})
	f.fromHost(protocol.InitiateClient{HostID: "alice", PlaylistID: "new", CurrentPlayIndex: 1})

	flush(f.handle)

	if f.client.mirror.Len() != 4 {
		t.Errorf("expected the newer playlist with 4 tracks, got %d", f.client.mirror.Len())
	}
	if got := eventsOf[domain.MirrorLoadedEvent](f.publisher); len(got) != 1 || got[0].PlaylistID != "new" {
		t.Errorf("expected a single load of the new playlist, got %+v", got)
	}
}

func TestClientSession_OutOfRangeInitiateIndex(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.catalog.playlists["jam"] = tracksNamed(3)
	f.join(t)
	f.hostEvent(ports.Connected)
	f.fromHost(protocol.InitiateClient{HostID: "alice", PlaylistID: "jam", CurrentPlayIndex: 7})

	if f.client.state != domain.ClientSynced {
		t.Fatalf("expected synced, got %s", f.client.state)
	}
	if got := f.client.mirror.CurrentPlayIndex(); got != domain.UnknownIndex {
		t.Errorf("expected unknown play index, got %d", got)
	}

	f.fromHost(protocol.CurrentlyPlayingUpdate{CurrentPlayIndex: 2})

	if got := f.client.mirror.CurrentPlayIndex(); got != 2 {
		t.Errorf("expected play index 2, got %d", got)
	}
}

func TestClientSession_CurrentlyPlayingValidation(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  int
	}{
		{name: "within range", index: 2, want: 2},
		{name: "past the last track", index: 3, want: 3},
		{name: "out of range", index: 4, want: 1},
		{name: "negative", index: -1, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newClientFixture(t, ClientConfig{})
			f.synced(t, 3, 1)

			f.fromHost(protocol.CurrentlyPlayingUpdate{CurrentPlayIndex: tt.index})

			if got := f.client.mirror.CurrentPlayIndex(); got != tt.want {
				t.Errorf("expected play index %d, got %d", tt.want, got)
			}
		})
	}
}

func TestClientSession_TrackAddedIsFetched(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.synced(t, 3, 0)

	position := 1
	if err := f.catalog.AddTrackAtPosition(context.Background(), domain.Credentials{}, "jam", "track:new", &position); err != nil {
		t.Fatal(err)
	}
	f.fromHost(protocol.NewTrackAdded{NewIndex: 1})

	tracks := f.client.mirror.Tracks()
	if len(tracks) != 4 {
		t.Fatalf("expected 4 tracks, got %d", len(tracks))
	}
	if tracks[1].URI != "track:new" {
		t.Errorf("expected track:new at 1, got %s", tracks[1].URI)
	}

	added := eventsOf[domain.TrackAddedEvent](f.publisher)
	if len(added) != 1 || added[0].Index != 1 {
		t.Errorf("unexpected track added events: %+v", added)
	}
}

func TestClientSession_OutOfRangeInsertionDropped(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.synced(t, 3, 0)

	f.fromHost(protocol.NewTrackAdded{NewIndex: 9})

	if f.client.mirror.Len() != 3 {
		t.Errorf("expected mirror unchanged, got %d tracks", f.client.mirror.Len())
	}
	if f.client.fetching || len(f.client.fetches) != 0 {
		t.Error("expected fetch queue to be empty")
	}
}

func TestClientSession_Request(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})

	if err := f.client.request("spotify:track:1"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("expected ErrNotJoined, got %v", err)
	}

	f.synced(t, 1, 0)

	if err := f.client.request("spotify:track:1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgs := f.transport.messages(hostEP)
	want := protocol.SongRequest{TrackURI: "spotify:track:1", RequesterID: "carol"}
	if len(msgs) != 1 || msgs[0] != want {
		t.Errorf("expected %#v, got %#v", want, msgs)
	}
	if f.client.mirror.Len() != 1 {
		t.Error("expected the mirror to wait for the host's insertion")
	}
}

func TestClientSession_Leave(t *testing.T) {
	tests := []struct {
		name        string
		opts        LeaveOptions
		wantFollow  bool
		wantRenamed string
	}{
		{name: "without following", opts: LeaveOptions{}},
		{name: "follow", opts: LeaveOptions{Follow: true}, wantFollow: true},
		{
			name:        "follow and rename",
			opts:        LeaveOptions{Follow: true, Rename: "friday mix"},
			wantFollow:  true,
			wantRenamed: "friday mix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newClientFixture(t, ClientConfig{})
			f.synced(t, 2, 0)

			f.client.leave(tt.opts)
			f.client.drain()

			if !f.client.finished() {
				t.Fatal("expected session to stop")
			}
			if f.client.err != nil {
				t.Errorf("expected nil result, got %v", f.client.err)
			}
			if !f.transport.disconnectedAll {
				t.Error("expected transport to disconnect")
			}
			if followed := len(f.catalog.followed) == 1; followed != tt.wantFollow {
				t.Errorf("expected follow=%v, got %v", tt.wantFollow, f.catalog.followed)
			}
			if got := f.catalog.renamed["jam"]; got != tt.wantRenamed {
				t.Errorf("expected rename %q, got %q", tt.wantRenamed, got)
			}
		})
	}
}

func TestClientSession_IgnoresOtherEndpoints(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.synced(t, 2, 0)

	f.handle(received("someone-else", protocol.CurrentlyPlayingUpdate{CurrentPlayIndex: 1}))
	f.handle(ports.TransportEvent{Kind: ports.Disconnected, Endpoint: "someone-else"})

	if f.client.mirror.CurrentPlayIndex() != 0 {
		t.Errorf("expected play index 0, got %d", f.client.mirror.CurrentPlayIndex())
	}
	if f.client.state != domain.ClientSynced {
		t.Errorf("expected synced, got %s", f.client.state)
	}
}

func TestClientSession_Discovery(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})

	f.handle(ports.TransportEvent{Kind: ports.EndpointFound, Endpoint: "b", Name: "bob's jam"})
	f.handle(ports.TransportEvent{Kind: ports.EndpointFound, Endpoint: "a", Name: "alice's jam"})
	f.handle(ports.TransportEvent{Kind: ports.EndpointFound, Endpoint: "a", Name: "alice's jam"})
	f.handle(ports.TransportEvent{Kind: ports.ConnectionRequested, Endpoint: "c"})

	if got := eventsOf[domain.EndpointDiscoveredEvent](f.publisher); len(got) != 2 {
		t.Errorf("expected 2 discovery events, got %d", len(got))
	}
	if len(f.transport.rejected) != 1 {
		t.Errorf("expected incoming connection rejected, got %v", f.transport.rejected)
	}

	snap := f.client.snapshot()
	if len(snap.Discovered) != 2 || snap.Discovered[0].Endpoint != "a" || snap.Discovered[1].Name != "bob's jam" {
		t.Errorf("unexpected discovered hosts: %+v", snap.Discovered)
	}
}

func TestClientSession_JoinTwice(t *testing.T) {
	f := newClientFixture(t, ClientConfig{})
	f.join(t)

	if err := f.client.join("other"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestClientSession_Run(t *testing.T) {
	catalog := newMockCatalog()
	catalog.playlists["jam"] = tracksNamed(3)
	transport := newMockTransport()
	publisher := &mockEventPublisher{}
	creds := domain.Credentials{UserID: "carol"}

	client := NewClientSession(ClientConfig{}, creds, catalog, transport, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Run(ctx)
	}()

	if err := client.Join(ctx, hostEP); err != nil {
		t.Fatalf("join: %v", err)
	}
	transport.events <- ports.TransportEvent{Kind: ports.Connected, Endpoint: hostEP}
	transport.events <- received(hostEP, protocol.InitiateClient{HostID: "alice", PlaylistID: "jam", CurrentPlayIndex: 1})

	waitFor(t, func() bool {
		snap, err := client.Snapshot(ctx)
		return err == nil && snap.State == domain.ClientSynced && snap.CurrentPlayIndex == 1
	})

	if err := client.Leave(ctx, LeaveOptions{}); err != nil {
		t.Fatalf("leave: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected nil from Run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}
