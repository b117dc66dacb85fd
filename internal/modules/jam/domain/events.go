package domain

// Event is a state-change notification published to UI subscribers.
type Event interface {
	EventName() string
}

// HostStateChangedEvent is published when the host session changes state.
type HostStateChangedEvent struct {
	From HostState
	To   HostState
}

func (HostStateChangedEvent) EventName() string { return "host_state_changed" }

// ClientStateChangedEvent is published when the client session changes state.
type ClientStateChangedEvent struct {
	From ClientState
	To   ClientState
}

func (ClientStateChangedEvent) EventName() string { return "client_state_changed" }

// QueueUpdatedEvent is published after the host queue changed.
type QueueUpdatedEvent struct {
	CurrentPlayIndex int
	Pending          []SongRequest
}

func (QueueUpdatedEvent) EventName() string { return "queue_updated" }

// NowPlayingChangedEvent is published when the play index moves.
// Track is nil if the session does not know the track yet.
type NowPlayingChangedEvent struct {
	Index         int
	Track         *Track
	RequesterName string
}

func (NowPlayingChangedEvent) EventName() string { return "now_playing_changed" }

// TrackAddedEvent is published when a track was placed (host) or spliced
// into the mirror (client).
type TrackAddedEvent struct {
	Index         int
	Track         Track
	RequesterName string
}

func (TrackAddedEvent) EventName() string { return "track_added" }

// MirrorLoadedEvent is published when a client finished its initial load.
type MirrorLoadedEvent struct {
	HostID           UserID
	PlaylistID       PlaylistID
	TrackCount       int
	CurrentPlayIndex int
}

func (MirrorLoadedEvent) EventName() string { return "mirror_loaded" }

// EndpointDiscoveredEvent is published when discovery finds a peer.
type EndpointDiscoveredEvent struct {
	Endpoint Endpoint
	Name     string
}

func (EndpointDiscoveredEvent) EventName() string { return "endpoint_discovered" }

// ClientConnectedEvent is published on the host when a client joined.
type ClientConnectedEvent struct {
	Endpoint    Endpoint
	ClientCount int
}

func (ClientConnectedEvent) EventName() string { return "client_connected" }

// ClientDisconnectedEvent is published on the host when a client left.
type ClientDisconnectedEvent struct {
	Endpoint    Endpoint
	ClientCount int
}

func (ClientDisconnectedEvent) EventName() string { return "client_disconnected" }

// JoinFailedEvent is published when a client could not connect to the host.
type JoinFailedEvent struct {
	Endpoint Endpoint
	Attempts int
}

func (JoinFailedEvent) EventName() string { return "join_failed" }

// HostDisconnectedEvent is published when a joined client lost the host
// and gave up reconnecting.
type HostDisconnectedEvent struct {
	Endpoint Endpoint
}

func (HostDisconnectedEvent) EventName() string { return "host_disconnected" }

// FollowOrLeaveEvent is published when the host announced its shutdown.
// The user decides whether to follow the playlist before leaving.
type FollowOrLeaveEvent struct {
	PlaylistID PlaylistID
}

func (FollowOrLeaveEvent) EventName() string { return "follow_or_leave" }

// SessionFailedEvent is published when a session cannot continue.
type SessionFailedEvent struct {
	Reason string
}

func (SessionFailedEvent) EventName() string { return "session_failed" }
