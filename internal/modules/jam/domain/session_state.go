package domain

// HostState is the lifecycle state of a host session.
type HostState int

const (
	HostInitializing HostState = iota
	HostAdvertising
	HostPlaying         // Active: player is playing
	HostPaused          // Active: player is paused
	HostWaitingForTrack // Active: player ran out of tracks
	HostShuttingDown
	HostFailed // session-critical catalog calls exhausted their retries
)

// String returns a human-readable representation of the state.
func (s HostState) String() string {
	switch s {
	case HostInitializing:
		return "initializing"
	case HostAdvertising:
		return "advertising"
	case HostPlaying:
		return "playing"
	case HostPaused:
		return "paused"
	case HostWaitingForTrack:
		return "waiting_for_track"
	case HostShuttingDown:
		return "shutting_down"
	case HostFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsActive returns true for the playback sub-states.
func (s HostState) IsActive() bool {
	return s == HostPlaying || s == HostPaused || s == HostWaitingForTrack
}

// IsTerminal returns true once the session cannot do any more work.
func (s HostState) IsTerminal() bool {
	return s == HostShuttingDown || s == HostFailed
}

// ClientState is the lifecycle state of a client session.
type ClientState int

const (
	ClientIdle ClientState = iota // not joined, may be discovering
	ClientConnecting
	ClientInitiating
	ClientSynced
	ClientReconnectPending
	ClientDisconnected
)

// String returns a human-readable representation of the state.
func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientConnecting:
		return "connecting"
	case ClientInitiating:
		return "initiating"
	case ClientSynced:
		return "synced"
	case ClientReconnectPending:
		return "reconnect_pending"
	case ClientDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
