package ports

import (
	"context"

	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

// TransportEventKind identifies what happened on the transport.
type TransportEventKind int

const (
	// EndpointFound is delivered while discovering.
	EndpointFound TransportEventKind = iota
	// ConnectionRequested is delivered to an advertising host when a peer dials in.
	ConnectionRequested
	Connected
	ConnectionFailed
	// Disconnected is delivered when the remote side closes a connection or
	// it fails. Connections closed locally produce no event.
	Disconnected
	PayloadReceived
)

// String returns a human-readable representation of the kind.
func (k TransportEventKind) String() string {
	switch k {
	case EndpointFound:
		return "endpoint_found"
	case ConnectionRequested:
		return "connection_requested"
	case Connected:
		return "connected"
	case ConnectionFailed:
		return "connection_failed"
	case Disconnected:
		return "disconnected"
	case PayloadReceived:
		return "payload_received"
	default:
		return "unknown"
	}
}

// TransportEvent is delivered asynchronously, in order per endpoint.
type TransportEvent struct {
	Kind     TransportEventKind
	Endpoint domain.Endpoint
	// Name is the advertised session name for EndpointFound.
	Name    string
	Payload []byte
	Err     error
}

// Transport is a point-to-point connection layer with discovery.
// Delivery is reliable and ordered per endpoint while connected; nothing is
// guaranteed across a disconnect.
type Transport interface {
	// Advertise makes this peer discoverable and accepts connection requests.
	Advertise(ctx context.Context, name string) error
	StopAdvertising() error

	// Discover starts looking for advertising peers until ctx is done.
	Discover(ctx context.Context) error

	// Connect dials ep. The outcome is delivered as Connected or ConnectionFailed.
	Connect(ctx context.Context, ep domain.Endpoint) error

	// AcceptIncoming accepts a pending connection request from ep.
	AcceptIncoming(ctx context.Context, ep domain.Endpoint) error
	// Reject refuses a pending connection request from ep.
	Reject(ep domain.Endpoint) error

	// Send queues payload for ep. It does not wait for delivery.
	Send(ctx context.Context, ep domain.Endpoint, payload []byte) error
	// Disconnect and DisconnectAll flush queued payloads and close.
	Disconnect(ep domain.Endpoint) error
	DisconnectAll() error

	Events() <-chan TransportEvent

	// LocalEndpoint returns the endpoint other peers use to reach this one.
	LocalEndpoint() domain.Endpoint

	Close() error
}
