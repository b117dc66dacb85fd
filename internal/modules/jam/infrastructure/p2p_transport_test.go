package infrastructure

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

func newLoopbackTransport(t *testing.T) *P2PTransport {
	t.Helper()

	tr, err := NewP2PTransport(P2PConfig{ListenHost: "127.0.0.1"})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// nextEvent returns the next event of kind, skipping others.
func nextEvent(t *testing.T, tr *P2PTransport, kind ports.TransportEventKind) ports.TransportEvent {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// dial resolves host's address on client and connects.
func dial(t *testing.T, client, host *P2PTransport) domain.Endpoint {
	t.Helper()

	ep, err := client.ResolveEndpoint(host.ListenAddrs()[0])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep != host.LocalEndpoint() {
		t.Fatalf("expected endpoint %s, got %s", host.LocalEndpoint(), ep)
	}
	if err := client.Connect(context.Background(), ep); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return ep
}

func TestP2PTransport_ConnectAndExchange(t *testing.T) {
	host := newLoopbackTransport(t)
	client := newLoopbackTransport(t)
	ctx := context.Background()

	if err := host.Advertise(ctx, "friday jam"); err != nil {
		t.Fatalf("advertise: %v", err)
	}

	hostEP := dial(t, client, host)

	name, err := client.Describe(ctx, hostEP)
	if err != nil || name != "friday jam" {
		t.Errorf("expected session name, got %q (%v)", name, err)
	}

	req := nextEvent(t, host, ports.ConnectionRequested)
	if req.Endpoint != client.LocalEndpoint() {
		t.Fatalf("expected request from %s, got %s", client.LocalEndpoint(), req.Endpoint)
	}
	if err := host.AcceptIncoming(ctx, req.Endpoint); err != nil {
		t.Fatalf("accept: %v", err)
	}
	nextEvent(t, host, ports.Connected)
	nextEvent(t, client, ports.Connected)

	for _, msg := range []string{"first", "second"} {
		if err := host.Send(ctx, req.Endpoint, []byte(msg)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for _, want := range []string{"first", "second"} {
		got := nextEvent(t, client, ports.PayloadReceived)
		if string(got.Payload) != want || got.Endpoint != hostEP {
			t.Errorf("expected %q from host, got %q from %s", want, got.Payload, got.Endpoint)
		}
	}

	if err := client.Send(ctx, hostEP, []byte("request")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := nextEvent(t, host, ports.PayloadReceived); string(got.Payload) != "request" {
		t.Errorf("expected request payload, got %q", got.Payload)
	}

	// Queued payloads are flushed before the connection closes.
	if err := host.Send(ctx, req.Endpoint, []byte("bye")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := host.DisconnectAll(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := nextEvent(t, client, ports.PayloadReceived); string(got.Payload) != "bye" {
		t.Errorf("expected bye before disconnect, got %q", got.Payload)
	}
	nextEvent(t, client, ports.Disconnected)

	if err := client.Send(ctx, hostEP, []byte("late")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := host.Send(ctx, req.Endpoint, []byte("late")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected on the host, got %v", err)
	}

	// The host closed the connection itself, so it hears nothing about it.
	select {
	case ev := <-host.Events():
		t.Errorf("unexpected host event after local disconnect: %s", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestP2PTransport_ConnectionRefused(t *testing.T) {
	tests := []struct {
		name      string
		advertise bool
		reject    bool
	}{
		{name: "not advertising", advertise: false},
		{name: "rejected", advertise: true, reject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newLoopbackTransport(t)
			client := newLoopbackTransport(t)

			if tt.advertise {
				if err := host.Advertise(context.Background(), "jam"); err != nil {
					t.Fatalf("advertise: %v", err)
				}
			}

			dial(t, client, host)

			if tt.reject {
				req := nextEvent(t, host, ports.ConnectionRequested)
				if err := host.Reject(req.Endpoint); err != nil {
					t.Fatalf("reject: %v", err)
				}
			}

			ev := nextEvent(t, client, ports.ConnectionFailed)
			if ev.Err == nil {
				t.Error("expected a failure cause")
			}
		})
	}
}

func TestP2PTransport_StopAdvertising(t *testing.T) {
	host := newLoopbackTransport(t)
	client := newLoopbackTransport(t)
	ctx := context.Background()

	_ = host.Advertise(ctx, "jam")
	if err := host.StopAdvertising(); err != nil {
		t.Fatalf("stop advertising: %v", err)
	}

	ep := dial(t, client, host)
	nextEvent(t, client, ports.ConnectionFailed)

	if _, err := client.Describe(ctx, ep); err == nil {
		t.Error("expected describe to fail once advertising stopped")
	}
}

func TestP2PTransport_Errors(t *testing.T) {
	tr := newLoopbackTransport(t)
	ctx := context.Background()

	if _, err := tr.ResolveEndpoint("not a peer"); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("expected ErrInvalidEndpoint, got %v", err)
	}
	if _, err := tr.ResolveEndpoint("/ip4/127.0.0.1/tcp/1"); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("expected ErrInvalidEndpoint for an address without /p2p, got %v", err)
	}
	if err := tr.Send(ctx, tr.LocalEndpoint(), nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.AcceptIncoming(ctx, tr.LocalEndpoint()); !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("expected ErrNoPendingRequest, got %v", err)
	}
	if err := tr.Discover(ctx); !errors.Is(err, ErrDiscoveryDisabled) {
		t.Errorf("expected ErrDiscoveryDisabled, got %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Advertise(ctx, "jam"); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if _, ok := <-tr.Events(); ok {
		t.Error("expected events channel to be closed")
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.key")

	first, err := loadOrCreateKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := loadOrCreateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !first.Equals(second) {
		t.Error("expected the persisted key to be reused")
	}
}
