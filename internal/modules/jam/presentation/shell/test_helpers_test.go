package shell

import (
	"context"
	"errors"
	"reflect"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/session"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

var errCatalog = errors.New("catalog unavailable")

type mockHostSession struct {
	calls    []string
	requests []domain.TrackURI
	snapshot session.HostSnapshot
	err      error
}

func (m *mockHostSession) Request(_ context.Context, uri domain.TrackURI) error {
	m.requests = append(m.requests, uri)
	return m.err
}

func (m *mockHostSession) Play(context.Context) error {
	m.calls = append(m.calls, "play")
	return m.err
}

func (m *mockHostSession) Pause(context.Context) error {
	m.calls = append(m.calls, "pause")
	return m.err
}

func (m *mockHostSession) Resume(context.Context) error {
	m.calls = append(m.calls, "resume")
	return m.err
}

func (m *mockHostSession) Skip(context.Context) error {
	m.calls = append(m.calls, "skip")
	return m.err
}

func (m *mockHostSession) Snapshot(context.Context) (session.HostSnapshot, error) {
	return m.snapshot, m.err
}

type mockTracks map[domain.TrackURI]domain.Track

func (m mockTracks) GetTrack(_ context.Context, uri domain.TrackURI) (domain.Track, error) {
	track, ok := m[uri]
	if !ok {
		return domain.Track{}, errCatalog
	}
	return track, nil
}

type mockClient struct {
	discovered bool
	joined     string
	requests   []domain.TrackURI
	leaves     []session.LeaveOptions
	snapshot   session.ClientSnapshot
	err        error
}

func (m *mockClient) Discover(context.Context) error {
	m.discovered = true
	return m.err
}

func (m *mockClient) Join(_ context.Context, endpoint string) error {
	m.joined = endpoint
	return m.err
}

func (m *mockClient) Request(_ context.Context, uri domain.TrackURI) error {
	m.requests = append(m.requests, uri)
	return m.err
}

func (m *mockClient) Leave(_ context.Context, opts session.LeaveOptions) error {
	m.leaves = append(m.leaves, opts)
	return m.err
}

func (m *mockClient) Snapshot(context.Context) (session.ClientSnapshot, error) {
	return m.snapshot, m.err
}

type mockSubscriber struct {
	handlers map[reflect.Type]func(context.Context, domain.Event)
	err      error
}

func (m *mockSubscriber) Subscribe(t reflect.Type, h func(context.Context, domain.Event)) error {
	if m.err != nil {
		return m.err
	}
	if m.handlers == nil {
		m.handlers = make(map[reflect.Type]func(context.Context, domain.Event))
	}
	m.handlers[t] = h
	return nil
}

func (m *mockSubscriber) publish(e domain.Event) {
	if h, ok := m.handlers[reflect.TypeOf(e)]; ok {
		h(context.Background(), e)
	}
}
