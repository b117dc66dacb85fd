package jam

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/application/session"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
	"github.com/sglre6355/sgrjam/internal/modules/jam/presentation/shell"
)

// registerTimeout bounds registering the local user with a host's catalog.
const registerTimeout = 5 * time.Second

// sessionEventBuffer is the per-session transport event backlog.
const sessionEventBuffer = 64

// endpointResolver turns user input into a transport endpoint.
type endpointResolver interface {
	ResolveEndpoint(s string) (domain.Endpoint, error)
}

// remoteCatalog is a catalog that can be pointed at the host being joined.
type remoteCatalog interface {
	ports.CatalogService
	SetRemote(ep domain.Endpoint) error
}

// sessionTransport scopes the shared transport's events to one session.
type sessionTransport struct {
	ports.Transport
	events chan ports.TransportEvent
	done   <-chan struct{}
}

func (t *sessionTransport) Events() <-chan ports.TransportEvent {
	return t.events
}

// Ensure clientController implements shell.ClientController.
var _ shell.ClientController = (*clientController)(nil)

// clientController runs one ClientSession at a time. A session ends when the
// user leaves or the host is lost; the next command starts a fresh one on the
// same transport.
type clientController struct {
	ctx       context.Context
	cfg       session.ClientConfig
	creds     domain.Credentials
	catalog   remoteCatalog
	transport ports.Transport
	resolver  endpointResolver
	publisher ports.EventPublisher

	wg      sync.WaitGroup
	mu      sync.Mutex
	current *session.ClientSession
	routed  *sessionTransport
}

func newClientController(
	ctx context.Context,
	cfg session.ClientConfig,
	creds domain.Credentials,
	catalog remoteCatalog,
	transport ports.Transport,
	resolver endpointResolver,
	publisher ports.EventPublisher,
) *clientController {
	c := &clientController{
		ctx:       ctx,
		cfg:       cfg,
		creds:     creds,
		catalog:   catalog,
		transport: transport,
		resolver:  resolver,
		publisher: publisher,
	}
	go c.pump()
	return c
}

// pump routes transport events to the running session until ctx is done or
// the transport closes. Events arriving between sessions are dropped, so a
// new session never sees what happened to an earlier connection.
func (c *clientController) pump() {
	events := c.transport.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.route(ev)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *clientController) route(ev ports.TransportEvent) {
	c.mu.Lock()
	st := c.routed
	c.mu.Unlock()

	if st == nil {
		slog.Debug("dropping transport event outside a session", "kind", ev.Kind.String(), "endpoint", ev.Endpoint)
		return
	}
	select {
	case st.events <- ev:
	case <-st.done:
		slog.Debug("dropping transport event for ended session", "kind", ev.Kind.String(), "endpoint", ev.Endpoint)
	case <-c.ctx.Done():
	}
}

// session returns the running session, starting a new one if the last ended.
func (c *clientController) session() *session.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		select {
		case <-c.current.Done():
		default:
			return c.current
		}
	}

	st := &sessionTransport{
		Transport: c.transport,
		events:    make(chan ports.TransportEvent, sessionEventBuffer),
	}
	s := session.NewClientSession(c.cfg, c.creds, c.catalog, st, c.publisher)
	st.done = s.Done()
	c.current = s
	c.routed = st

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := s.Run(c.ctx); err != nil {
			slog.Warn("client session ended", "error", err)
			return
		}
		slog.Debug("client session ended")
	}()
	return s
}

// running returns the current session if it has not ended.
func (c *clientController) running() (*session.ClientSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, false
	}
	select {
	case <-c.current.Done():
		return nil, false
	default:
		return c.current, true
	}
}

// Discover starts discovery on the current session.
func (c *clientController) Discover(ctx context.Context) error {
	return c.session().Discover(ctx)
}

// Join resolves endpoint, registers the user with the host's catalog and
// joins the host.
func (c *clientController) Join(ctx context.Context, endpoint string) error {
	ep, err := c.resolver.ResolveEndpoint(endpoint)
	if err != nil {
		return err
	}

	s := c.session()
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State != domain.ClientIdle {
		return session.ErrAlreadyJoined
	}

	if err := c.catalog.SetRemote(ep); err != nil {
		return err
	}
	c.register(ctx)

	return s.Join(ctx, ep)
}

// register makes the user known to the host so requests show its name.
func (c *clientController) register(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	if _, err := c.catalog.GetCurrentUser(ctx, c.creds); err != nil {
		slog.Warn("failed to register with host catalog", "user", c.creds.UserID, "error", err)
	}
}

// Request forwards a track request to the joined host.
func (c *clientController) Request(ctx context.Context, uri domain.TrackURI) error {
	s, ok := c.running()
	if !ok {
		return session.ErrNotJoined
	}
	return s.Request(ctx, uri)
}

// Leave ends the current session.
func (c *clientController) Leave(ctx context.Context, opts session.LeaveOptions) error {
	s, ok := c.running()
	if !ok {
		return session.ErrNotJoined
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.State == domain.ClientIdle {
		return session.ErrNotJoined
	}
	return s.Leave(ctx, opts)
}

// Snapshot returns the current session state, or an idle snapshot.
func (c *clientController) Snapshot(ctx context.Context) (session.ClientSnapshot, error) {
	s, ok := c.running()
	if !ok {
		return session.ClientSnapshot{State: domain.ClientIdle, CurrentPlayIndex: domain.UnknownIndex}, nil
	}
	snap, err := s.Snapshot(ctx)
	if errors.Is(err, session.ErrSessionClosed) {
		return session.ClientSnapshot{State: domain.ClientIdle, CurrentPlayIndex: domain.UnknownIndex}, nil
	}
	return snap, err
}

// Close leaves the host without following and waits for the session to end.
func (c *clientController) Close(ctx context.Context) {
	if s, ok := c.running(); ok {
		if err := s.Leave(ctx, session.LeaveOptions{}); err != nil && !errors.Is(err, session.ErrSessionClosed) {
			slog.Warn("failed to leave session", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("client session did not stop in time")
	}
}
