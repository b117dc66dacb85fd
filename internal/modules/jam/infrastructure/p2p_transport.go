package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-msgio"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/sglre6355/sgrjam/internal/modules/jam/application/ports"
	"github.com/sglre6355/sgrjam/internal/modules/jam/domain"
)

func init() {
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("mdns", "error")
	logging.SetLogLevel("basichost", "warn")
}

const (
	// SessionProtocol carries framed session messages between host and clients.
	SessionProtocol = protocol.ID("/sgrjam/session/1.0.0")
	// InfoProtocol returns the advertised session name.
	InfoProtocol = protocol.ID("/sgrjam/info/1.0.0")

	// DefaultServiceTag is the mDNS service name sessions advertise under.
	DefaultServiceTag = "sgrjam"

	maxFrameSize   = 1 << 20
	sendQueueSize  = 64
	eventQueueSize = 128
	dialTimeout    = 10 * time.Second
	acceptTimeout  = 30 * time.Second
	infoTimeout    = 5 * time.Second
)

// acceptFrame is the first frame a host writes on an accepted session stream.
var acceptFrame = []byte{0x01}

// Transport errors.
var (
	ErrTransportClosed   = errors.New("transport closed")
	ErrNotConnected      = errors.New("endpoint not connected")
	ErrNoPendingRequest  = errors.New("no pending connection request")
	ErrSendQueueFull     = errors.New("send queue full")
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrDiscoveryDisabled = errors.New("mdns discovery disabled")
)

// Ensure P2PTransport implements Transport.
var _ ports.Transport = (*P2PTransport)(nil)

// P2PConfig configures the libp2p host behind a P2PTransport.
type P2PConfig struct {
	ListenHost string
	ListenPort int
	// KeyFile persists the peer identity. Empty means an ephemeral identity.
	KeyFile    string
	ServiceTag string
	EnableMDNS bool
}

// peerConn is an established session stream with its own writer goroutine.
type peerConn struct {
	stream network.Stream
	reader msgio.ReadCloser
	out    chan []byte

	closeOnce sync.Once
	closing   chan struct{}
}

// P2PTransport implements Transport over libp2p streams with mDNS discovery.
// Every endpoint is a peer ID string.
type P2PTransport struct {
	host       host.Host
	serviceTag string
	enableMDNS bool

	events       chan ports.TransportEvent
	eventsMu     sync.RWMutex
	eventsClosed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	peers       map[peer.ID]*peerConn
	pending     map[peer.ID]network.Stream
	sessionName string
	advertising bool
	discovering bool
	seen        map[peer.ID]bool
	mdns        mdns.Service
	closed      bool
}

// NewP2PTransport starts a libp2p host listening on cfg's address.
func NewP2PTransport(cfg P2PConfig) (*P2PTransport, error) {
	priv, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	listenHost := cfg.ListenHost
	if listenHost == "" {
		listenHost = "0.0.0.0"
	}
	listenAddr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", listenHost, cfg.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("listen address: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	tag := cfg.ServiceTag
	if tag == "" {
		tag = DefaultServiceTag
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &P2PTransport{
		host:       h,
		serviceTag: tag,
		enableMDNS: cfg.EnableMDNS,
		events:     make(chan ports.TransportEvent, eventQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[peer.ID]*peerConn),
		pending:    make(map[peer.ID]network.Stream),
		seen:       make(map[peer.ID]bool),
	}

	slog.Info("p2p transport started", "peer", h.ID().String(), "addrs", t.ListenAddrs())
	return t, nil
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, error) {
	if keyFile == "" {
		priv, _, err := crypto.GenerateEd25519Key(nil)
		return priv, err
	}

	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, nil
		}
		slog.Warn("corrupt identity key, generating a new one", "path", keyFile, "error", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	if dir := filepath.Dir(keyFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, raw, 0o600); err != nil {
		return nil, fmt.Errorf("save identity key: %w", err)
	}
	return priv, nil
}

// Host returns the underlying libp2p host for protocols served alongside
// the session stream.
func (t *P2PTransport) Host() host.Host {
	return t.host
}

// LocalEndpoint returns this peer's ID.
func (t *P2PTransport) LocalEndpoint() domain.Endpoint {
	return domain.Endpoint(t.host.ID().String())
}

// ListenAddrs returns dialable addresses including the /p2p component.
func (t *P2PTransport) ListenAddrs() []string {
	self, err := ma.NewMultiaddr("/p2p/" + t.host.ID().String())
	if err != nil {
		return nil
	}
	addrs := make([]string, 0, len(t.host.Addrs()))
	for _, addr := range t.host.Addrs() {
		addrs = append(addrs, addr.Encapsulate(self).String())
	}
	return addrs
}

// ResolveEndpoint turns a peer ID or a full /p2p multiaddr into an endpoint.
// Addresses from a multiaddr are remembered for later dials.
func (t *P2PTransport) ResolveEndpoint(s string) (domain.Endpoint, error) {
	if !strings.HasPrefix(s, "/") {
		id, err := peer.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
		}
		return domain.Endpoint(id.String()), nil
	}

	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	t.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	return domain.Endpoint(info.ID.String()), nil
}

// Events returns the channel transport events are delivered on.
// It is closed after Close.
func (t *P2PTransport) Events() <-chan ports.TransportEvent {
	return t.events
}

func (t *P2PTransport) emit(ev ports.TransportEvent) {
	t.eventsMu.RLock()
	defer t.eventsMu.RUnlock()

	if t.eventsClosed {
		return
	}
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

// Advertise installs the session handlers and announces this peer over mDNS.
func (t *P2PTransport) Advertise(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	t.sessionName = name
	if !t.advertising {
		t.host.SetStreamHandler(SessionProtocol, t.handleSessionStream)
		t.host.SetStreamHandler(InfoProtocol, t.handleInfoStream)
		t.advertising = true
	}
	if err := t.startMDNSLocked(); err != nil {
		return err
	}

	slog.Info("advertising session", "name", name, "peer", t.host.ID().String())
	return nil
}

// StopAdvertising removes the session handlers. Established connections stay up.
func (t *P2PTransport) StopAdvertising() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.advertising {
		return nil
	}
	t.host.RemoveStreamHandler(SessionProtocol)
	t.host.RemoveStreamHandler(InfoProtocol)
	t.advertising = false

	for id, s := range t.pending {
		_ = s.Reset()
		delete(t.pending, id)
	}
	return nil
}

// Discover reports advertising peers as EndpointFound until ctx is done.
func (t *P2PTransport) Discover(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if !t.enableMDNS {
		return ErrDiscoveryDisabled
	}
	if err := t.startMDNSLocked(); err != nil {
		return err
	}
	t.discovering = true
	clear(t.seen)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-ctx.Done():
		case <-t.ctx.Done():
		}
		t.mu.Lock()
		t.discovering = false
		t.mu.Unlock()
	}()
	return nil
}

func (t *P2PTransport) startMDNSLocked() error {
	if !t.enableMDNS || t.mdns != nil {
		return nil
	}
	svc := mdns.NewMdnsService(t.host, t.serviceTag, t)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start mdns: %w", err)
	}
	t.mdns = svc
	return nil
}

// HandlePeerFound implements mdns.Notifee.
func (t *P2PTransport) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == t.host.ID() {
		return
	}

	t.mu.Lock()
	if !t.discovering || t.closed || t.seen[pi.ID] {
		t.mu.Unlock()
		return
	}
	t.seen[pi.ID] = true
	t.wg.Add(1)
	t.mu.Unlock()

	t.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)

	go func() {
		defer t.wg.Done()

		name, err := t.Describe(t.ctx, domain.Endpoint(pi.ID.String()))
		if err != nil {
			// Not advertising a session.
			slog.Debug("peer has no session", "peer", pi.ID.String(), "error", err)
			t.mu.Lock()
			delete(t.seen, pi.ID)
			t.mu.Unlock()
			return
		}
		t.emit(ports.TransportEvent{
			Kind:     ports.EndpointFound,
			Endpoint: domain.Endpoint(pi.ID.String()),
			Name:     name,
		})
	}()
}

// Describe asks ep for the name of the session it advertises.
func (t *P2PTransport) Describe(ctx context.Context, ep domain.Endpoint) (string, error) {
	id, err := peer.Decode(string(ep))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	s, err := t.host.NewStream(ctx, id, InfoProtocol)
	if err != nil {
		return "", err
	}
	defer s.Close()

	_ = s.SetReadDeadline(time.Now().Add(infoTimeout))
	r := msgio.NewVarintReaderSize(s, maxFrameSize)
	msg, err := r.ReadMsg()
	if err != nil {
		return "", fmt.Errorf("read session name: %w", err)
	}
	name := string(msg)
	r.ReleaseMsg(msg)
	return name, nil
}

func (t *P2PTransport) handleInfoStream(s network.Stream) {
	defer s.Close()

	t.mu.Lock()
	name := t.sessionName
	t.mu.Unlock()

	_ = s.SetWriteDeadline(time.Now().Add(infoTimeout))
	if err := msgio.NewVarintWriter(s).WriteMsg([]byte(name)); err != nil {
		slog.Debug("failed to answer info request", "peer", s.Conn().RemotePeer().String(), "error", err)
	}
}

func (t *P2PTransport) handleSessionStream(s network.Stream) {
	id := s.Conn().RemotePeer()

	t.mu.Lock()
	if t.closed || !t.advertising {
		t.mu.Unlock()
		_ = s.Reset()
		return
	}
	if old, ok := t.pending[id]; ok {
		_ = old.Reset()
	}
	t.pending[id] = s
	t.mu.Unlock()

	t.emit(ports.TransportEvent{
		Kind:     ports.ConnectionRequested,
		Endpoint: domain.Endpoint(id.String()),
	})
}

// AcceptIncoming confirms a pending request and starts the connection.
func (t *P2PTransport) AcceptIncoming(_ context.Context, ep domain.Endpoint) error {
	id, err := peer.Decode(string(ep))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	t.mu.Lock()
	s, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if !ok {
		return ErrNoPendingRequest
	}

	_ = s.SetWriteDeadline(time.Now().Add(dialTimeout))
	if err := msgio.NewVarintWriter(s).WriteMsg(acceptFrame); err != nil {
		_ = s.Reset()
		return fmt.Errorf("confirm connection: %w", err)
	}
	_ = s.SetWriteDeadline(time.Time{})

	if !t.startPeer(id, s, msgio.NewVarintReaderSize(s, maxFrameSize)) {
		return ErrTransportClosed
	}
	t.emit(ports.TransportEvent{Kind: ports.Connected, Endpoint: ep})
	return nil
}

// Reject refuses a pending request. The dialer sees ConnectionFailed.
func (t *P2PTransport) Reject(ep domain.Endpoint) error {
	id, err := peer.Decode(string(ep))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	t.mu.Lock()
	s, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if !ok {
		return ErrNoPendingRequest
	}
	return s.Reset()
}

// Connect dials ep in the background. The host must accept before Connected
// is delivered.
func (t *P2PTransport) Connect(_ context.Context, ep domain.Endpoint) error {
	id, err := peer.Decode(string(ep))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()

		failed := func(err error) {
			slog.Debug("connection failed", "peer", ep, "error", err)
			t.emit(ports.TransportEvent{Kind: ports.ConnectionFailed, Endpoint: ep, Err: err})
		}

		dialCtx, cancel := context.WithTimeout(t.ctx, dialTimeout)
		s, err := t.host.NewStream(dialCtx, id, SessionProtocol)
		cancel()
		if err != nil {
			failed(err)
			return
		}

		r := msgio.NewVarintReaderSize(s, maxFrameSize)
		_ = s.SetReadDeadline(time.Now().Add(acceptTimeout))
		msg, err := r.ReadMsg()
		if err != nil {
			_ = s.Reset()
			failed(fmt.Errorf("wait for accept: %w", err))
			return
		}
		accepted := slices.Equal(msg, acceptFrame)
		r.ReleaseMsg(msg)
		if !accepted {
			_ = s.Reset()
			failed(errors.New("unexpected handshake frame"))
			return
		}
		_ = s.SetReadDeadline(time.Time{})

		if !t.startPeer(id, s, r) {
			return
		}
		t.emit(ports.TransportEvent{Kind: ports.Connected, Endpoint: ep})
	}()
	return nil
}

// startPeer registers an established stream. It reports false if the
// transport closed meanwhile.
func (t *P2PTransport) startPeer(id peer.ID, s network.Stream, r msgio.ReadCloser) bool {
	pc := &peerConn{
		stream:  s,
		reader:  r,
		out:     make(chan []byte, sendQueueSize),
		closing: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = s.Reset()
		return false
	}
	if old, ok := t.peers[id]; ok {
		old.close()
	}
	t.peers[id] = pc
	t.wg.Add(2)
	t.mu.Unlock()

	go t.writeLoop(id, pc)
	go t.readLoop(id, pc)
	return true
}

// close stops accepting sends. The writer flushes what is queued and then
// closes the stream.
func (pc *peerConn) close() {
	pc.closeOnce.Do(func() { close(pc.closing) })
}

func (t *P2PTransport) writeLoop(id peer.ID, pc *peerConn) {
	defer t.wg.Done()

	w := msgio.NewVarintWriter(pc.stream)
	for {
		select {
		case payload := <-pc.out:
			if err := w.WriteMsg(payload); err != nil {
				slog.Debug("write failed", "peer", id.String(), "error", err)
				_ = pc.stream.Reset()
				return
			}
		case <-pc.closing:
			for {
				select {
				case payload := <-pc.out:
					if err := w.WriteMsg(payload); err != nil {
						_ = pc.stream.Reset()
						return
					}
				default:
					_ = pc.stream.Close()
					return
				}
			}
		case <-t.ctx.Done():
			_ = pc.stream.Reset()
			return
		}
	}
}

func (t *P2PTransport) readLoop(id peer.ID, pc *peerConn) {
	defer t.wg.Done()

	ep := domain.Endpoint(id.String())
	for {
		msg, err := pc.reader.ReadMsg()
		if err != nil {
			break
		}
		payload := slices.Clone(msg)
		pc.reader.ReleaseMsg(msg)
		t.emit(ports.TransportEvent{Kind: ports.PayloadReceived, Endpoint: ep, Payload: payload})
	}

	pc.close()

	t.mu.Lock()
	current := t.peers[id] == pc
	if current {
		delete(t.peers, id)
	}
	t.mu.Unlock()

	if current {
		t.emit(ports.TransportEvent{Kind: ports.Disconnected, Endpoint: ep})
	}
}

// Send queues payload for ep without waiting for it to be written.
func (t *P2PTransport) Send(_ context.Context, ep domain.Endpoint, payload []byte) error {
	id, err := peer.Decode(string(ep))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	t.mu.Lock()
	pc, ok := t.peers[id]
	t.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	select {
	case <-pc.closing:
		return ErrNotConnected
	default:
	}

	select {
	case pc.out <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Disconnect closes the connection to ep after flushing queued payloads.
func (t *P2PTransport) Disconnect(ep domain.Endpoint) error {
	id, err := peer.Decode(string(ep))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	t.mu.Lock()
	pc, ok := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	pc.close()
	return nil
}

// DisconnectAll closes every connection after flushing queued payloads.
func (t *P2PTransport) DisconnectAll() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Readers of dropped connections see they are no longer current and
	// stay silent.
	for id, pc := range t.peers {
		pc.close()
		delete(t.peers, id)
	}
	return nil
}

// Close tears down every connection and the libp2p host.
func (t *P2PTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	svc := t.mdns
	for id, s := range t.pending {
		_ = s.Reset()
		delete(t.pending, id)
	}
	t.mu.Unlock()

	var errs []error
	if svc != nil {
		errs = append(errs, svc.Close())
	}

	t.cancel()
	errs = append(errs, t.host.Close())
	t.wg.Wait()

	t.eventsMu.Lock()
	t.eventsClosed = true
	close(t.events)
	t.eventsMu.Unlock()

	slog.Debug("p2p transport closed")
	return errors.Join(errs...)
}
