// Package p2p implements the peer transport of spec.md §4.6 (C7): a
// TLS-1.3-only, length-prefixed JSON wire protocol. Grounded on the
// teacher's util/p2p.P2PNode structuring (a config struct, a
// handler-by-topic dispatch map, one goroutine per accepted
// connection) in util/p2p/P2PNode.go, adapted from a libp2p host to a
// bespoke net/tls listener since spec.md §4.6 mandates a custom frame
// format incompatible with libp2p's own transport/pubsub abstraction.
package p2p

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/playergold/node/errors"
	"github.com/playergold/node/ulogger"
)

const (
	heartbeatInterval = 30 * time.Second
	peerEvictAfter    = 120 * time.Second
	dialTimeout       = 5 * time.Second
)

// Config configures one Transport instance, per spec.md §4.6.
type Config struct {
	NodeID          string
	NetworkID       string
	ListenAddr      string
	AllowPrivateIPs bool
	BootstrapPeers  []string
}

type peerConn struct {
	id       string
	addr     string
	conn     net.Conn
	mu       sync.Mutex
	lastSeen time.Time
}

// Transport owns the peer table (exclusive owner per spec.md §5) and
// the listener; directed/broadcast sends and the heartbeat loop are
// methods on it.
type Transport struct {
	config   Config
	logger   ulogger.Logger
	cert     tls.Certificate
	listener net.Listener

	mu       sync.RWMutex
	peers    map[string]*peerConn
	handlers map[MessageType]Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport builds a Transport, generating the node's self-signed
// certificate.
func NewTransport(config Config, logger ulogger.Logger) (*Transport, error) {
	cert, err := selfSignedCert(config.NodeID)
	if err != nil {
		return nil, errors.NewCryptoError("p2p: generate self-signed cert", err)
	}
	return &Transport{
		config:   config,
		logger:   logger,
		cert:     cert,
		peers:    make(map[string]*peerConn),
		handlers: make(map[MessageType]Handler),
		closed:   make(chan struct{}),
	}, nil
}

// OnMessage registers the handler invoked for inbound envelopes of
// type t. Registering replaces any previous handler for t.
func (tr *Transport) OnMessage(t MessageType, h Handler) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handlers[t] = h
}

// Start begins listening for inbound connections and launches the
// heartbeat/eviction loop. It returns once the listener is bound.
func (tr *Transport) Start(ctx context.Context) error {
	ln, err := tls.Listen("tcp", tr.config.ListenAddr, tlsConfig(tr.cert))
	if err != nil {
		return errors.NewTransientNetworkError("p2p: listen", err)
	}
	tr.listener = ln
	tr.logger.Infof("[Transport] listening on %s (network=%s)", tr.config.ListenAddr, tr.config.NetworkID)

	go tr.acceptLoop(ctx)
	go tr.heartbeatLoop(ctx)

	for _, addr := range tr.config.BootstrapPeers {
		addr := addr
		go func() {
			if err := tr.Dial(ctx, addr); err != nil {
				tr.logger.Warnf("[Transport] dial bootstrap peer %s failed: %v", addr, err)
			}
		}()
	}
	return nil
}

// Stop closes the listener and all peer connections.
func (tr *Transport) Stop() {
	tr.closeOnce.Do(func() { close(tr.closed) })
	if tr.listener != nil {
		_ = tr.listener.Close()
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, p := range tr.peers {
		_ = p.conn.Close()
	}
	tr.peers = make(map[string]*peerConn)
}

func (tr *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := tr.listener.Accept()
		if err != nil {
			select {
			case <-tr.closed:
				return
			default:
				tr.logger.Warnf("[Transport] accept error: %v", err)
				return
			}
		}
		if !tr.ipAllowed(conn.RemoteAddr()) {
			tr.logger.Warnf("[Transport] rejecting peer %s: IP policy", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		go tr.handleConn(ctx, conn, "")
	}
}

func (tr *Transport) ipAllowed(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return allowedIP(hostIP(host), tr.config.AllowPrivateIPs)
}

// Dial connects to addr, performs the handshake, and registers the
// resulting peer.
func (tr *Transport) Dial(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err == nil && !allowedIP(hostIP(host), tr.config.AllowPrivateIPs) {
		return errors.NewProtocolError("p2p: peer address rejected by IP policy", nil)
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig(tr.cert))
	if err != nil {
		return errors.NewTransientNetworkError("p2p: dial "+addr, err)
	}

	if err := writeFrame(conn, tr.handshakeEnvelope()); err != nil {
		_ = conn.Close()
		return err
	}

	go tr.handleConn(ctx, conn, addr)
	return nil
}

func (tr *Transport) handshakeEnvelope() Envelope {
	env, _ := newEnvelope(tr.config.NodeID, tr.config.NetworkID, MsgHandshake, map[string]string{"node_id": tr.config.NodeID})
	return env
}

// handleConn reads frames from conn until it closes or the network-id
// gate fails, one goroutine per connection per the teacher's
// one-task-per-connection convention. On an accepted connection it
// answers the peer's handshake with its own before registering the peer.
func (tr *Transport) handleConn(ctx context.Context, conn net.Conn, dialedAddr string) {
	defer conn.Close()

	var peerID string
	for {
		env, err := readFrame(conn)
		if err != nil {
			if peerID != "" {
				tr.removePeer(peerID)
			}
			return
		}

		if env.NetworkID != tr.config.NetworkID {
			tr.logger.Warnf("[Transport] peer %s network mismatch, dropping", env.From)
			return
		}

		if peerID == "" {
			if dialedAddr == "" && env.Type == MsgHandshake {
				if err := writeFrame(conn, tr.handshakeEnvelope()); err != nil {
					return
				}
			}
			peerID = env.From
			tr.registerPeer(peerID, dialedAddr, conn)
		}
		tr.touchPeer(peerID)

		if env.Type == MsgHandshake || env.Type == MsgHeartbeat {
			continue
		}

		tr.mu.RLock()
		h, ok := tr.handlers[env.Type]
		tr.mu.RUnlock()
		if ok {
			h(peerID, env)
		}
	}
}

func (tr *Transport) registerPeer(id, addr string, conn net.Conn) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.peers[id] = &peerConn{id: id, addr: addr, conn: conn, lastSeen: time.Now()}
}

func (tr *Transport) touchPeer(id string) {
	tr.mu.RLock()
	p, ok := tr.peers[id]
	tr.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (tr *Transport) removePeer(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.peers, id)
}

// PeerIDs returns the ids of currently connected peers.
func (tr *Transport) PeerIDs() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	ids := make([]string, 0, len(tr.peers))
	for id := range tr.peers {
		ids = append(ids, id)
	}
	return ids
}

// Send directs an envelope of type t carrying payload to a single peer.
func (tr *Transport) Send(peerID string, t MessageType, payload interface{}) error {
	tr.mu.RLock()
	p, ok := tr.peers[peerID]
	tr.mu.RUnlock()
	if !ok {
		return errors.NewProtocolError("p2p: unknown peer "+peerID, nil)
	}

	env, err := newEnvelope(tr.config.NodeID, tr.config.NetworkID, t, payload)
	if err != nil {
		return errors.NewProtocolError("p2p: encode payload", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return writeFrame(p.conn, env)
}

// Broadcast sends an envelope of type t to every connected peer,
// collecting send errors rather than aborting on the first failure.
func (tr *Transport) Broadcast(t MessageType, payload interface{}) []error {
	tr.mu.RLock()
	ids := make([]string, 0, len(tr.peers))
	for id := range tr.peers {
		ids = append(ids, id)
	}
	tr.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := tr.Send(id, t, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (tr *Transport) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.closed:
			return
		case <-ticker.C:
			tr.Broadcast(MsgHeartbeat, map[string]string{"node_id": tr.config.NodeID})
			tr.evictStalePeers()
		}
	}
}

func (tr *Transport) evictStalePeers() {
	cutoff := time.Now().Add(-peerEvictAfter)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for id, p := range tr.peers {
		p.mu.Lock()
		stale := p.lastSeen.Before(cutoff)
		p.mu.Unlock()
		if stale {
			_ = p.conn.Close()
			delete(tr.peers, id)
			tr.logger.Infof("[Transport] evicted stale peer %s", id)
		}
	}
}
