package udpbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/DobryySoul/chanstore/internal/transport"
)

// MaxFrameSize bounds one encoded envelope: the largest UDP payload over
// IPv4. Larger posts are rejected.
const MaxFrameSize = 65507

var ErrFrameTooLarge = errors.New("udpbus: frame exceeds datagram size")

// Node is one UDP endpoint that carries every channel opened on it. A post
// is delivered to the other local Ports of the same channel and sent as a
// datagram to every known peer. Delivery between nodes is best-effort and
// unordered, like any UDP traffic.
type Node struct {
	id       string
	bindAddr string
	logger   *slog.Logger
	onError  func(error)

	conn    *net.UDPConn
	stop    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup

	peersMu  sync.RWMutex
	peers    []string
	peersSet map[string]struct{}

	portsMu sync.RWMutex
	ports   map[string]map[*Port]struct{}
}

func NewNode(
	nodeID string,
	bindAddr string,
	peers []string,
	logger *slog.Logger,
	onError func(error),
) *Node {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	filtered := filterPeers(bindAddr, peers)
	peersSet := make(map[string]struct{}, len(filtered))
	for _, peer := range filtered {
		peersSet[peer] = struct{}{}
	}
	return &Node{
		id:       nodeID,
		bindAddr: bindAddr,
		logger:   logger,
		onError:  onError,
		stop:     make(chan struct{}),
		peers:    filtered,
		peersSet: peersSet,
		ports:    make(map[string]map[*Port]struct{}),
	}
}

func (n *Node) ID() string { return n.id }

func (n *Node) Start() error {
	addr, err := net.ResolveUDPAddr("udp", n.bindAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	n.conn = conn
	// Port 0 binds an ephemeral port; remember the real one.
	n.bindAddr = conn.LocalAddr().String()

	n.wg.Add(1)
	go n.readLoop()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (n *Node) Addr() string { return n.bindAddr }

func (n *Node) Stop() error {
	if !n.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(n.stop)
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.wg.Wait()

	n.portsMu.Lock()
	for _, members := range n.ports {
		for port := range members {
			port.closed.Store(true)
			port.box.Close()
		}
	}
	n.ports = make(map[string]map[*Port]struct{})
	n.portsMu.Unlock()
	return nil
}

func (n *Node) Open(ctx context.Context, name string) (*Port, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if n.stopped.Load() {
		return nil, transport.ErrClosed
	}
	port := &Port{
		node: n,
		name: name,
		id:   uuid.NewString(),
		box:  transport.NewMailbox(),
	}
	n.portsMu.Lock()
	members, ok := n.ports[name]
	if !ok {
		members = make(map[*Port]struct{})
		n.ports[name] = members
	}
	members[port] = struct{}{}
	n.portsMu.Unlock()
	return port, nil
}

func (n *Node) readLoop() {
	defer n.wg.Done()
	buf := make([]byte, MaxFrameSize)

	for {
		nbytes, _, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-n.stop:
				return
			default:
				continue
			}
		}

		env, err := transport.DecodeEnvelope(buf[:nbytes])
		if err != nil {
			n.reportErr(fmt.Errorf("udpbus: decode envelope: %w", err))
			continue
		}
		n.deliverLocal(env, nil)
	}
}

// deliverLocal hands env to the local Ports of its channel, skipping the
// sending Port.
func (n *Node) deliverLocal(env transport.Envelope, from *Port) {
	n.portsMu.RLock()
	defer n.portsMu.RUnlock()
	for port := range n.ports[env.Channel] {
		if port == from || port.id == env.Sender {
			continue
		}
		port.box.Push(append([]byte(nil), env.Payload...))
	}
}

func (n *Node) broadcast(ctx context.Context, from *Port, frame []byte) error {
	env := transport.Envelope{
		Channel: from.name,
		Sender:  from.id,
		Payload: frame,
	}
	data, err := transport.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("udpbus: encode envelope: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	n.deliverLocal(env, from)

	n.peersMu.RLock()
	peers := append([]string(nil), n.peers...)
	n.peersMu.RUnlock()
	for _, peer := range peers {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n.sendTo(peer, data)
	}
	return nil
}

func (n *Node) sendTo(addr string, data []byte) {
	peerAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		n.reportErr(fmt.Errorf("udpbus: resolve addr: %w", err))
		return
	}
	if _, err := n.conn.WriteToUDP(data, peerAddr); err != nil {
		n.reportErr(fmt.Errorf("udpbus: send: %w", err))
	}
}

func (n *Node) removePort(port *Port) {
	n.portsMu.Lock()
	members := n.ports[port.name]
	delete(members, port)
	if len(members) == 0 {
		delete(n.ports, port.name)
	}
	n.portsMu.Unlock()
}

func filterPeers(bindAddr string, peers []string) []string {
	seen := make(map[string]struct{}, len(peers))
	out := make([]string, 0, len(peers))
	for _, peer := range peers {
		if peer == "" || peer == bindAddr {
			continue
		}
		if _, ok := seen[peer]; ok {
			continue
		}
		seen[peer] = struct{}{}
		out = append(out, peer)
	}
	return out
}

// AddPeers adds datagram destinations. Unknown and duplicate addresses are
// ignored, as is the node's own address.
func (n *Node) AddPeers(peers []string) {
	filtered := filterPeers(n.bindAddr, peers)
	if len(filtered) == 0 {
		return
	}
	n.peersMu.Lock()
	for _, peer := range filtered {
		if _, ok := n.peersSet[peer]; ok {
			continue
		}
		n.peersSet[peer] = struct{}{}
		n.peers = append(n.peers, peer)
		n.logger.Debug("udpbus: peer added", slog.String("peer", peer))
	}
	n.peersMu.Unlock()
}

func (n *Node) Peers() []string {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	return append([]string(nil), n.peers...)
}

func (n *Node) reportErr(err error) {
	if err == nil {
		return
	}
	n.logger.Warn("udpbus: transport error", slog.String("error", err.Error()))
	if n.onError != nil {
		n.onError(err)
	}
}

// Port is one handle on a named channel of a Node.
type Port struct {
	node   *Node
	name   string
	id     string
	box    *transport.Mailbox
	closed atomic.Bool
}

func (p *Port) Post(ctx context.Context, frame []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	return p.node.broadcast(ctx, p, frame)
}

func (p *Port) Subscribe(fn func([]byte)) func() {
	return p.box.Subscribe(fn)
}

func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.node.removePort(p)
	p.box.Close()
	return nil
}
