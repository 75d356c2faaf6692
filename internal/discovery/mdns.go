package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service type announced by UDP bus nodes.
const ServiceName = "_chanstore._udp"

// MDNS announces a bus node on the local network and reports the
// addresses of other nodes as they are found.
type MDNS struct {
	nodeID string
	server *zeroconf.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewMDNS registers the node and starts browsing for peers.
// onPeer is called for each discovered peer address (host:port).
func NewMDNS(nodeID, bindAddr string, logger *slog.Logger, onPeer func([]string)) (*MDNS, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	port, err := PortOf(bindAddr)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(nodeID, ServiceName, "local.", port, TXTRecords(nodeID), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	entries := make(chan *zeroconf.ServiceEntry)
	mdns := &MDNS{
		nodeID: nodeID,
		server: server,
		cancel: cancel,
		logger: logger,
	}

	mdns.wg.Add(1)
	go mdns.browseLoop(entries, onPeer)

	if err := resolver.Browse(ctx, ServiceName, "local.", entries); err != nil {
		cancel()
		server.Shutdown()
		mdns.wg.Wait()
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	logger.Debug("discovery: mdns announced",
		slog.String("node", nodeID),
		slog.Int("port", port))
	return mdns, nil
}

func (m *MDNS) browseLoop(entries <-chan *zeroconf.ServiceEntry, onPeer func([]string)) {
	defer m.wg.Done()
	for entry := range entries {
		if IsSelf(m.nodeID, entry) {
			continue
		}
		addrs := PeerAddrs(entry)
		if len(addrs) == 0 {
			continue
		}
		m.logger.Debug("discovery: peer found",
			slog.String("instance", entry.Instance),
			slog.Any("addrs", addrs))
		onPeer(addrs)
	}
}

// Stop shuts down the discovery service.
func (m *MDNS) Stop() {
	if m == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.server.Shutdown()
}

func TXTRecords(nodeID string) []string {
	return []string{"node=" + nodeID}
}

// IsSelf returns true if the discovered service entry belongs to nodeID.
func IsSelf(nodeID string, entry *zeroconf.ServiceEntry) bool {
	return slices.Contains(entry.Text, "node="+nodeID)
}

// PeerAddrs lists every host:port the entry can be reached at.
func PeerAddrs(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)))
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)))
	}
	return addrs
}

func PortOf(bindAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return 0, fmt.Errorf("discovery: invalid bind addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("discovery: invalid port: %w", err)
	}
	return port, nil
}
