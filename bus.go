package chanstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/DobryySoul/chanstore/internal/discovery"
	"github.com/DobryySoul/chanstore/internal/membus"
	"github.com/DobryySoul/chanstore/internal/redisbus"
	"github.com/DobryySoul/chanstore/internal/udpbus"
)

// Bus opens handles on named broadcast channels.
//
// An implementation must deliver every frame posted on a Channel to all
// other open Channels with the same name and never back to the poster,
// never across names, and in posting order per sender. Frames are
// delivered to one Channel sequentially. Delivery is fire-and-forget.
type Bus interface {
	Open(ctx context.Context, name string) (Channel, error)
}

// Channel is one subscriber's handle on a named channel.
type Channel interface {
	// Post sends frame to every other subscriber of the channel.
	Post(ctx context.Context, frame []byte) error
	// Subscribe registers fn for incoming frames and returns a function
	// that removes it.
	Subscribe(fn func(frame []byte)) (cancel func())
	// Close detaches the handle. It is safe to call more than once.
	Close() error
}

// MemoryBus connects replicas living in the same process.
type MemoryBus struct {
	hub *membus.Hub
}

// NewMemoryBus returns a bus that connects replicas within one process.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{hub: membus.NewHub()}
}

func (b *MemoryBus) Open(ctx context.Context, name string) (Channel, error) {
	port, err := b.hub.Open(ctx, name)
	if err != nil {
		return nil, mapContextErr(err)
	}
	return port, nil
}

// Subscribers returns the number of open channels named name.
func (b *MemoryBus) Subscribers(name string) int {
	return b.hub.Subscribers(name)
}

// RedisBus carries channels over Redis pub/sub, connecting replicas in
// different processes or hosts. The client stays owned by the caller.
type RedisBus struct {
	bus *redisbus.Bus
}

// NewRedisBus returns a bus that carries each channel over Redis pub/sub on
// the topic WithRedisPrefix + channel name. The caller owns client and
// closes it after every replica is destroyed.
func NewRedisBus(client redis.UniversalClient, opts ...BusOption) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("chanstore: redis client cannot be nil")
	}
	cfg, err := buildBusConfig(opts)
	if err != nil {
		return nil, err
	}
	return &RedisBus{
		bus: redisbus.New(client, cfg.RedisPrefix, cfg.logger, cfg.errorHandler),
	}, nil
}

func (b *RedisBus) Open(ctx context.Context, name string) (Channel, error) {
	port, err := b.bus.Open(ctx, name)
	if err != nil {
		return nil, mapContextErr(err)
	}
	return port, nil
}

// UDPBus carries channels as UDP datagrams between nodes on a network.
// Peers come from WithSeeds, AddPeers and, when enabled, mDNS discovery.
// Datagrams may be lost or reordered, so the per-sender ordering of the
// Bus contract only holds between channels opened on the same UDPBus.
type UDPBus struct {
	node      *udpbus.Node
	discovery *discovery.MDNS
}

// NewUDPBus binds a UDP node and starts sending posts to the peers given by
// WithSeeds and, with WithDiscovery, to peers found over mDNS. Close stops
// the node and every channel opened on it.
func NewUDPBus(opts ...BusOption) (*UDPBus, error) {
	cfg, err := buildBusConfig(opts)
	if err != nil {
		return nil, err
	}

	node := udpbus.NewNode(cfg.NodeID, cfg.BindAddr, cfg.Seeds, cfg.logger, cfg.errorHandler)
	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("chanstore: start udp bus: %w", err)
	}
	b := &UDPBus{node: node}
	if cfg.Discovery {
		mdns, err := discovery.NewMDNS(cfg.NodeID, node.Addr(), cfg.logger, node.AddPeers)
		if err != nil {
			_ = node.Stop()
			return nil, err
		}
		b.discovery = mdns
	}
	cfg.logger.Info("udp bus started",
		slog.String("node", cfg.NodeID),
		slog.String("addr", node.Addr()),
		slog.Bool("discovery", cfg.Discovery))
	return b, nil
}

func (b *UDPBus) Open(ctx context.Context, name string) (Channel, error) {
	port, err := b.node.Open(ctx, name)
	if err != nil {
		return nil, mapContextErr(err)
	}
	return port, nil
}

// Addr returns the bound UDP address.
func (b *UDPBus) Addr() string { return b.node.Addr() }

func (b *UDPBus) AddPeers(peers []string) { b.node.AddPeers(peers) }

func (b *UDPBus) Peers() []string { return b.node.Peers() }

// Close stops discovery and the UDP socket and closes every channel
// opened on the bus.
func (b *UDPBus) Close() error {
	b.discovery.Stop()
	return b.node.Stop()
}

func buildBusConfig(opts []BusOption) (BusConfig, error) {
	cfg := defaultBusConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return BusConfig{}, err
		}
	}
	if err := cfg.finalize(); err != nil {
		return BusConfig{}, err
	}
	return cfg, nil
}

func mapContextErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}
