package chanstore

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultChannelName is the channel joined when WithChannelName is not used.
	DefaultChannelName = "__broadcast_channel-storage"
	// DefaultResponseTimeout bounds how long a new replica waits for a snapshot.
	DefaultResponseTimeout = 50 * time.Millisecond
)

// BootstrapPolicy decides which snapshots a new replica adopts.
type BootstrapPolicy int

const (
	// FirstSnapshot adopts the first snapshot received and ignores the rest.
	// A slow but more recent peer loses to a fast stale one.
	FirstSnapshot BootstrapPolicy = iota
	// MergeSnapshots collects every snapshot until the response timeout and
	// applies them in arrival order, later snapshots overriding earlier ones
	// per key. Startup always takes the full timeout.
	MergeSnapshots
)

func (p BootstrapPolicy) String() string {
	switch p {
	case FirstSnapshot:
		return "first-snapshot"
	case MergeSnapshots:
		return "merge-snapshots"
	default:
		return fmt.Sprintf("BootstrapPolicy(%d)", int(p))
	}
}

// Option configures a Store on creation.
// Return an error to reject an invalid option value.
type Option func(*Config) error

// Config holds runtime configuration for a replica.
// Users typically set it via Option helpers.
type Config struct {
	ReplicaID       string
	ChannelName     string
	ResponseTimeout time.Duration
	BootstrapPolicy BootstrapPolicy
	URL             string
	logger          *slog.Logger
	errorHandler    func(error)
}

func defaultConfig() Config {
	return Config{
		ChannelName:     DefaultChannelName,
		ResponseTimeout: DefaultResponseTimeout,
		BootstrapPolicy: FirstSnapshot,
	}
}

func (c *Config) finalize() error {
	if c.ReplicaID == "" {
		c.ReplicaID = uuid.NewString()
	}
	if c.ChannelName == "" {
		return fmt.Errorf("chanstore: channel name cannot be empty")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("chanstore: response timeout must be positive")
	}
	if c.logger == nil {
		c.logger = discardLogger()
	}
	if c.errorHandler == nil {
		c.errorHandler = func(error) {}
	}
	return nil
}

// WithReplicaID sets a stable replica identifier used in logs.
// If omitted, a random UUID is generated.
func WithReplicaID(id string) Option {
	return func(c *Config) error {
		if id == "" {
			return fmt.Errorf("chanstore: replica id cannot be empty")
		}
		c.ReplicaID = id
		return nil
	}
}

// WithChannelName selects which bus channel the replica joins. Replicas
// only see each other when they use the same name.
func WithChannelName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("chanstore: channel name cannot be empty")
		}
		c.ChannelName = name
		return nil
	}
}

// WithResponseTimeout bounds how long bootstrap waits for a peer snapshot.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("chanstore: response timeout must be positive")
		}
		c.ResponseTimeout = timeout
		return nil
	}
}

// WithBootstrapPolicy selects how snapshots received during bootstrap are
// applied. The default is FirstSnapshot.
func WithBootstrapPolicy(policy BootstrapPolicy) Option {
	return func(c *Config) error {
		switch policy {
		case FirstSnapshot, MergeSnapshots:
			c.BootstrapPolicy = policy
			return nil
		default:
			return fmt.Errorf("chanstore: unknown bootstrap policy %d", int(policy))
		}
	}
}

// WithURL sets the URL reported in every ChangeEvent. It carries no
// protocol meaning.
func WithURL(url string) Option {
	return func(c *Config) error {
		c.URL = url
		return nil
	}
}

// WithLogger sets the structured logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("chanstore: logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithErrorHandler sets a callback for internal errors (encoding, transport).
// It is best-effort and must be fast and non-blocking.
func WithErrorHandler(handler func(error)) Option {
	return func(c *Config) error {
		if handler == nil {
			return fmt.Errorf("chanstore: error handler cannot be nil")
		}
		c.errorHandler = handler
		return nil
	}
}

// BusOption configures the network buses returned by NewUDPBus and NewRedisBus.
// Return an error to reject an invalid option value.
type BusOption func(*BusConfig) error

// BusConfig holds transport configuration. Fields that do not apply to a
// given bus are ignored.
type BusConfig struct {
	NodeID       string
	BindAddr     string
	Seeds        []string
	Discovery    bool
	RedisPrefix  string
	logger       *slog.Logger
	errorHandler func(error)
}

func defaultBusConfig() BusConfig {
	return BusConfig{
		BindAddr: "127.0.0.1:0",
	}
}

func (c *BusConfig) finalize() error {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if err := validateAddr(c.BindAddr); err != nil {
		return err
	}
	if c.logger == nil {
		c.logger = discardLogger()
	}
	return nil
}

// WithNodeID sets the identifier a UDP bus announces over mDNS.
// If omitted, a random UUID is generated.
func WithNodeID(nodeID string) BusOption {
	return func(c *BusConfig) error {
		if nodeID == "" {
			return fmt.Errorf("chanstore: node id cannot be empty")
		}
		c.NodeID = nodeID
		return nil
	}
}

// WithBindAddr sets the local UDP address in host:port form.
// Port 0 picks a free port. It is validated with net.SplitHostPort.
func WithBindAddr(addr string) BusOption {
	return func(c *BusConfig) error {
		if addr == "" {
			return fmt.Errorf("chanstore: bind addr cannot be empty")
		}
		if err := validateAddr(addr); err != nil {
			return err
		}
		c.BindAddr = addr
		return nil
	}
}

// WithSeeds sets the peer addresses a UDP bus sends to from the start.
func WithSeeds(seeds []string) BusOption {
	return func(c *BusConfig) error {
		for _, seed := range seeds {
			if err := validateAddr(seed); err != nil {
				return err
			}
		}
		c.Seeds = append([]string(nil), seeds...)
		return nil
	}
}

// WithDiscovery enables or disables mDNS peer discovery for a UDP bus.
func WithDiscovery(enabled bool) BusOption {
	return func(c *BusConfig) error {
		c.Discovery = enabled
		return nil
	}
}

// WithRedisPrefix namespaces the Redis pub/sub channels of a Redis bus.
func WithRedisPrefix(prefix string) BusOption {
	return func(c *BusConfig) error {
		if prefix == "" {
			return fmt.Errorf("chanstore: redis prefix cannot be empty")
		}
		c.RedisPrefix = prefix
		return nil
	}
}

// WithBusLogger sets the logger used by the bus for transport events.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(c *BusConfig) error {
		if logger == nil {
			return fmt.Errorf("chanstore: logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithBusErrorHandler sets a callback for transport errors such as
// undecodable frames. It must be fast and non-blocking.
func WithBusErrorHandler(handler func(error)) BusOption {
	return func(c *BusConfig) error {
		if handler == nil {
			return fmt.Errorf("chanstore: error handler cannot be nil")
		}
		c.errorHandler = handler
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("chanstore: invalid address %q: %w", addr, err)
	}
	return nil
}
