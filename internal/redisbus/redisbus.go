package redisbus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DobryySoul/chanstore/internal/transport"
)

// DefaultPrefix namespaces the Redis pub/sub channels used by the bus.
const DefaultPrefix = "chanstore:"

// Bus maps named channels onto Redis pub/sub channels. Redis delivers a
// published message to every subscriber including the publisher, so frames
// carry the sender id and each Port drops its own.
type Bus struct {
	client  redis.UniversalClient
	prefix  string
	logger  *slog.Logger
	onError func(error)
}

func New(client redis.UniversalClient, prefix string, logger *slog.Logger, onError func(error)) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		onError: onError,
	}
}

// Open subscribes to the Redis channel for name and waits for the
// subscription to be confirmed, so frames posted after Open returns are
// not missed.
func (b *Bus) Open(ctx context.Context, name string) (*Port, error) {
	topic := b.prefix + name
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redisbus: subscribe %q: %w", topic, err)
	}

	port := &Port{
		bus:    b,
		name:   name,
		topic:  topic,
		id:     uuid.NewString(),
		pubsub: pubsub,
		box:    transport.NewMailbox(),
	}
	port.wg.Add(1)
	go port.receiveLoop(pubsub.Channel())
	return port, nil
}

type Port struct {
	bus    *Bus
	name   string
	topic  string
	id     string
	pubsub *redis.PubSub
	box    *transport.Mailbox
	closed atomic.Bool
	wg     sync.WaitGroup
}

func (p *Port) Post(ctx context.Context, frame []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	data, err := transport.EncodeEnvelope(transport.Envelope{
		Channel: p.name,
		Sender:  p.id,
		Payload: frame,
	})
	if err != nil {
		return fmt.Errorf("redisbus: encode envelope: %w", err)
	}
	if err := p.bus.client.Publish(ctx, p.topic, data).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %q: %w", p.topic, err)
	}
	return nil
}

func (p *Port) Subscribe(fn func([]byte)) func() {
	return p.box.Subscribe(fn)
}

func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.box.Close()
	err := p.pubsub.Close()
	p.wg.Wait()
	if err != nil {
		return fmt.Errorf("redisbus: close subscription: %w", err)
	}
	return nil
}

func (p *Port) receiveLoop(messages <-chan *redis.Message) {
	defer p.wg.Done()
	for msg := range messages {
		env, err := transport.DecodeEnvelope([]byte(msg.Payload))
		if err != nil {
			p.reportErr(fmt.Errorf("redisbus: decode envelope: %w", err))
			continue
		}
		if env.Sender == p.id || env.Channel != p.name {
			continue
		}
		p.box.Push(env.Payload)
	}
}

func (p *Port) reportErr(err error) {
	p.bus.logger.Warn("redisbus: dropped frame",
		slog.String("channel", p.name),
		slog.String("error", err.Error()))
	if p.bus.onError != nil {
		p.bus.onError(err)
	}
}
