package chanstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DobryySoul/chanstore/internal/protocol"
)

// fakeBus hands out a single fakeChannel so tests can inspect what a
// replica posts and feed it frames synchronously.
type fakeBus struct {
	channel *fakeChannel
}

func newFakeBus() *fakeBus {
	return &fakeBus{channel: &fakeChannel{}}
}

func (b *fakeBus) Open(ctx context.Context, name string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.channel, nil
}

type fakeChannel struct {
	mu       sync.Mutex
	frames   [][]byte
	handler  func([]byte)
	retained func([]byte)
	postErr  error
	closed   bool
}

func (c *fakeChannel) Post(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.postErr != nil {
		return c.postErr
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *fakeChannel) Subscribe(fn func([]byte)) func() {
	c.mu.Lock()
	c.handler = fn
	c.retained = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) failWith(err error) {
	c.mu.Lock()
	c.postErr = err
	c.mu.Unlock()
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) posted() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeChannel) postedMessages(t *testing.T) []protocol.Message {
	t.Helper()
	frames := c.posted()
	msgs := make([]protocol.Message, 0, len(frames))
	for _, frame := range frames {
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func (c *fakeChannel) postedKinds(t *testing.T) []string {
	t.Helper()
	msgs := c.postedMessages(t)
	kinds := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		kinds = append(kinds, msg.Kind)
	}
	return kinds
}

// deliverRaw runs the current subscription on the calling goroutine.
func (c *fakeChannel) deliverRaw(frame []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

func (c *fakeChannel) deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	c.deliverRaw(frame)
}

// deliverIgnoringUnsubscribe simulates a frame that was already being
// delivered when the subscription was cancelled.
func (c *fakeChannel) deliverIgnoringUnsubscribe(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	c.mu.Lock()
	handler := c.retained
	c.mu.Unlock()
	require.NotNil(t, handler)
	handler(frame)
}
