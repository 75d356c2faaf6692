package membus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/DobryySoul/chanstore/internal/transport"
)

// Hub connects every Port opened on it. A frame posted on a Port reaches
// all other open Ports with the same name and never the sender itself.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Port]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Port]struct{})}
}

func (h *Hub) Open(ctx context.Context, name string) (*Port, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	port := &Port{
		hub:  h,
		name: name,
		box:  transport.NewMailbox(),
	}
	h.mu.Lock()
	members, ok := h.channels[name]
	if !ok {
		members = make(map[*Port]struct{})
		h.channels[name] = members
	}
	members[port] = struct{}{}
	h.mu.Unlock()
	return port, nil
}

// Subscribers returns the number of open Ports for name.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[name])
}

func (h *Hub) remove(port *Port) {
	h.mu.Lock()
	members := h.channels[port.name]
	delete(members, port)
	if len(members) == 0 {
		delete(h.channels, port.name)
	}
	h.mu.Unlock()
}

// Port is one handle on a named channel of a Hub.
type Port struct {
	hub    *Hub
	name   string
	box    *transport.Mailbox
	closed atomic.Bool
}

// Post copies frame into the mailbox of every other Port on the channel.
func (p *Port) Post(ctx context.Context, frame []byte) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if p.closed.Load() {
		return transport.ErrClosed
	}

	p.hub.mu.RLock()
	defer p.hub.mu.RUnlock()
	for peer := range p.hub.channels[p.name] {
		if peer == p {
			continue
		}
		peer.box.Push(append([]byte(nil), frame...))
	}
	return nil
}

func (p *Port) Subscribe(fn func([]byte)) func() {
	return p.box.Subscribe(fn)
}

// Close detaches the Port from the Hub. It is safe to call more than once.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.hub.remove(p)
	p.box.Close()
	return nil
}
