package transport

import "sync"

type handlerEntry struct {
	id uint64
	fn func([]byte)
}

// Mailbox is the receive side of a channel handle. Frames pushed into it
// are handed to the subscribed handlers one at a time, in push order, on a
// single goroutine owned by the mailbox. The queue is unbounded so a slow
// handler never blocks senders.
type Mailbox struct {
	mu       sync.Mutex
	queue    [][]byte
	handlers []handlerEntry
	nextID   uint64
	closed   bool

	wake chan struct{}
	done chan struct{}
}

func NewMailbox() *Mailbox {
	m := &Mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.loop()
	return m
}

// Push enqueues frame for delivery. It reports false once the mailbox is
// closed.
func (m *Mailbox) Push(frame []byte) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, frame)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Subscribe registers fn and returns a function that removes it again.
// Frames delivered while no handler is registered are dropped.
func (m *Mailbox) Subscribe(fn func([]byte)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, handlerEntry{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for i, h := range m.handlers {
				if h.id == id {
					m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
}

// Close stops delivery and drops queued frames. It does not wait for a
// handler that is currently running.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.handlers = nil
	m.mu.Unlock()
	close(m.done)
}

func (m *Mailbox) loop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			m.mu.Lock()
			if m.closed || len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			frame := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			handlers := append([]handlerEntry(nil), m.handlers...)
			m.mu.Unlock()

			for _, h := range handlers {
				h.fn(frame)
			}
		}
	}
}
