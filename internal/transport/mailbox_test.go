package transport

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *recorder) handle(frame []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(frame))
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func TestMailboxDeliversInOrder(t *testing.T) {
	box := NewMailbox()
	defer box.Close()

	rec := &recorder{}
	box.Subscribe(rec.handle)

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		frame := strconv.Itoa(i)
		want = append(want, frame)
		require.True(t, box.Push([]byte(frame)))
	}

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.snapshot())
}

func TestMailboxUnsubscribe(t *testing.T) {
	box := NewMailbox()
	defer box.Close()

	first := &recorder{}
	second := &recorder{}
	cancel := box.Subscribe(first.handle)
	box.Subscribe(second.handle)

	cancel()
	cancel()
	box.Push([]byte("x"))

	assert.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.snapshot())
}

func TestMailboxClose(t *testing.T) {
	box := NewMailbox()
	rec := &recorder{}
	box.Subscribe(rec.handle)

	box.Close()
	box.Close()

	assert.False(t, box.Push([]byte("late")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{Channel: "c", Sender: "s", Payload: []byte(`{"type":"request"}`)}
	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env, got)

	_, err = DecodeEnvelope([]byte("garbage"))
	assert.Error(t, err)
}
