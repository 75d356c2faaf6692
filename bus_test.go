package chanstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseReplicas runs the basic two-replica scenario over any bus pair.
func exerciseReplicas(t *testing.T, busA, busB Bus) {
	t.Helper()
	ctx := context.Background()

	a := newReplica(t, busA, WithResponseTimeout(200*time.Millisecond))
	require.NoError(t, a.Set(ctx, "boot", "strap"))

	b := newReplica(t, busB, WithResponseTimeout(time.Second))
	value, ok, err := b.Get(ctx, "boot")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "strap", value)

	events := &eventLog{}
	require.NoError(t, b.AddListener(events))
	require.NoError(t, a.Set(ctx, "test", "testvalue"))

	assert.Eventually(t, func() bool { return len(events.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := events.all()[0]
	assert.Equal(t, "test", got.Key)
	assert.Nil(t, got.OldValue)
	assert.Equal(t, ptr("testvalue"), got.NewValue)
}

func TestRedisBusReplicas(t *testing.T) {
	srv := miniredis.RunT(t)
	newClient := func() redis.UniversalClient {
		client := redis.NewClient(&redis.Options{Addr: srv.Addr(), Protocol: 2})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	busA, err := NewRedisBus(newClient(), WithRedisPrefix("test:"))
	require.NoError(t, err)
	busB, err := NewRedisBus(newClient(), WithRedisPrefix("test:"))
	require.NoError(t, err)

	exerciseReplicas(t, busA, busB)
}

func TestNewRedisBusValidatesInput(t *testing.T) {
	_, err := NewRedisBus(nil)
	assert.Error(t, err)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), Protocol: 2})
	defer client.Close()
	_, err = NewRedisBus(client, WithRedisPrefix(""))
	assert.Error(t, err)
}

func TestUDPBusReplicas(t *testing.T) {
	busA, err := NewUDPBus(WithNodeID("node-a"), WithBindAddr("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = busA.Close() })

	busB, err := NewUDPBus(
		WithNodeID("node-b"),
		WithBindAddr("127.0.0.1:0"),
		WithSeeds([]string{busA.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = busB.Close() })

	busA.AddPeers([]string{busB.Addr()})
	assert.Equal(t, []string{busA.Addr()}, busB.Peers())

	exerciseReplicas(t, busA, busB)
}

func TestUDPBusSharedByReplicasInOneProcess(t *testing.T) {
	bus, err := NewUDPBus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	exerciseReplicas(t, bus, bus)
}

func TestNewUDPBusValidatesOptions(t *testing.T) {
	_, err := NewUDPBus(WithBindAddr("no-port"))
	assert.Error(t, err)

	_, err = NewUDPBus(WithSeeds([]string{"bad"}))
	assert.Error(t, err)

	_, err = NewUDPBus(WithNodeID(""))
	assert.Error(t, err)
}

func TestUDPBusCloseClosesChannels(t *testing.T) {
	bus, err := NewUDPBus()
	require.NoError(t, err)

	channel, err := bus.Open(context.Background(), "chan")
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, channel.Post(context.Background(), []byte("x")), ErrBusClosed)
	_, err = bus.Open(context.Background(), "chan")
	assert.ErrorIs(t, err, ErrBusClosed)
}
