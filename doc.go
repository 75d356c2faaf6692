// Package chanstore provides an embedded, eventually-consistent key-value
// store whose replicas synchronize over a named broadcast channel.
//
// # Overview
//
// Each Store is one replica holding an in-memory copy of the data. Replicas
// never read each other's memory; they only exchange fire-and-forget
// messages over a Bus. A replica applies its own writes locally and then
// broadcasts them, and applies writes broadcast by peers.
//
// # Bootstrap
//
// A new replica posts a request and waits up to the response timeout
// (default 50ms) for a peer to answer with a snapshot of its state. By
// default the first snapshot wins. WithBootstrapPolicy(MergeSnapshots)
// waits the full timeout and merges every snapshot instead. When nobody
// answers the replica starts empty. Operations block until bootstrap is
// done.
//
// # Notifications
//
// Listeners registered with AddListener or OnChange receive a ChangeEvent
// for every change made by a peer that altered the local value. Changes
// made through the Store itself are not reported, and neither are
// messages that would not change anything.
//
// # Transports
//
// NewMemoryBus connects replicas in one process. NewRedisBus carries
// channels over Redis pub/sub. NewUDPBus sends datagrams to static seeds
// and, optionally, peers found via mDNS. Any type implementing Bus can be
// used instead.
//
// Example
//
//	bus := chanstore.NewMemoryBus()
//	a, err := chanstore.New(ctx, bus, chanstore.WithChannelName("settings"))
//	if err != nil {
//		// handle error
//	}
//	defer a.Destroy()
//	b, _ := chanstore.New(ctx, bus, chanstore.WithChannelName("settings"))
//	defer b.Destroy()
//
//	cancel, _ := b.OnChange(func(e chanstore.ChangeEvent) {
//		fmt.Println("changed:", e.Key)
//	})
//	defer cancel()
//
//	_ = a.Set(ctx, "theme", "dark")
package chanstore
