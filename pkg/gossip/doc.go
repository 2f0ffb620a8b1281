// Package gossip implements the anti-entropy scheduler for zephyrgossip.
// Each round it samples a random subset of neighbors and sends every one of
// them the values its ledger says that neighbor has not seen. Repeated rounds
// drive the marginal traffic to zero once all replicas hold the same set.
//
// Typical usage:
//
//	g := gossip.New("n1", neighbors, st, transport, gossip.Config{Interval: 500 * time.Millisecond})
//	go g.Run(ctx)
//
// The Transport is anything that can put an envelope on the bus: the node's
// line writer in production, an in-process network in tests.
package gossip
