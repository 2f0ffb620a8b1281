// Package sim runs a cluster of nodes in one process over a lossy,
// partitionable in-memory network. Delivery is driven explicitly by the
// caller, so rounds are reproducible enough to assert convergence on.
package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/message"
	"github.com/ryandielhenn/zephyrgossip/pkg/node"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

const controller = "c0"

type Options struct {
	// Policy builds each node's topology policy from that node's random source.
	Policy func(src *topology.Source) topology.Policy
	Gossip gossip.Config
	Loss   float64 // probability a node-to-node envelope is dropped
	Seed   uint64
	Logger *zap.Logger
}

type Stats struct {
	Sent      int // node-to-node envelopes offered to the network
	Dropped   int
	Delivered int
}

type Network struct {
	mu      sync.Mutex
	ids     []string
	nodes   map[string]*node.Node
	queue   []message.Envelope
	replies map[string][]message.Envelope
	group   map[string]int // partition group per node; empty when healed
	loss    float64
	rand    *topology.Source
	stats   Stats
	clientN uint64
}

// New builds and initializes a cluster with the given node ids.
func New(ctx context.Context, ids []string, opts Options) (*Network, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	net := &Network{
		ids:     slices.Clone(ids),
		nodes:   make(map[string]*node.Node, len(ids)),
		replies: make(map[string][]message.Envelope),
		loss:    opts.Loss,
		rand:    topology.NewSource(opts.Seed),
	}

	for i, id := range ids {
		src := topology.NewSource(opts.Seed + uint64(i) + 1)
		cfg := opts.Gossip
		cfg.Rand = src

		var policy topology.Policy = topology.Mesh{}
		if opts.Policy != nil {
			policy = opts.Policy(src)
		}
		net.nodes[id] = node.New(net.transport(), node.Options{
			Policy: policy,
			Gossip: cfg,
			Logger: opts.Logger.With(zap.String("sim_node", id)),
		})
	}

	for i, id := range ids {
		net.Request(id, message.Init{MsgID: uint64(i + 1), NodeID: id, NodeIDs: ids})
	}
	if _, err := net.Deliver(ctx); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := net.nodes[id].Identity(); !ok {
			return nil, fmt.Errorf("sim: node %s did not initialize", id)
		}
	}
	return net, nil
}

func (net *Network) transport() gossip.Transport {
	return gossip.TransportFunc(func(_ context.Context, env message.Envelope) error {
		net.mu.Lock()
		defer net.mu.Unlock()

		if _, toNode := net.nodes[env.Dest]; toNode {
			if _, fromNode := net.nodes[env.Src]; fromNode {
				net.stats.Sent++
				if net.cut(env.Src, env.Dest) || (net.loss > 0 && net.rand.Float64() < net.loss) {
					net.stats.Dropped++
					return nil // lost on the wire; the sender cannot tell
				}
			}
		}
		net.queue = append(net.queue, env)
		return nil
	})
}

// cut must be called with mu held.
func (net *Network) cut(a, b string) bool {
	if len(net.group) == 0 {
		return false
	}
	return net.group[a] != net.group[b]
}

// Request queues a client request to dest. Client traffic is never dropped.
func (net *Network) Request(dest string, body message.Body) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.queue = append(net.queue, message.Envelope{Src: controller, Dest: dest, Body: body})
}

// Broadcast queues a client broadcast of v to dest.
func (net *Network) Broadcast(dest string, v uint64) {
	net.mu.Lock()
	net.clientN++
	id := net.clientN
	net.mu.Unlock()
	net.Request(dest, message.Broadcast{MsgID: id, Message: v})
}

// Deliver hands queued envelopes to their destinations, including any
// replies they produce, until the queue is empty.
func (net *Network) Deliver(ctx context.Context) (int, error) {
	delivered := 0
	for {
		net.mu.Lock()
		if len(net.queue) == 0 {
			net.mu.Unlock()
			return delivered, nil
		}
		env := net.queue[0]
		net.queue = net.queue[1:]
		n, ok := net.nodes[env.Dest]
		if !ok {
			net.replies[env.Dest] = append(net.replies[env.Dest], env)
		}
		net.stats.Delivered++
		net.mu.Unlock()

		delivered++
		if ok {
			if err := n.Handle(ctx, env); err != nil {
				return delivered, err
			}
		}
	}
}

// Round runs one gossip tick on every node, then delivers everything.
func (net *Network) Round(ctx context.Context) error {
	for _, id := range net.ids {
		net.nodes[id].Gossiper().Tick(ctx)
	}
	_, err := net.Deliver(ctx)
	return err
}

// RunUntilConverged runs rounds until every node holds want, up to limit
// rounds. It returns the number of rounds taken.
func (net *Network) RunUntilConverged(ctx context.Context, want []uint64, limit int) (int, bool, error) {
	for r := 1; r <= limit; r++ {
		if err := net.Round(ctx); err != nil {
			return r, false, err
		}
		if net.Holds(want) {
			return r, true, nil
		}
	}
	return limit, false, nil
}

// Holds reports whether every node's set equals want.
func (net *Network) Holds(want []uint64) bool {
	w := slices.Clone(want)
	slices.Sort(w)
	w = slices.Compact(w)
	for _, id := range net.ids {
		if !slices.Equal(net.nodes[id].Store().All(), w) {
			return false
		}
	}
	return true
}

// Partition splits the cluster; nodes in different groups cannot exchange
// envelopes. Nodes not listed share one remaining group.
func (net *Network) Partition(groups ...[]string) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.group = make(map[string]int)
	for i, g := range groups {
		for _, id := range g {
			net.group[id] = i + 1
		}
	}
}

func (net *Network) Heal() {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.group = nil
}

func (net *Network) Node(id string) *node.Node {
	return net.nodes[id]
}

// Replies returns and clears the envelopes delivered to a client id.
func (net *Network) Replies(client string) []message.Envelope {
	net.mu.Lock()
	defer net.mu.Unlock()
	out := net.replies[client]
	delete(net.replies, client)
	return out
}

func (net *Network) Stats() Stats {
	net.mu.Lock()
	defer net.mu.Unlock()
	return net.stats
}
