package node

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/store"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

type Options struct {
	Policy topology.Policy // defaults to full mesh
	Gossip gossip.Config
	Logger *zap.Logger

	// OnInit, if set, is called once the node knows who it is.
	OnInit func(id topology.Identity, neighbors []string)
}

// Node is one cluster member: the shared store, the protocol state machine
// and, after init, the gossiper. Handle must be called from a single
// goroutine; the store is the only state shared with the gossiper.
type Node struct {
	kv   *store.Store
	out  gossip.Transport
	opts Options
	log  *zap.Logger

	// written once by init, before ready is closed
	id    topology.Identity
	gsp   *gossip.Gossiper
	ready chan struct{}

	msgID atomic.Uint64
}

func New(out gossip.Transport, opts Options) *Node {
	if opts.Policy == nil {
		opts.Policy = topology.Mesh{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Node{
		kv:    store.New(),
		out:   out,
		opts:  opts,
		log:   opts.Logger.Named("node"),
		ready: make(chan struct{}),
	}
}

func (n *Node) Store() *store.Store {
	return n.kv
}

// Ready is closed once init has been handled.
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

func (n *Node) initialized() bool {
	select {
	case <-n.ready:
		return true
	default:
		return false
	}
}

// Identity returns the node's identity and whether init has happened.
func (n *Node) Identity() (topology.Identity, bool) {
	if !n.initialized() {
		return topology.Identity{}, false
	}
	return n.id, true
}

// Neighbors returns the fixed neighbor set, nil before init.
func (n *Node) Neighbors() []string {
	if !n.initialized() {
		return nil
	}
	return n.gsp.Neighbors()
}

// Gossiper returns the node's scheduler, nil before init.
func (n *Node) Gossiper() *gossip.Gossiper {
	if !n.initialized() {
		return nil
	}
	return n.gsp
}

func (n *Node) nextMsgID() uint64 {
	return n.msgID.Add(1)
}
