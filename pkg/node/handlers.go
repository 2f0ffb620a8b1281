package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/message"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

// Handle applies one inbound envelope and sends its reply, if any. The only
// error it returns is a failed reply send, which means the bus is gone.
func (n *Node) Handle(ctx context.Context, env message.Envelope) error {
	kind := "unknown"
	if _, ok := env.Body.(message.Unknown); !ok && env.Body != nil {
		kind = string(env.Body.Kind())
	}
	defer telemetry.ObserveHandle(kind, time.Now())

	if e, ok := env.Body.(message.Error); ok {
		n.log.Warn("peer reported error",
			zap.String("from", env.Src),
			zap.Uint64("in_reply_to", e.InReplyTo),
			zap.Uint64("code", e.Code),
			zap.String("text", e.Text),
		)
		return nil
	}

	if !n.initialized() {
		if b, ok := env.Body.(message.Init); ok {
			return n.init(ctx, env.Src, b)
		}
		n.log.Debug("ignoring message before init", zap.String("from", env.Src), zap.String("type", kind))
		return nil
	}

	switch b := env.Body.(type) {
	case message.Broadcast:
		if n.kv.AddLocal(b.Message) {
			telemetry.StoreValues.Set(float64(n.kv.Len()))
		}
		return n.reply(ctx, env.Src, message.BroadcastOk{MsgID: n.nextMsgID(), InReplyTo: b.MsgID})

	case message.Gossip:
		if added := n.kv.AddFromPeer(env.Src, b.Messages); added > 0 {
			telemetry.StoreValues.Set(float64(n.kv.Len()))
			n.log.Debug("merged gossip", zap.String("from", env.Src), zap.Int("new", added))
		}
		return n.reply(ctx, env.Src, message.GossipOk{Messages: nonNil(b.Messages)})

	case message.GossipOk:
		n.kv.MarkSent(env.Src, b.Messages)
		return nil

	case message.Read:
		return n.reply(ctx, env.Src, message.ReadOk{MsgID: n.nextMsgID(), InReplyTo: b.MsgID, Messages: n.kv.All()})

	case message.Topology:
		// the neighbor set is fixed at init; the suggested topology is ignored
		return n.reply(ctx, env.Src, message.TopologyOk{MsgID: n.nextMsgID(), InReplyTo: b.MsgID})

	case message.Echo:
		return n.reply(ctx, env.Src, message.EchoOk{MsgID: n.nextMsgID(), InReplyTo: b.MsgID, Echo: b.Echo})

	case message.Init:
		n.log.Warn("ignoring repeated init", zap.String("from", env.Src), zap.String("node_id", b.NodeID))
		return nil

	default:
		n.log.Debug("ignoring message", zap.String("from", env.Src), zap.String("type", kind))
		return nil
	}
}

func (n *Node) init(ctx context.Context, from string, b message.Init) error {
	id, neighbors, err := topology.Initialize(b.NodeID, b.NodeIDs, n.opts.Policy)
	if err != nil {
		// no identity, so no way to reply as ourselves; stay uninitialized
		n.log.Error("init rejected", zap.String("from", from), zap.Error(err))
		return nil
	}

	n.id = id
	n.log = n.log.With(zap.String("node", id.ID))

	cfg := n.opts.Gossip
	if cfg.Logger == nil {
		cfg.Logger = n.opts.Logger
	}
	n.gsp = gossip.New(id.ID, neighbors, n.kv, n.out, cfg)
	close(n.ready)

	n.log.Info("initialized",
		zap.Strings("roster", id.Roster),
		zap.Strings("neighbors", neighbors),
		zap.String("topology", n.opts.Policy.Name()),
	)
	if n.opts.OnInit != nil {
		n.opts.OnInit(id, neighbors)
	}
	return n.reply(ctx, from, message.InitOk{InReplyTo: b.MsgID})
}

func (n *Node) reply(ctx context.Context, dest string, body message.Body) error {
	env := message.Envelope{Src: n.id.ID, Dest: dest, Body: body}
	if err := n.out.Send(ctx, env); err != nil {
		return fmt.Errorf("send %s to %s: %w", body.Kind(), dest, err)
	}
	return nil
}

func nonNil(v []uint64) []uint64 {
	if v == nil {
		return []uint64{}
	}
	return v
}
