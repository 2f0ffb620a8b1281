package gossip

import (
	"context"

	"github.com/ryandielhenn/zephyrgossip/pkg/message"
)

// Transport sends one envelope. Implementations: bus.Writer for stdio,
// sim.Network for in-process clusters.
type Transport interface {
	Send(ctx context.Context, env message.Envelope) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, env message.Envelope) error

// Send calls f(ctx, env).
func (f TransportFunc) Send(ctx context.Context, env message.Envelope) error { return f(ctx, env) }
