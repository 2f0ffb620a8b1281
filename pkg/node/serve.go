package node

import (
	"context"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrgossip/pkg/bus"
	"github.com/ryandielhenn/zephyrgossip/pkg/message"
)

const inboxDepth = 1024

// Serve runs a node over a line-delimited stream pair until r reaches EOF,
// ctx is cancelled, or the output fails. It starts four duties: the reader,
// the handler loop, the gossiper (once init arrives) and the writer.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	writer := bus.NewWriter(w, inboxDepth, opts.Logger.Named("bus"))
	n := New(writer, opts)
	return n.serve(ctx, r, writer)
}

func (n *Node) serve(ctx context.Context, r io.Reader, writer *bus.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	dctx, stop := context.WithCancel(gctx)
	defer stop()

	// The reader is not part of the group: a blocked read on a pipe cannot be
	// interrupted, and it must not hold up shutdown after a write failure.
	inbox := make(chan message.Envelope, inboxDepth)
	readErr := make(chan error, 1)
	go func() { readErr <- bus.Read(dctx, r, inbox, n.opts.Logger.Named("bus")) }()

	g.Go(func() error {
		defer stop()
		for {
			select {
			case env, ok := <-inbox:
				if !ok {
					return <-readErr
				}
				if err := n.Handle(dctx, env); err != nil {
					return err
				}
			case <-dctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		select {
		case <-n.Ready():
			return n.Gossiper().Run(dctx)
		case <-dctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		return writer.Run(dctx)
	})

	err := g.Wait()
	if err != nil {
		n.log.Error("node stopped", zap.Error(err))
	}
	return err
}
