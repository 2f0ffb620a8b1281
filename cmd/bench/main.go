package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrgossip/internal/sim"
	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

func main() {
	nodes := flag.Int("nodes", 25, "cluster size")
	values := flag.Int("values", 100, "values to broadcast")
	rounds := flag.Int("rounds", 500, "give up after this many gossip rounds")
	loss := flag.Float64("loss", 0, "probability a node-to-node message is dropped")
	seed := flag.Uint64("seed", 1, "random seed")
	topo := flag.String("topology", "mesh", "mesh | ring | random")
	size := flag.Int("size", 0, "ring extra links or random subset size (0 = default)")
	minFanout := flag.Int("min-fanout", gossip.DefaultMinFanout, "minimum neighbors per round")
	maxFanout := flag.Int("max-fanout", gossip.DefaultMaxFanout, "maximum neighbors per round")
	ackOnly := flag.Bool("ack-only", false, "advance ledgers only on gossip_ok")
	flag.Parse()

	if *nodes < 1 || *values < 1 {
		fmt.Fprintln(os.Stderr, "bench: -nodes and -values must be positive")
		os.Exit(2)
	}
	if *size == 0 {
		*size = 2
		if *topo == "random" {
			*size = 9
		}
	}
	if _, err := topology.NewPolicy(*topo, *size, topology.NewSource(*seed)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ids := make([]string, *nodes)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}

	ctx := context.Background()
	net, err := sim.New(ctx, ids, sim.Options{
		Policy: func(src *topology.Source) topology.Policy {
			p, _ := topology.NewPolicy(*topo, *size, src)
			return p
		},
		Gossip: gossip.Config{MinFanout: *minFanout, MaxFanout: *maxFanout, AckOnly: *ackOnly},
		Loss:   *loss,
		Seed:   *seed,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	base := net.Stats()

	want := make([]uint64, *values)
	for i := range want {
		want[i] = uint64(i)
		net.Broadcast(ids[i%len(ids)], uint64(i))
	}

	start := time.Now()
	if _, err := net.Deliver(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	n, ok, err := net.RunUntilConverged(ctx, want, *rounds)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dur := time.Since(start)
	st := net.Stats()
	sent := st.Sent - base.Sent

	status := "converged"
	if !ok {
		status = "did not converge"
	}
	fmt.Printf("%s: %d nodes, %d values, topology=%s loss=%.2f ack-only=%v\n",
		status, *nodes, *values, *topo, *loss, *ackOnly)
	fmt.Printf("rounds: %d\n", n)
	fmt.Printf("node messages: %d sent, %d dropped (%.2f msgs/op)\n",
		sent, st.Dropped-base.Dropped, float64(sent)/float64(*values))
	fmt.Printf("wall time: %s\n", dur)
	if !ok {
		os.Exit(1)
	}
}
