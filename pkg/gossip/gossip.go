package gossip

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/message"
	"github.com/ryandielhenn/zephyrgossip/pkg/store"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMinFanout   = 1
	DefaultMaxFanout   = 25
	DefaultSendTimeout = 250 * time.Millisecond
)

// Config tunes a Gossiper. Zero fields take the package defaults.
type Config struct {
	Interval time.Duration // delay between the end of one round and the start of the next

	// Fan-out per round is drawn uniformly from [MinFanout, MaxFanout],
	// bounded by the number of neighbors.
	MinFanout int
	MaxFanout int

	// Backoff holds a neighbor with outstanding values for up to this many
	// sampled rounds before sending. 0 sends every time.
	Backoff int

	// AckOnly leaves the ledger to gossip_ok acknowledgments instead of
	// marking values sent as soon as they are handed to the transport. A lost
	// gossip message is then retried on a later round.
	AckOnly bool

	SendTimeout time.Duration
	Rand        *topology.Source
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MinFanout <= 0 {
		c.MinFanout = DefaultMinFanout
	}
	if c.MaxFanout <= 0 {
		c.MaxFanout = DefaultMaxFanout
	}
	if c.MaxFanout < c.MinFanout {
		c.MaxFanout = c.MinFanout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Rand == nil {
		c.Rand = topology.NewSource(uint64(time.Now().UnixNano()))
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// TickReport summarizes one round.
type TickReport struct {
	Sampled   []string
	Sent      int // neighbors that were sent a gossip message
	Values    int // values carried across all sends
	Empty     int // neighbors with nothing outstanding
	Throttled int
	Failed    int
}

// Gossiper drives anti-entropy for one node.
type Gossiper struct {
	tick      sync.Mutex // rounds never overlap
	self      string
	neighbors []string
	store     *store.Store
	out       Transport
	cfg       Config
	log       *zap.Logger
}

// New returns a gossiper for self over a fixed neighbor set. It does not
// start until Run or Tick is called.
func New(self string, neighbors []string, st *store.Store, out Transport, cfg Config) *Gossiper {
	cfg = cfg.withDefaults()
	return &Gossiper{
		self:      self,
		neighbors: slices.Clone(neighbors),
		store:     st,
		out:       out,
		cfg:       cfg,
		log:       cfg.Logger.Named("gossip").With(zap.String("node", self)),
	}
}

// Run gossips until ctx is done. The next round is scheduled only after the
// previous one has finished, so a slow round delays rather than stacks.
func (g *Gossiper) Run(ctx context.Context) error {
	g.log.Info("gossip started",
		zap.Int("neighbors", len(g.neighbors)),
		zap.Duration("interval", g.cfg.Interval),
		zap.Int("min_fanout", g.cfg.MinFanout),
		zap.Int("max_fanout", g.cfg.MaxFanout),
		zap.Int("backoff", g.cfg.Backoff),
		zap.Bool("ack_only", g.cfg.AckOnly),
	)
	timer := time.NewTimer(g.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logBacklog()
			return nil
		case <-timer.C:
			g.Tick(ctx)
			timer.Reset(g.cfg.Interval)
		}
	}
}

// Tick runs one gossip round and waits for every per-neighbor send.
func (g *Gossiper) Tick(ctx context.Context) TickReport {
	g.tick.Lock()
	defer g.tick.Unlock()

	start := time.Now()
	defer func() { telemetry.TickDuration.Observe(time.Since(start).Seconds()) }()

	sampled := g.Sample()
	report := TickReport{Sampled: sampled}
	if len(sampled) == 0 {
		return report
	}

	type outcome struct {
		result string
		values int
	}
	results := make([]outcome, len(sampled))

	var wg sync.WaitGroup
	wg.Add(len(sampled))
	for i, peer := range sampled {
		go func() {
			defer wg.Done()
			res, n := g.gossipTo(ctx, peer)
			results[i] = outcome{result: res, values: n}
		}()
	}
	wg.Wait()

	for _, r := range results {
		telemetry.GossipSends.WithLabelValues(r.result).Inc()
		switch r.result {
		case telemetry.ResultSent:
			report.Sent++
			report.Values += r.values
		case telemetry.ResultEmpty:
			report.Empty++
		case telemetry.ResultThrottled:
			report.Throttled++
		case telemetry.ResultFailed:
			report.Failed++
		}
	}
	return report
}

// Sample draws this round's fan-out and picks that many distinct neighbors.
func (g *Gossiper) Sample() []string {
	n := len(g.neighbors)
	if n == 0 {
		return []string{}
	}
	lo := min(g.cfg.MinFanout, n)
	hi := min(g.cfg.MaxFanout, n)
	k := lo + g.cfg.Rand.IntN(hi-lo+1)
	return g.cfg.Rand.Sample(g.neighbors, k)
}

// Neighbors returns a copy of the fixed neighbor set.
func (g *Gossiper) Neighbors() []string {
	return slices.Clone(g.neighbors)
}

// logBacklog reports, per peer with a ledger, how many values it has not
// been shown yet.
func (g *Gossiper) logBacklog() {
	peers := g.store.Peers()
	behind := make([]zap.Field, 0, len(peers))
	for _, p := range peers {
		if n := len(g.store.Outstanding(p)); n > 0 {
			behind = append(behind, zap.Int(p, n))
		}
	}
	g.log.Info("gossip stopped",
		zap.Int("values", g.store.Len()),
		zap.Int("peers", len(peers)),
		zap.Dict("outstanding", behind...),
	)
}

func (g *Gossiper) gossipTo(ctx context.Context, peer string) (string, int) {
	values := g.store.Outstanding(peer)
	if len(values) == 0 {
		return telemetry.ResultEmpty, 0
	}
	if g.store.Throttle(peer, g.cfg.Backoff) {
		return telemetry.ResultThrottled, 0
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
	defer cancel()

	env := message.Envelope{Src: g.self, Dest: peer, Body: message.Gossip{Messages: values}}
	if err := g.out.Send(sendCtx, env); err != nil {
		// ledger untouched: the same values are offered again next round
		g.log.Warn("gossip send failed", zap.String("peer", peer), zap.Int("values", len(values)), zap.Error(err))
		return telemetry.ResultFailed, 0
	}
	if !g.cfg.AckOnly {
		g.store.MarkSent(peer, values)
	}
	telemetry.GossipValuesSent.Add(float64(len(values)))
	g.log.Debug("gossiped", zap.String("peer", peer), zap.Int("values", len(values)))
	return telemetry.ResultSent, len(values)
}
