package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/zephyrgossip/discovery"
	"github.com/ryandielhenn/zephyrgossip/internal/config"
	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
	"github.com/ryandielhenn/zephyrgossip/pkg/node"
	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zephyrgossip:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries protocol traffic only; logs go to stderr.
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := zc.Build()
	if err != nil {
		return err
	}
	defer log.Sync()

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := topology.NewSource(seed)
	policy, err := topology.NewPolicy(cfg.Topology, cfg.TopologySize, src)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry.SetBuildInfo(version, gitSHA)
	if cfg.MetricsAddr != "" {
		srv := telemetry.Serve(cfg.MetricsAddr, log.Named("telemetry"))
		log.Info("metrics endpoint", zap.String("addr", cfg.MetricsAddr))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	opts := node.Options{
		Policy: policy,
		Gossip: gossip.Config{
			Interval:    cfg.GossipInterval,
			MinFanout:   cfg.GossipMinFanout,
			MaxFanout:   cfg.GossipMaxFanout,
			Backoff:     cfg.GossipBackoff,
			AckOnly:     cfg.GossipAckOnly,
			SendTimeout: cfg.GossipSendTimeout,
			Rand:        src,
		},
		Logger: log,
	}

	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()

		reg := &registration{cli: cli, ttl: cfg.EtcdLeaseTTL, topology: policy.Name(), log: log.Named("discovery")}
		defer reg.close()
		opts.OnInit = func(id topology.Identity, neighbors []string) {
			go reg.announce(ctx, id.ID, neighbors)
		}
	}

	log.Info("starting",
		zap.String("version", version),
		zap.String("topology", policy.Name()),
		zap.Duration("interval", cfg.GossipInterval),
		zap.Int("min_fanout", cfg.GossipMinFanout),
		zap.Int("max_fanout", cfg.GossipMaxFanout),
		zap.Bool("ack_only", cfg.GossipAckOnly),
		zap.Uint64("seed", seed),
	)
	return node.Serve(ctx, os.Stdin, os.Stdout, opts)
}

// registration announces the node in etcd after init and revokes the lease
// on shutdown. Failures only cost visibility, so they are logged and dropped.
type registration struct {
	cli      *clientv3.Client
	ttl      time.Duration
	topology string
	log      *zap.Logger

	mu     sync.Mutex
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

func (r *registration) announce(ctx context.Context, id string, neighbors []string) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lease, keepCancel, err := discovery.RegisterNode(rctx, r.cli, discovery.Announcement{
		ID:        id,
		Neighbors: neighbors,
		Topology:  r.topology,
		Started:   time.Now().UTC(),
	}, r.ttl, r.log)
	if err != nil {
		r.log.Warn("etcd registration failed", zap.String("node", id), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.lease, r.cancel = lease, keepCancel
	r.mu.Unlock()

	if peers, err := discovery.Peers(rctx, r.cli); err == nil {
		r.log.Info("registered", zap.String("node", id), zap.Int("announced_nodes", len(peers)))
	}
}

func (r *registration) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	if err := discovery.Deregister(r.cli, r.lease); err != nil {
		r.log.Warn("etcd deregister failed", zap.Error(err))
	}
}
