package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
)

const defaultMetricsPort = "9090"

// Config holds the node's tunables. Everything has a default; the harness
// needs no environment at all.
type Config struct {
	Topology     string // mesh | ring | random
	TopologySize int    // ring: extra random links; random: subset size

	GossipInterval    time.Duration
	GossipMinFanout   int
	GossipMaxFanout   int
	GossipBackoff     int
	GossipAckOnly     bool
	GossipSendTimeout time.Duration

	Seed     uint64 // 0 seeds from the clock
	LogLevel zapcore.Level

	MetricsAddr   string // empty disables the metrics endpoint
	EtcdEndpoints []string
	EtcdLeaseTTL  time.Duration
}

func Default() Config {
	return Config{
		Topology:          "mesh",
		GossipInterval:    gossip.DefaultInterval,
		GossipMinFanout:   gossip.DefaultMinFanout,
		GossipMaxFanout:   gossip.DefaultMaxFanout,
		GossipSendTimeout: gossip.DefaultSendTimeout,
		LogLevel:          zapcore.InfoLevel,
		EtcdLeaseTTL:      10 * time.Second,
	}
}

// DefaultTopologySize is used when TOPOLOGY_SIZE is unset.
func DefaultTopologySize(policy string) int {
	if policy == "random" {
		return 9
	}
	return 2
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	c := Default()
	var err error

	if v := getenv("TOPOLOGY"); v != "" {
		c.Topology = strings.ToLower(strings.TrimSpace(v))
	}
	c.TopologySize = DefaultTopologySize(c.Topology)
	if c.TopologySize, err = intVar(getenv, "TOPOLOGY_SIZE", c.TopologySize); err != nil {
		return c, err
	}
	if c.GossipInterval, err = durationVar(getenv, "GOSSIP_INTERVAL", c.GossipInterval); err != nil {
		return c, err
	}
	if c.GossipMinFanout, err = intVar(getenv, "GOSSIP_MIN_FANOUT", c.GossipMinFanout); err != nil {
		return c, err
	}
	if c.GossipMaxFanout, err = intVar(getenv, "GOSSIP_MAX_FANOUT", c.GossipMaxFanout); err != nil {
		return c, err
	}
	if c.GossipBackoff, err = intVar(getenv, "GOSSIP_BACKOFF", c.GossipBackoff); err != nil {
		return c, err
	}
	if v := getenv("GOSSIP_ACK_ONLY"); v != "" {
		if c.GossipAckOnly, err = strconv.ParseBool(v); err != nil {
			return c, fmt.Errorf("GOSSIP_ACK_ONLY: %w", err)
		}
	}
	if c.GossipSendTimeout, err = durationVar(getenv, "GOSSIP_SEND_TIMEOUT", c.GossipSendTimeout); err != nil {
		return c, err
	}
	if v := getenv("RAND_SEED"); v != "" {
		if c.Seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return c, fmt.Errorf("RAND_SEED: %w", err)
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		if c.LogLevel, err = zapcore.ParseLevel(v); err != nil {
			return c, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = NormalizeHostPort(v, defaultMetricsPort)
	}
	if v := getenv("ETCD_ENDPOINTS"); v != "" {
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.EtcdEndpoints = append(c.EtcdEndpoints, ep)
			}
		}
	}
	if c.EtcdLeaseTTL, err = durationVar(getenv, "ETCD_LEASE_TTL", c.EtcdLeaseTTL); err != nil {
		return c, err
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Topology {
	case "mesh", "ring", "random":
	default:
		return fmt.Errorf("TOPOLOGY: unknown policy %q (want mesh, ring or random)", c.Topology)
	}
	if c.TopologySize < 0 {
		return fmt.Errorf("TOPOLOGY_SIZE must not be negative, got %d", c.TopologySize)
	}
	if c.GossipInterval <= 0 {
		return fmt.Errorf("GOSSIP_INTERVAL must be positive, got %s", c.GossipInterval)
	}
	if c.GossipMinFanout < 1 {
		return fmt.Errorf("GOSSIP_MIN_FANOUT must be at least 1, got %d", c.GossipMinFanout)
	}
	if c.GossipMaxFanout < c.GossipMinFanout {
		return fmt.Errorf("GOSSIP_MAX_FANOUT (%d) is below GOSSIP_MIN_FANOUT (%d)", c.GossipMaxFanout, c.GossipMinFanout)
	}
	if c.GossipBackoff < 0 {
		return fmt.Errorf("GOSSIP_BACKOFF must not be negative, got %d", c.GossipBackoff)
	}
	if c.GossipSendTimeout <= 0 {
		return fmt.Errorf("GOSSIP_SEND_TIMEOUT must be positive, got %s", c.GossipSendTimeout)
	}
	if len(c.EtcdEndpoints) > 0 && c.EtcdLeaseTTL < time.Second {
		return fmt.Errorf("ETCD_LEASE_TTL must be at least 1s, got %s", c.EtcdLeaseTTL)
	}
	return nil
}

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port. A bare port number becomes ":port".
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if _, err := strconv.Atoi(addr); err == nil {
		return ":" + addr
	}
	return addr + ":" + defPort
}

func intVar(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// durationVar accepts Go durations ("500ms") or a bare number of milliseconds.
func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
