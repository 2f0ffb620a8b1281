// Package discovery announces running nodes in etcd. It is optional and
// purely informational: the cluster roster always comes from init.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const Prefix = "/zephyrgossip/nodes/"

// Announcement is the value stored under a node's key.
type Announcement struct {
	ID        string    `json:"id"`
	Neighbors []string  `json:"neighbors"`
	Topology  string    `json:"topology"`
	Started   time.Time `json:"started"`
}

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func nodeKey(id string) string {
	return Prefix + id
}

func encodeAnnouncement(a Announcement) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RegisterNode writes the announcement under a lease of ttl and keeps the
// lease alive until the returned cancel func is called.
func RegisterNode(ctx context.Context, cli *clientv3.Client, a Announcement, ttl time.Duration, log *zap.Logger) (clientv3.LeaseID, context.CancelFunc, error) {
	val, err := encodeAnnouncement(a)
	if err != nil {
		return 0, nil, fmt.Errorf("encode announcement: %w", err)
	}

	lease, err := cli.Grant(ctx, int64(ttl/time.Second))
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err = cli.Put(ctx, nodeKey(a.ID), val, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", nodeKey(a.ID), err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
			// drain
		}
		log.Debug("lease keepalive stopped", zap.Int64("lease", int64(lease.ID)))
	}()

	return lease.ID, cancel, nil
}

// Deregister revokes the lease, removing the node's key.
func Deregister(cli *clientv3.Client, id clientv3.LeaseID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Revoke(ctx, id)
	return err
}

// Peers lists the announcements currently registered.
func Peers(ctx context.Context, cli *clientv3.Client) (map[string]Announcement, error) {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]Announcement, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var a Announcement
		if err := json.Unmarshal(kv.Value, &a); err != nil {
			continue
		}
		out[a.ID] = a
	}
	return out, nil
}
