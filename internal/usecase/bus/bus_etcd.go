package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/internal/entity"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig is the set of options for tracking membership through etcd.
type EtcdConfig struct {
	Endpoints []string // etcd client URLs
	Prefix    string   // Key prefix every member registers under
	Self      string   // Address this node registers itself with
	TTL       int64    // Lease TTL in seconds, the node "leaves" this long after dying
}

// Etcd derives membership events from lease backed registrations: every
// member keeps a key alive under the prefix, the key vanishing means the
// member left.
type Etcd struct {
	cli    *clientv3.Client
	lease  clientv3.LeaseID
	events chan *entity.ClusterEvent
	cancel context.CancelFunc
	logger log.Logger
}

// NewEtcd connects to etcd, registers the local node and starts watching
// the membership prefix.
func NewEtcd(config EtcdConfig, logger log.Logger) (*Etcd, error) {
	if logger == nil {
		logger = log.Root()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	b := &Etcd{
		cli:    cli,
		events: make(chan *entity.ClusterEvent, 64),
		cancel: cancel,
		logger: logger,
	}
	rev, err := b.register(ctx, config)
	if err != nil {
		cancel()
		cli.Close()
		return nil, err
	}
	watch := cli.Watch(ctx, config.Prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	go b.loop(ctx, config.Prefix, watch)

	logger.Info("Subscribed to cluster bus", "transport", "etcd", "prefix", config.Prefix, "self", config.Self, "revision", rev)
	return b, nil
}

// register announces the local node under a lease kept alive for as long as
// the process runs, returning the revision the watch should resume after.
func (b *Etcd) register(ctx context.Context, config EtcdConfig) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lease, err := b.cli.Grant(reqCtx, config.TTL)
	if err != nil {
		return 0, fmt.Errorf("grant lease: %w", err)
	}
	resp, err := b.cli.Put(reqCtx, config.Prefix+config.Self, config.Self, clientv3.WithLease(lease.ID))
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", config.Self, err)
	}
	alive, err := b.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range alive {
		}
		b.logger.Debug("Membership lease keepalive stopped", "lease", lease.ID)
	}()
	b.lease = lease.ID
	return resp.Header.Revision, nil
}

// loop owns the events channel and closes it when the watch ends, either
// through Close or because etcd cancelled it (compaction, fatal errors).
func (b *Etcd) loop(ctx context.Context, prefix string, watch clientv3.WatchChan) {
	defer close(b.events)

	for resp := range watch {
		if err := resp.Err(); err != nil {
			if resp.Canceled {
				b.logger.Error("Membership watch cancelled", "err", err)
				return
			}
			b.logger.Warn("Membership watch failed", "err", err)
			continue
		}
		for _, wev := range resp.Events {
			ev := WatchEventToEvent(prefix, wev)
			if ev == nil {
				continue
			}
			select {
			case b.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
	if ctx.Err() == nil {
		b.logger.Error("Membership watch ended")
	}
}

// Events returns the channel membership notifications are delivered on.
func (b *Etcd) Events() <-chan *entity.ClusterEvent {
	return b.events
}

// Close stops watching, withdraws the local registration and disconnects.
func (b *Etcd) Close() error {
	b.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := b.cli.Revoke(ctx, b.lease); err != nil {
		b.logger.Debug("Failed to revoke membership lease", "err", err)
	}
	return b.cli.Close()
}

// WatchEventToEvent converts a change under the membership prefix into a
// cluster event: deletions are departures, key creations are joins. Updates
// of an existing key carry no membership change and yield nil.
func WatchEventToEvent(prefix string, wev *clientv3.Event) *entity.ClusterEvent {
	if wev == nil || wev.Kv == nil {
		return nil
	}
	addr := strings.TrimPrefix(string(wev.Kv.Key), prefix)

	var action string
	switch {
	case wev.Type == mvccpb.DELETE:
		action = entity.ActionLeft
	case wev.IsCreate():
		action = entity.ActionJoined
	default:
		return nil
	}
	return &entity.ClusterEvent{
		Type:    entity.NodeStateChange,
		Action:  action,
		Address: addr,
		Args:    []interface{}{addr, wev.Kv.ModRevision, string(wev.Kv.Key), action},
	}
}
