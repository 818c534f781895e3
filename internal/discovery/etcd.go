package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultTTL is the lease lifetime of a registration, in seconds. A node that
// dies without deregistering disappears from the cluster after this long.
const DefaultTTL = 10

var _ Registry = (*EtcdRegistry)(nil)

// NewClient connects to an etcd cluster.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// EtcdRegistry stores members under /lamportlab/<cluster>/nodes/<id>, each
// key bound to the registering process's lease.
type EtcdRegistry struct {
	cli     *clientv3.Client
	cluster string
	ttl     int64
	logger  *slog.Logger

	mu    sync.Mutex
	lease clientv3.LeaseID
	stop  context.CancelFunc
}

// NewEtcdRegistry creates a registry for one cluster name.
func NewEtcdRegistry(cli *clientv3.Client, cluster string, ttl int64) *EtcdRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EtcdRegistry{
		cli:     cli,
		cluster: cluster,
		ttl:     ttl,
		logger:  slog.Default().With("component", "discovery", "cluster", cluster),
	}
}

func (r *EtcdRegistry) prefix() string {
	return fmt.Sprintf("/lamportlab/%s/nodes/", r.cluster)
}

// Key returns the etcd key a member is stored under.
func (r *EtcdRegistry) Key(id int) string {
	return r.prefix() + strconv.Itoa(id)
}

// Register publishes m under a fresh lease and keeps the lease alive until
// Close.
func (r *EtcdRegistry) Register(ctx context.Context, m Member) error {
	lease, err := r.cli.Grant(ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	if _, err := r.cli.Put(ctx, r.Key(m.ID), m.Addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put member %d: %w", m.ID, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keep alive: %w", err)
	}
	go func() {
		// Drain responses; the client logs a warning when the channel fills.
		for range ch {
		}
		r.logger.Debug("lease keepalive ended", "member", m.ID)
	}()

	r.mu.Lock()
	r.lease = lease.ID
	r.stop = cancel
	r.mu.Unlock()

	r.logger.Info("registered", "member", m.ID, "addr", m.Addr, "ttl", r.ttl)
	return nil
}

// Members lists every registered member of the cluster.
func (r *EtcdRegistry) Members(ctx context.Context) ([]Member, error) {
	resp, err := r.cli.Get(ctx, r.prefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	members := make([]Member, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := strconv.Atoi(strings.TrimPrefix(string(kv.Key), r.prefix()))
		if err != nil {
			r.logger.Warn("ignoring foreign key", "key", string(kv.Key))
			continue
		}
		members = append(members, Member{ID: id, Addr: string(kv.Value)})
	}
	return members, nil
}

// Close stops the keepalive and revokes the lease, removing the member.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	lease, stop := r.lease, r.stop
	r.lease, r.stop = 0, nil
	r.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := r.cli.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}
