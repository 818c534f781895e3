// Package discovery lets nodes find each other through a shared registry
// instead of a fixed base port. Each node registers its listening address
// under its id; once the expected number of members is present every node
// derives the same peer order (ascending id, self excluded).
package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Member is one registered node.
type Member struct {
	ID   int
	Addr string
}

// Registry is a cluster membership store.
type Registry interface {
	Register(ctx context.Context, m Member) error
	Members(ctx context.Context) ([]Member, error)
	Close() error
}

// PeerAddrs returns the addresses of every member except self, ordered by id.
// The position in the result is the peer index used for targeted sends.
func PeerAddrs(members []Member, self int) []string {
	sorted := append([]Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	addrs := make([]string, 0, len(sorted))
	for _, m := range sorted {
		if m.ID == self {
			continue
		}
		addrs = append(addrs, m.Addr)
	}
	return addrs
}

// Resolve polls r until at least expected members are registered, then
// returns the peer list for self.
func Resolve(ctx context.Context, r Registry, self, expected int, poll time.Duration) ([]string, error) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		members, err := r.Members(ctx)
		if err != nil {
			return nil, err
		}
		if len(members) >= expected {
			return PeerAddrs(members, self), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %d members (have %d): %w", expected, len(members), ctx.Err())
		case <-ticker.C:
		}
	}
}
