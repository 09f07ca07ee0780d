package analytics

import (
	"context"
	"time"
)

// SnapshotCache stores serialized report snapshots. Keys embed the mirror
// version, so stale entries simply age out and never need invalidation.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// NoopCache disables snapshot caching. Every report is recomputed.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
