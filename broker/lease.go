package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a best-effort, cross-instance claim on a correlation_id. It exists
// so that two agent processes pointed at the same Central API and sharing a
// Redis instance don't both forward the same due job in the same tick; it is
// never consulted to decide correctness, only to reduce duplicate outbound
// calls. Storage's own state machine is the source of truth regardless of
// what Lease reports - a failed or unavailable Lease must never block
// forwarding.
type Lease interface {
	// TryAcquire attempts to claim correlationID for ttl. It returns true if
	// the caller holds the claim (either newly acquired or already held by
	// this process), false if another process holds it, or a non-nil error if
	// the lease backend could not be reached - callers should not treat a
	// connectivity error as a failed acquisition, but proceed with
	// local-only coordination.
	TryAcquire(ctx context.Context, correlationID string, ttl time.Duration) (bool, error)

	// Release drops the claim early, if held. Best-effort; errors are not
	// actionable and should only be logged.
	Release(ctx context.Context, correlationID string) error

	Close() error
}

// RedisLease implements Lease with a Redis SET NX/PX, mirroring the
// claim-with-deadline pattern in queue/redis's processing set.
type RedisLease struct {
	client *redis.Client
	prefix string
	owner  string
}

// NewRedisLease connects to redisURL and returns a Lease keyed under prefix.
// owner identifies this agent instance in the claimed value: a claim whose
// value equals owner counts as held by this lease, both for TryAcquire and
// Release, so each instance needs its own owner string.
func NewRedisLease(ctx context.Context, redisURL, prefix, owner string) (*RedisLease, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if prefix == "" {
		prefix = "bookagent:lease:"
	}
	return &RedisLease{client: client, prefix: prefix, owner: owner}, nil
}

func (l *RedisLease) key(correlationID string) string {
	return l.prefix + correlationID
}

func (l *RedisLease) TryAcquire(ctx context.Context, correlationID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(correlationID), l.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	held, err := l.client.Get(ctx, l.key(correlationID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return held == l.owner, nil
}

func (l *RedisLease) Release(ctx context.Context, correlationID string) error {
	held, err := l.client.Get(ctx, l.key(correlationID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if held != l.owner {
		return nil
	}
	return l.client.Del(ctx, l.key(correlationID)).Err()
}

func (l *RedisLease) Close() error {
	return l.client.Close()
}

// NoopLease is the zero-configuration Lease used when no Redis address is
// configured: every correlation_id is always acquirable, so single-instance
// deployments see no behavior change.
type NoopLease struct{}

func (NoopLease) TryAcquire(ctx context.Context, correlationID string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopLease) Release(ctx context.Context, correlationID string) error { return nil }

func (NoopLease) Close() error { return nil }
