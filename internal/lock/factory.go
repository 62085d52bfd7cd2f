package lock

import "context"

// AgentLock is a distributed exclusive lock for one tokenId, held for the
// duration of a single cognitive cycle. Implementations must be safe to
// Release from a deferred call on every exit path, including panics.
type AgentLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	CheckHeld(ctx context.Context) (bool, error)
	TokenID() string
}

// Factory creates an AgentLock for a given tokenId string.
type Factory interface {
	CreateAgentLock(tokenID string) AgentLock
}

// RedisFactory creates Redlock-backed locks. Used when more than one
// scheduler replica may run against the same fleet.
type RedisFactory struct {
	client *Client
}

func NewRedisFactory(client *Client) *RedisFactory {
	return &RedisFactory{client: client}
}

func (f *RedisFactory) CreateAgentLock(tokenID string) AgentLock {
	return newDistributedLock(f.client.lockManager, tokenID)
}

// NoopFactory is used for single-replica deployments: every lock always
// succeeds, leaving the in-process singleflight map as the sole guard.
type NoopFactory struct{}

func NewNoopFactory() *NoopFactory { return &NoopFactory{} }

func (f *NoopFactory) CreateAgentLock(tokenID string) AgentLock {
	return &noopLock{tokenID: tokenID}
}

type noopLock struct{ tokenID string }

func (l *noopLock) TryAcquire(ctx context.Context) (bool, error) { return true, nil }
func (l *noopLock) Release(ctx context.Context) error            { return nil }
func (l *noopLock) CheckHeld(ctx context.Context) (bool, error)  { return true, nil }
func (l *noopLock) TokenID() string                              { return l.tokenID }
