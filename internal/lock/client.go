// Package lock provides the distributed half of per-agent singleflight
// (§4.1, §9): when more than one scheduler replica runs against the same
// database, the in-process mutex map is backed by a Redis-based Redlock so
// two replicas never run the same tokenId's cycle concurrently.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// Client wraps a Redlock manager used to build per-tokenId locks.
type Client struct {
	lockManager *redlock.RedLock
	redisAddrs  []string
}

// New creates a Redlock-backed client against a single Redis instance.
// It takes one host and port only; a multi-node Redlock quorum cannot be
// configured through New.
func New(host string, port int) (*Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", host, port)
	redisAddrs := []string{addr}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lockManager, err := redlock.NewRedLock(ctx, redisAddrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create redlock manager: %w", err)
	}

	logger.Info("redlock manager initialized", zap.Strings("addresses", redisAddrs))

	return &Client{lockManager: lockManager, redisAddrs: redisAddrs}, nil
}

func (c *Client) Close() error {
	logger.Info("closing redlock connections")
	return nil
}

// Health acquires and releases a throwaway lock to verify Redis reachability.
func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const testLock = "health:check"
	expiry, err := c.lockManager.Lock(ctx, testLock, time.Second)
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if expiry <= 0 {
		return fmt.Errorf("redis health check failed: invalid expiry")
	}
	_ = c.lockManager.UnLock(ctx, testLock)
	return nil
}
