package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// distributedLock wraps redlock-go for one tokenId, renewing itself in the
// background so a long-running cycle doesn't lose the lock mid-flight.
type distributedLock struct {
	lockManager *redlock.RedLock
	tokenID     string
	lockName    string
	ttl         time.Duration
	locked      bool
}

func newDistributedLock(lockManager *redlock.RedLock, tokenID string) *distributedLock {
	return &distributedLock{
		lockManager: lockManager,
		tokenID:     tokenID,
		lockName:    fmt.Sprintf("agentrunner:lock:%s", tokenID),
		ttl:         30 * time.Second,
	}
}

func (dl *distributedLock) TryAcquire(ctx context.Context) (bool, error) {
	expiry, err := dl.lockManager.Lock(ctx, dl.lockName, dl.ttl)
	if err != nil {
		logger.Debug("agent lock already held by another replica",
			zap.String("token_id", dl.tokenID),
			zap.String("lock_name", dl.lockName),
		)
		return false, nil
	}
	if expiry <= 0 {
		return false, fmt.Errorf("failed to acquire lock: invalid expiry %v", expiry)
	}

	dl.locked = true
	go dl.renew(ctx)
	return true, nil
}

func (dl *distributedLock) Release(ctx context.Context) error {
	if !dl.locked {
		return nil
	}
	if err := dl.lockManager.UnLock(ctx, dl.lockName); err != nil {
		logger.Warn("failed to release agent lock (may have already expired)",
			zap.String("token_id", dl.tokenID), zap.Error(err))
	}
	dl.locked = false
	return nil
}

// renew extends the lock at 2/3 of its TTL via release+reacquire, since
// redlock-go has no built-in renewal primitive.
func (dl *distributedLock) renew(ctx context.Context) {
	ticker := time.NewTicker((dl.ttl * 2) / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !dl.locked {
				return
			}
			_ = dl.lockManager.UnLock(ctx, dl.lockName)
			expiry, err := dl.lockManager.Lock(ctx, dl.lockName, dl.ttl)
			if err != nil || expiry <= 0 {
				logger.Error("agent lock lost during renewal; another replica may take over",
					zap.String("token_id", dl.tokenID), zap.Error(err))
				dl.locked = false
				return
			}
		}
	}
}

func (dl *distributedLock) CheckHeld(ctx context.Context) (bool, error) {
	return dl.locked, nil
}

func (dl *distributedLock) TokenID() string { return dl.tokenID }
