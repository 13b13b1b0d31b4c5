package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/shared"
)

// RedisConfig holds the lock lease settings
type RedisConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
	RetryTimeout  time.Duration
}

// DefaultRedisConfig returns the default lease settings
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:     "ledgersync:lock:",
		TTL:           30 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		RetryTimeout:  time.Minute,
	}
}

// RedisKeyLocker implements shared.KeyLocker on top of bsm/redislock.
// Held leases are refreshed at half their TTL until released.
type RedisKeyLocker struct {
	locker *redislock.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisKeyLocker creates a locker sharing an existing redis client
func NewRedisKeyLocker(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisKeyLocker {
	def := DefaultRedisConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = def.RetryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisKeyLocker{
		locker: redislock.New(client),
		cfg:    cfg,
		logger: logger,
	}
}

// Lock obtains the lease on key, retrying until RetryTimeout or ctx is done
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, l.cfg.RetryTimeout)
	defer cancel()

	lease, err := l.locker.Obtain(obtainCtx, l.cfg.KeyPrefix+key, l.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.cfg.RetryInterval),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", shared.ErrLockNotObtained, key)
		}
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go l.keepAlive(lease, key, stop, &wg)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (l *RedisKeyLocker) keepAlive(lease *redislock.Lock, key string, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(l.cfg.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/2)
			err := lease.Refresh(ctx, l.cfg.TTL, nil)
			cancel()
			if err != nil {
				l.logger.Warn("Failed to refresh lock lease", zap.String("key", key), zap.Error(err))
				return
			}
		}
	}
}

// Ensure RedisKeyLocker implements shared.KeyLocker
var _ shared.KeyLocker = (*RedisKeyLocker)(nil)
