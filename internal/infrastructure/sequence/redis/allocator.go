package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
)

const defaultKeyPrefix = "welfare:application_id"

// Allocator hands out monotonic application sequences per (prefix, year)
// with INCR, so concurrent api replicas never draw the same number.
type Allocator struct {
	client    goredis.UniversalClient
	keyPrefix string
	executor  *resilience.Executor
}

type Options struct {
	KeyPrefix          string
	ResilienceExecutor *resilience.Executor
}

func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

func NewAllocator(client goredis.UniversalClient, options Options) *Allocator {
	prefix := options.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Allocator{client: client, keyPrefix: prefix, executor: options.ResilienceExecutor}
}

func (a *Allocator) Next(ctx context.Context, prefix string, year int) (int64, error) {
	key := fmt.Sprintf("%s:%s:%d", a.keyPrefix, prefix, year)
	var seq int64
	call := func(ctx context.Context) error {
		v, err := a.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis incr %s: %w", key, err)
		}
		seq = v
		return nil
	}

	var err error
	if a.executor != nil {
		err = a.executor.Execute(ctx, "redis.incr", call, classifyRedisError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if classifyRedisError(err).Retryable || resilience.IsCircuitOpen(err) {
			return 0, domain.WrapError(domain.ErrTemporary, "allocate application id", err)
		}
		return 0, err
	}
	return seq, nil
}

// seedScript raises a counter without ever lowering it.
var seedScript = goredis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// Seed raises the counter to at least floor; used when the store already
// holds ids the counter has not seen.
func (a *Allocator) Seed(ctx context.Context, prefix string, year int, floor int64) error {
	key := fmt.Sprintf("%s:%s:%d", a.keyPrefix, prefix, year)
	if err := seedScript.Run(ctx, a.client, []string{key}, floor).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis seed %s: %w", key, err)
	}
	return nil
}

func classifyRedisError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, goredis.ErrClosed) || errors.Is(err, goredis.ErrPoolTimeout) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}
	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
