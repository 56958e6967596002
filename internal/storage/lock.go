package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DateLocker serializes writers of the same date. The returned func releases the lock.
type DateLocker interface {
	LockDate(ctx context.Context, date time.Time) (func(), error)
}

// ErrLockTimeout is returned when a date lock could not be taken before the deadline.
var ErrLockTimeout = errors.New("storage: date lock wait exceeded")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockerOptions configures RedisLocker.
type RedisLockerOptions struct {
	Prefix       string
	TTL          time.Duration
	RetryBackoff time.Duration
	WaitTimeout  time.Duration
}

// RedisLocker takes per-date locks with SET NX PX so several hosts can share one store.
type RedisLocker struct {
	client redis.UniversalClient
	opts   RedisLockerOptions
	logger zerolog.Logger
}

// NewRedisLocker builds a locker on an existing redis client.
func NewRedisLocker(client redis.UniversalClient, opts RedisLockerOptions, logger zerolog.Logger) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "fxtriangle:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = time.Minute
	}
	return &RedisLocker{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "redis_locker").Logger(),
	}
}

func (l *RedisLocker) key(date time.Time) string {
	return l.opts.Prefix + date.UTC().Format(time.DateOnly)
}

// LockDate polls until the key is free, the wait timeout passes or ctx ends.
func (l *RedisLocker) LockDate(ctx context.Context, date time.Time) (func(), error) {
	key := l.key(date)
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.WaitTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis lock %s: %w", key, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.opts.RetryBackoff):
		}
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctxUnlock, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Error().Err(err).Str("key", key).Msg("failed to release date lock")
		}
	}
	return unlock, nil
}

// MemoryLocker serializes dates within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewMemoryLocker builds an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

// LockDate waits for the date to be free or ctx to end.
func (l *MemoryLocker) LockDate(ctx context.Context, date time.Time) (func(), error) {
	key := date.UTC().Format(time.DateOnly)
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

var (
	_ DateLocker = (*RedisLocker)(nil)
	_ DateLocker = (*MemoryLocker)(nil)
)
