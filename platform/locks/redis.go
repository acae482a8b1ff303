package locks

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"leadlock_backend/platform/apperr"
	"leadlock_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "lock:"
	minPoll        = 10 * time.Millisecond
	maxPoll        = 250 * time.Millisecond
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisManager implements Manager across processes with SET NX PX leases.
// The lease TTL must exceed the longest expected pass so a live holder never
// loses its lock; a crashed holder's lock expires after the TTL.
type RedisManager struct {
	client redis.Cmdable
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewRedisManager creates a redis-backed lock manager.
func NewRedisManager(client redis.Cmdable, ttl time.Duration, log *logger.Logger) *RedisManager {
	return &RedisManager{client: client, ttl: ttl, log: log, now: time.Now}
}

// Acquire polls with jittered exponential backoff until the key is free.
func (m *RedisManager) Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error) {
	start := m.now()
	deadline := start.Add(wait)
	token := strconv.FormatInt(start.UnixNano(), 10) + ":" + uuid.NewString()
	redisKey := redisKeyPrefix + key
	poll := minPoll

	for {
		ok, err := m.client.SetNX(ctx, redisKey, token, m.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apperr.Unavailable("acquire lock", err)
		}
		if ok {
			if waited := m.now().Sub(start); waited > maxPoll {
				m.log.LockContention(key, waited)
			}
			return &redisLease{m: m, key: key, redisKey: redisKey, token: token}, nil
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			m.log.LockContention(key, m.now().Sub(start))
			return nil, ErrLockTimeout
		}
		sleep := poll/2 + rand.N(poll/2+1)
		if sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		poll = min(poll*2, maxPoll)
	}
}

// LeaseAge reads the acquisition time encoded in the current token.
func (m *RedisManager) LeaseAge(ctx context.Context, key string) (time.Duration, bool, error) {
	val, err := m.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperr.Unavailable("inspect lock", err)
	}
	stamp, _, _ := strings.Cut(val, ":")
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return 0, true, apperr.Internal("malformed lock token")
	}
	return m.now().Sub(time.Unix(0, nanos)), true, nil
}

type redisLease struct {
	m        *RedisManager
	key      string
	redisKey string
	token    string

	once sync.Once
	err  error
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		n, err := releaseScript.Run(ctx, l.m.client, []string{l.redisKey}, l.token).Int()
		if err != nil {
			l.err = apperr.Unavailable("release lock", err)
			l.m.log.Error("lock release failed", "key", l.key, "error", err)
			return
		}
		if n == 0 {
			l.err = ErrLeaseLost
			l.m.log.Warn("lock lease expired before release", "key", l.key)
		}
	})
	return l.err
}
