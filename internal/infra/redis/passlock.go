package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPassLockTTL = 5 * time.Minute
	passLockPrefix     = "bounce:lock"
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockLost is returned by an unlock whose lease already expired or was taken over.
var ErrLockLost = errors.New("pass lock lost")

// PassLock is a lease-based mutual exclusion lock shared by every runner using the same Redis.
type PassLock struct {
	client *goredis.Client
	ttl    time.Duration
	token  func() string
}

func NewPassLock(client *goredis.Client, ttl time.Duration) (*PassLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultPassLockTTL
	}

	return &PassLock{client: client, ttl: ttl, token: uuid.NewString}, nil
}

// TryLock takes the named lock without waiting. When acquired is false the lock is held elsewhere.
func (l *PassLock) TryLock(ctx context.Context, name string) (unlock func(context.Context) error, acquired bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("lock name is required")
	}

	key := passLockPrefix + ":" + name
	token := l.token()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock = func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release pass lock: %w", err)
		}
		if released == 0 {
			return ErrLockLost
		}
		return nil
	}

	return unlock, true, nil
}
