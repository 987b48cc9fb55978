package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL       = 30 * time.Second
	defaultRetry     = 25 * time.Millisecond
	maxRetryInterval = 500 * time.Millisecond
	keyPrefix        = "modhub:lock:"
)

// releaseScript удаляет ключ, только если им все еще владеет вызывающий.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker - распределенные блокировки на Redis (SET NX PX).
// TTL ограничивает время владения, если держатель упал.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker создает Locker поверх готового клиента.
func NewRedisLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, log: log.Named("RedisLocker")}
}

// NewRedisClient разбирает URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора адреса redis: %w", err)
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ошибка подключения к redis: %w", err)
	}
	return client, nil
}

// Lock повторяет попытки с растущим интервалом, пока ключ занят.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	wait := defaultRetry

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrNotAcquired, ctxErr)
			}
			return nil, fmt.Errorf("ошибка получения блокировки '%s': %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, maxRetryInterval)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Контекст запроса мог быть уже отменен, освобождаем независимо от него.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Warn("Не удалось освободить блокировку", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
