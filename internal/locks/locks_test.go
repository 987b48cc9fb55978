package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second, nil), srv
}

func testLockerExclusive(t *testing.T, l Locker) {
	t.Helper()
	var (
		inside   atomic.Int32
		violated atomic.Bool
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "cool-mod")
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				violated.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, violated.Load(), "два держателя одновременно")
}

func TestLocalLocker(t *testing.T) {
	t.Run("Эксклюзивность по ключу", func(t *testing.T) {
		l := NewLocalLocker()
		testLockerExclusive(t, l)
		assert.Zero(t, l.size(), "после освобождения ключи удаляются")
	})

	t.Run("Разные ключи не мешают друг другу", func(t *testing.T) {
		l := NewLocalLocker()
		unlockA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		unlockB, err := l.Lock(context.Background(), "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("Отмена контекста", func(t *testing.T) {
		l := NewLocalLocker()
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		require.ErrorIs(t, err, ErrNotAcquired)

		unlock()
		unlock() // повторный вызов безопасен
		assert.Zero(t, l.size())
	})
}

func TestRedisLocker(t *testing.T) {
	t.Run("Эксклюзивность по ключу", func(t *testing.T) {
		l, _ := newTestRedisLocker(t)
		testLockerExclusive(t, l)
	})

	t.Run("Занятый ключ и отмена контекста", func(t *testing.T) {
		l, srv := newTestRedisLocker(t)
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, srv.Exists(keyPrefix+"a"))

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "a")
		require.ErrorIs(t, err, ErrNotAcquired)

		unlock()
		assert.False(t, srv.Exists(keyPrefix+"a"))
	})

	t.Run("Чужой токен не освобождает ключ", func(t *testing.T) {
		l, srv := newTestRedisLocker(t)
		unlock, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)

		// TTL истек, ключ занял другой владелец.
		srv.FastForward(2 * time.Second)
		require.NoError(t, srv.Set(keyPrefix+"a", "other-owner"))

		unlock()
		got, err := srv.Get(keyPrefix + "a")
		require.NoError(t, err)
		assert.Equal(t, "other-owner", got)
	})
}
