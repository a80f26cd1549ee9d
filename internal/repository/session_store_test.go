package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionStore(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionStore(client, "session", ttl), mr
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))

	userID, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	assert.Equal(t, time.Hour, mr.TTL("session:token:tok-1"))
	assert.True(t, mr.Exists("session:user:user-1"))
}

func TestSessionStore_Create_ExplicitTTL(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)

	require.NoError(t, store.Create(context.Background(), "tok-1", "user-1", 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL("session:token:tok-1"))
}

func TestSessionStore_Create_Duplicate(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))

	err := store.Create(ctx, "tok-1", "user-2", 0)
	assert.ErrorIs(t, err, ErrDuplicateToken)

	userID, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessionStore_Get_NotFound(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Expiry(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))
	mr.FastForward(time.Hour + time.Second)

	_, err := store.Get(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := store.CountForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSessionStore_Refresh(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))
	mr.FastForward(50 * time.Minute)

	require.NoError(t, store.Refresh(ctx, "tok-1"))
	assert.Equal(t, time.Hour, mr.TTL("session:token:tok-1"))
	assert.Equal(t, time.Hour, mr.TTL("session:user:user-1"))

	mr.FastForward(50 * time.Minute)
	userID, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessionStore_Refresh_NotFound(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)

	err := store.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_Take(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))

	userID, err := store.Take(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = store.Take(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)

	tokens, err := store.GetAllForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestSessionStore_Take_Concurrent(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, "tok-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestSessionStore_Delete_Idempotent(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))
	require.NoError(t, store.Delete(ctx, "tok-1"))
	require.NoError(t, store.Delete(ctx, "tok-1"))
	require.NoError(t, store.Delete(ctx, "never-existed"))

	_, err := store.Get(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionStore_DeleteAllForUser(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, fmt.Sprintf("a-%d", i), "user-a", 0))
	}
	require.NoError(t, store.Create(ctx, "b-0", "user-b", 0))

	deleted, err := store.DeleteAllForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.False(t, mr.Exists("session:user:user-a"))

	for i := 0; i < 3; i++ {
		_, err := store.Get(ctx, fmt.Sprintf("a-%d", i))
		assert.ErrorIs(t, err, ErrNotFound)
	}

	userID, err := store.Get(ctx, "b-0")
	require.NoError(t, err)
	assert.Equal(t, "user-b", userID)

	deleted, err = store.DeleteAllForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestSessionStore_GetAllForUser_PrunesExpired(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "short", "user-1", time.Minute))
	require.NoError(t, store.Create(ctx, "long", "user-1", 0))

	mr.FastForward(2 * time.Minute)

	tokens, err := store.GetAllForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, tokens)

	members, err := mr.Members("session:user:user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, members)
}

func TestSessionStore_IndexTTLFollowsLongestToken(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "long", "user-1", 0))
	require.NoError(t, store.Create(ctx, "short", "user-1", time.Minute))

	assert.Equal(t, time.Hour, mr.TTL("session:user:user-1"))
}

func TestSessionStore_PrefixIsolation(t *testing.T) {
	sessions, mr := setupSessionStore(t, time.Hour)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	resets := NewRedisSessionStore(client, "password_reset", time.Hour)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, "tok", "user-1", 0))
	require.NoError(t, resets.Create(ctx, "tok", "user-2", 0))

	deleted, err := resets.DeleteAllForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	userID, err := sessions.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSessionStore_ConcurrentCreates(t *testing.T) {
	store, _ := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Create(ctx, fmt.Sprintf("tok-%d", i), "user-1", 0))
		}(i)
	}
	wg.Wait()

	count, err := store.CountForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestSessionStore_TokenCannotAddressUserIndex(t *testing.T) {
	store, mr := setupSessionStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "tok-1", "user-1", 0))
	indexLike := "user:user-1"

	_, err := store.Get(ctx, indexLike)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Take(ctx, indexLike)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Refresh(ctx, indexLike), ErrNotFound)
	assert.NoError(t, store.Delete(ctx, indexLike))

	members, err := mr.Members("session:user:user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, members)

	userID, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}
