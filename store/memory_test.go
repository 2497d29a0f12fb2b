package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	// Advance past the TTL.
	now = now.Add(2 * time.Minute)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_ExpireRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	now = now.Add(50 * time.Second)
	require.NoError(t, s.Expire(ctx, "k", time.Minute))
	now = now.Add(50 * time.Second)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestMemoryStore_PopFrontN_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.RPush(ctx, "list", "a", "b", "c"))

	// Fewer than requested: no mutation.
	items, err := s.PopFrontN(ctx, "list", 4)
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err := s.LLen(ctx, "list")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Exact drain preserves FIFO order.
	items, err = s.PopFrontN(ctx, "list", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)

	rest, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, rest)
}

func TestMemoryStore_PopFrontN_ConcurrentDrain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const total = 30
	const batch = 3

	for i := 0; i < total; i++ {
		require.NoError(t, s.RPush(ctx, "list", fmt.Sprintf("p%d", i)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				items, err := s.PopFrontN(ctx, "list", batch)
				require.NoError(t, err)
				if len(items) == 0 {
					return
				}
				// Never a partial batch.
				require.Len(t, items, batch)
				mu.Lock()
				for _, item := range items {
					seen[item]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for item, count := range seen {
		assert.Equal(t, 1, count, "entry %s drained more than once", item)
	}
}

func TestMemoryStore_HashOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, s.HSet(ctx, "h", "f2", "v2"))

	val, err := s.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	require.NoError(t, s.HDel(ctx, "h", "f1"))
	_, err = s.HGet(ctx, "h", "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ScanKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "mm:queue:chess", "x", 0))
	require.NoError(t, s.RPush(ctx, "mm:queue:go", "y"))
	require.NoError(t, s.Set(ctx, "game:session:1", "z", 0))

	keys, err := s.ScanKeys(ctx, "mm:queue:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mm:queue:chess", "mm:queue:go"}, keys)
}

func TestMemoryStore_SetNX(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ok, err := s.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", val)
}
