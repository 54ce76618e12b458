package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, capacity int) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisOptions{URL: "redis://" + mr.Addr(), Key: "test:pending", Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_AddListDrain(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, 0)

	r := rec("hello")
	r.Metadata.ChunkIndex, r.Metadata.ChunkTotal = 1, 2
	_, err := s.Add(ctx, r)
	require.NoError(t, err)
	_, err = s.Add(ctx, rec("world"))
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:pending"))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, r, got[0].Record)
	assert.Equal(t, "world", got[1].Record.Content)

	drained, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, drained, 2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, 2)

	for i := 0; i < 4; i++ {
		_, err := s.Add(ctx, rec(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].Record.Content)
	assert.Equal(t, "m3", got[1].Record.Content)
}

func TestRedisStore_Clear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t, 0)
	s.Add(ctx, rec("a"))
	require.NoError(t, s.Clear(ctx))
	n, _ := s.Count(ctx)
	assert.Zero(t, n)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(RedisOptions{URL: "redis://" + addr})
	assert.Error(t, err)
}
