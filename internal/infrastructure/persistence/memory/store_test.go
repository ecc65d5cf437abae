package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath/internal/domain/progress"
)

func TestStore_GetSetDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "progress:u1")
	assert.ErrorIs(t, err, progress.ErrKeyNotFound)

	value := []byte(`{"version":1}`)
	require.NoError(t, s.Set(ctx, "progress:u1", value))

	// The store keeps its own copy.
	value[0] = 'x'
	got, err := s.Get(ctx, "progress:u1")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))

	require.NoError(t, s.Delete(ctx, "progress:u1"))
	require.NoError(t, s.Delete(ctx, "progress:u1"))
	_, err = s.Get(ctx, "progress:u1")
	assert.ErrorIs(t, err, progress.ErrKeyNotFound)
}

func TestStore_Keys(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "progress:b", []byte("1")))
	require.NoError(t, s.Set(ctx, "progress:a", []byte("1")))
	require.NoError(t, s.Set(ctx, "other:c", []byte("1")))

	keys, err := s.Keys(ctx, "progress:")
	require.NoError(t, err)
	assert.Equal(t, []string{"progress:a", "progress:b"}, keys)
}

func TestStore_CancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Set(ctx, "k", []byte("v")), context.Canceled)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
