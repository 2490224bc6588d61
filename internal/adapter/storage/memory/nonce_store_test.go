package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceStore_CheckAndSet(t *testing.T) {
	store := NewNonceStore()
	clock := &fakeNow{t: started}
	store.now = clock.Now
	ctx := context.Background()

	ok, err := store.CheckAndSet(ctx, "operator-1", "n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CheckAndSet(ctx, "operator-1", "n1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "replayed nonce")

	ok, err = store.CheckAndSet(ctx, "operator-2", "n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "scopes are independent")

	clock.Advance(time.Minute)
	ok, err = store.CheckAndSet(ctx, "operator-1", "n1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired nonce is accepted again")
	assert.Len(t, store.entries, 1, "expired entries are purged on insert")
}
