package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedup(t *testing.T) {
	now := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	seen, err := d.MarkSeen(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = d.MarkSeen(ctx, "E1")
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = d.MarkSeen(ctx, "E1")
	assert.False(t, seen, "expired keys count as new")

	_, _ = d.MarkSeen(ctx, "E2")
	now = now.Add(90 * time.Second)
	d.Cleanup()
	assert.Zero(t, d.Len())
}

func TestDedup_Forget(t *testing.T) {
	d := NewDedup(time.Hour)
	ctx := context.Background()

	_, _ = d.MarkSeen(ctx, "E1")
	_, _ = d.MarkSeen(ctx, "E2")
	require.NoError(t, d.Forget(ctx, "E1", "E9"))

	seen, _ := d.MarkSeen(ctx, "E1")
	assert.False(t, seen)
	seen, _ = d.MarkSeen(ctx, "E2")
	assert.True(t, seen)
}
