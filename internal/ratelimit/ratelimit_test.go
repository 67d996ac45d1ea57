package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstCap(t *testing.T) {
	l := New(3, 5)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow() {
			allowed++
		}
	}
	require.Equal(t, 5, allowed, "burst capacity should admit exactly burst_limit calls instantly")
	require.False(t, l.Allow(), "a 6th immediate call should be throttled")

	err := l.Wait(ctx)
	require.NoError(t, err)
}

func TestLimiter_WaitRespectsCancellation(t *testing.T) {
	l := New(1, 1)
	require.True(t, l.Allow()) // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
}

func TestRegistry_PerKeyIsolation(t *testing.T) {
	reg := NewRegistry(3, 5)
	a := reg.For("key-a")
	b := reg.For("key-b")
	require.NotSame(t, a, b)
	require.Same(t, a, reg.For("key-a"))
}
