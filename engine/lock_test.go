package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/engine"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := engine.NewKeyedMutex()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "deposit:agent-1:2025-03-10")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(ctx, "deposit:agent-1:2025-03-10")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock() // releasing twice is harmless

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released key")
	}
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	m := engine.NewKeyedMutex()
	ctx := context.Background()

	a, err := m.Lock(ctx, "a")
	require.NoError(t, err)
	defer a()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	b, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	b()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := engine.NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
