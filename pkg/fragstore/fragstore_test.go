package fragstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fragstore/internal/adapters/memory"
	"github.com/bft-labs/fragstore/internal/metrics"
)

func TestOpen_WithBackendAndObserver(t *testing.T) {
	b := memory.New(memory.Options{MaxChunkSize: 16})
	latency := metrics.NewLatency()

	store, err := Open(context.Background(), DefaultConfig(), WithBackend(b), WithObserver(latency))
	require.NoError(t, err)
	require.Equal(t, 16, store.MaxChunkSize())
	require.Equal(t, "memory", store.Backend())

	done := make(chan Result, 1)
	require.NoError(t, store.SubmitWrite(9, make([]byte, 100), func(r Result) { done <- r }))
	select {
	case r := <-done:
		require.NoError(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not complete")
	}

	state, ok := store.Status(9)
	require.True(t, ok)
	require.Equal(t, StateSent, state)
	require.Len(t, latency.Samples(), 1)
	require.Equal(t, 7, b.Len())

	require.NoError(t, store.Close())
	require.ErrorIs(t, store.SubmitWrite(10, nil, func(Result) {}), ErrClosed)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: BackendConfig{Kind: "tape"}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	// An oversized override is rejected and the backend is closed.
	b := memory.New(memory.Options{MaxChunkSize: 8})
	cfg := DefaultConfig()
	cfg.Store.MaxChunkSize = 9
	_, err = Open(context.Background(), cfg, WithBackend(b))
	require.ErrorIs(t, err, ErrInvalidChunkSize)

	var writeErr error
	b.WriteChunk(ChunkKey{}, nil, nil, func(err error) { writeErr = err })
	require.ErrorIs(t, writeErr, ErrClosed)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("BOLT")
	require.NoError(t, err)
	require.Equal(t, KindBolt, k)
}
