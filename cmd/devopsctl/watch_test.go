package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
)

func TestManifestWatcherDebouncesWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	var calls atomic.Int32
	w := &manifestWatcher{
		path:     path,
		debounce: 100 * time.Millisecond,
		log:      logger.Nop(),
		onChange: func(context.Context) { calls.Add(1) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}
