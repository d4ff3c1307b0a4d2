package taskstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_ReportsChangedDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "tasks")
	teamDir := filepath.Join(root, "team")
	require.NoError(t, os.MkdirAll(teamDir, 0o755))

	w, err := NewWatcher(root, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(teamDir, "1.json"), []byte(`{"id":"1"}`), 0o644))
	}

	select {
	case dir := <-w.Changes():
		require.Equal(t, teamDir, dir)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcher_ClosesOnCancel(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "tasks"), 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	_, ok := <-w.Changes()
	require.False(t, ok)
}
