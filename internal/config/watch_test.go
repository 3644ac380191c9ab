package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watchAssets = `assets:
  - id: pump-1
    dampers: [d1]
    channels:
      - id: vib
        kind: vibration
`

// startWatch writes an initial config, starts Watch on it and returns the
// file path plus the channel apply feeds into.
func startWatch(t *testing.T) (string, <-chan *Config) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(watchAssets), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	applied := make(chan *Config, 4)
	go func() {
		_ = Watch(ctx, p, func(cfg *Config) { applied <- cfg })
	}()
	// Let the watcher arm before the first rewrite.
	time.Sleep(100 * time.Millisecond)
	return p, applied
}

func TestWatch_AppliesValidRevision(t *testing.T) {
	p, applied := startWatch(t)

	next := "engine:\n  workers: 7\n" + watchAssets
	if err := os.WriteFile(p, []byte(next), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.Engine.Workers != 7 {
			t.Errorf("workers: got %d, want 7", cfg.Engine.Workers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("revision never applied")
	}
}

func TestWatch_SkipsBrokenRevisionKeepsWatching(t *testing.T) {
	p, applied := startWatch(t)

	if err := os.WriteFile(p, []byte("assets: [broken"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case cfg := <-applied:
		t.Fatalf("broken revision applied: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	// A later good revision still goes through.
	if err := os.WriteFile(p, []byte(watchAssets), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("recovery revision never applied")
	}
}

func TestWatch_CoalescesWriteBurst(t *testing.T) {
	p, applied := startWatch(t)

	// Several writes inside one settle interval produce a single reload.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(p, []byte(watchAssets), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("burst never applied")
	}
	select {
	case <-applied:
		t.Fatal("burst applied more than once")
	case <-time.After(500 * time.Millisecond):
	}
}
