package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle is how long Watch lets the file sit quiet before re-reading
// it. Editors and provisioning tools emit bursts of write and rename events
// per save; reloading once per burst keeps the engine from quiescing its
// evaluation pipeline repeatedly for a single edit.
const watchSettle = 200 * time.Millisecond

// Watch monitors the config file at path and hands every successfully
// loaded revision to apply. The caller decides what applying means — the
// engine quiesces in-flight evaluations and swaps its snapshot. A revision
// that fails to load or validate is logged and skipped, so the last good
// config stays active. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: start watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}
	slog.Info("config: watching", "path", path, "settle", watchSettle)

	var settle *time.Timer
	var settleC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Writes, atomic saves (create/rename of the watched name) and
			// removals all mean the content may have changed. Arm or push
			// back the settle timer; the read happens when the burst ends.
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(watchSettle)
				settleC = settle.C
			} else {
				settle.Reset(watchSettle)
			}

		case <-settleC:
			settle, settleC = nil, nil
			// An atomic save replaced the inode; re-arm on the new file
			// before reading so the next edit is not missed. A missing file
			// retries on the settle interval until it returns.
			if err := w.Add(path); err != nil {
				slog.Warn("config: re-arm failed, retrying",
					"path", path, "error", err)
				settle = time.NewTimer(watchSettle)
				settleC = settle.C
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: revision rejected, last good config stays active",
					"path", path, "error", err)
				continue
			}
			slog.Info("config: revision loaded", "path", path, "assets", len(cfg.Assets))
			apply(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watch error", "path", path, "error", err)
		}
	}
}
