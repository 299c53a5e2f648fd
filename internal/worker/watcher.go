package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/registry"
)

// GateSwapper atomically replaces the active gate snapshot.
type GateSwapper interface {
	Swap(contracts []*model.GateContract) error
}

// Watcher polls the gates directory and hot-reloads the registry when the
// directory contents change. A reload that fails validation is logged and
// the previous snapshot stays active.
type Watcher struct {
	dir      string
	swapper  GateSwapper
	interval time.Duration

	lastFingerprint string
}

// New creates a new Watcher.
func New(dir string, swapper GateSwapper, interval time.Duration) *Watcher {
	return &Watcher{dir: dir, swapper: swapper, interval: interval}
}

// Start begins the polling loop. It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	slog.Info("gate watcher started", "dir", w.dir, "interval", w.interval.String())
	w.lastFingerprint, _ = fingerprint(w.dir)
	for {
		w.sleep(ctx)
		select {
		case <-ctx.Done():
			slog.Info("gate watcher stopped")
			return
		default:
		}

		fp, err := fingerprint(w.dir)
		if err != nil {
			slog.Error("gate watcher scan error", "dir", w.dir, "error", err)
			continue
		}
		if fp == w.lastFingerprint {
			continue
		}

		contracts, err := registry.LoadDir(w.dir)
		if err != nil {
			// Keep serving the old snapshot; a half-edited gate file must
			// never take down evaluation.
			slog.Error("gate reload failed, keeping previous snapshot", "dir", w.dir, "error", err)
			w.lastFingerprint = fp
			continue
		}
		if err := w.swapper.Swap(contracts); err != nil {
			slog.Error("gate swap rejected, keeping previous snapshot", "dir", w.dir, "error", err)
			w.lastFingerprint = fp
			continue
		}

		w.lastFingerprint = fp
		slog.Info("gate registry reloaded", "dir", w.dir, "gates", len(contracts))
	}
}

func (w *Watcher) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.interval):
	}
}

// fingerprint summarizes the directory's gate files by name, size and
// mtime. Content hashing is unnecessary: editors bump mtime on save.
func fingerprint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s|%d|%d\n", e.Name(), info.Size(), info.ModTime().UnixNano())
	}
	return sb.String(), nil
}
