package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint"
	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

const watchDebounce = 300 * time.Millisecond

// watchArtifacts calls refresh once a burst of artifact changes in dirs has
// settled. It returns when ctx is done.
func watchArtifacts(ctx context.Context, dirs []string, debounce time.Duration, refresh func() audfprint.Listings) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	trigger := func() { refresh() }

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isArtifact(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, trigger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("Watch error: %v", err)
		}
	}
}

func isArtifact(name string) bool {
	switch filepath.Ext(name) {
	case audfprint.AnalysisExt, audfprint.DatabaseExt:
		return true
	}
	return false
}
