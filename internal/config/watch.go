package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "feedrelay/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

// reloadOps are the events that may change what Parse returns. Editors
// often replace the file instead of writing it in place.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config whenever the file changes, until ctx is done.
// The directory is watched so atomic replaces are seen. A broken watcher is
// recreated after a jittered wait.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	d := &debouncer{wait: m.debounce, fn: func() { m.reload(ctx) }}
	defer d.stop()

	wait := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchDir(ctx, dir, d)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.log.Warn("config watch failed", logx.String("dir", dir), logx.Err(err))
		} else {
			m.log.Warn("config watcher closed; restarting", logx.String("dir", dir))
			wait = watchRetryMin
		}
		if !pause(ctx, wait+time.Duration(rand.Int64N(int64(wait/2)+1))) {
			return nil
		}
		wait = min(wait*2, watchRetryMax)
	}
	return nil
}

// watchDir runs one fsnotify watcher until it closes or ctx ends.
func (m *Manager) watchDir(ctx context.Context, dir string, d *debouncer) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	name := filepath.Base(m.path)
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				d.trigger()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}

// debouncer runs fn once after triggers stop arriving for wait.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
