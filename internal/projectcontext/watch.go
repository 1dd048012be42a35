package projectcontext

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval groups bursts of filesystem events (editors writing a
// temp file then renaming it) into one Change.
var DebounceInterval = 300 * time.Millisecond

// Change reports that documentation under Root was modified. Receivers
// decide whether to call Reload.
type Change struct {
	Root  string
	Paths []string
	At    time.Time
}

// Watch reports documentation changes under root until ctx is done. The
// returned channel is closed when watching stops.
func (l *Loader) Watch(ctx context.Context, root string) (<-chan Change, error) {
	abs, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, dir := range []string{"docs", deliverablesDir} {
		full := filepath.Join(abs, filepath.FromSlash(dir))
		if info, err := os.Stat(full); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(full); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", full, err)
		}
	}

	out := make(chan Change, 1)
	go l.watchLoop(ctx, abs, watcher, out)
	return out, nil
}

func (l *Loader) watchLoop(ctx context.Context, root string, watcher *fsnotify.Watcher, out chan<- Change) {
	defer close(out)
	defer watcher.Close()

	var (
		pending = map[string]struct{}{}
		timer   *time.Timer
		fire    = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".md") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil {
				rel = ev.Name
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DebounceInterval, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]struct{}{}
			if len(paths) == 0 {
				continue
			}
			sort.Strings(paths)
			change := Change{Root: root, Paths: paths, At: l.now()}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.WarnContext(ctx, "documentation watcher error", "root", root, "error", err)
		}
	}
}
