package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of writes (temp file + rename) into one
// notification.
const watchDebounce = 100 * time.Millisecond

// Change describes a task or plan file that changed on disk.
type Change struct {
	TaskID string
	Plan   bool
	Path   string
}

// Watch calls fn whenever a task or plan file under the store changes, until
// ctx is done. Observers use it to re-fetch state written by other processes.
func (s *FileStore) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{s.TasksDir(), s.PlansDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	pending := make(map[string]Change)
	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			c, ok := s.classify(event.Name)
			if !ok {
				continue
			}
			pending[event.Name] = c
			timer.Reset(watchDebounce)
		case <-timer.C:
			for _, c := range pending {
				fn(c)
			}
			clear(pending)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("fsnotify: %w", err)
		}
	}
}

func (s *FileStore) classify(path string) (Change, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".md") {
		return Change{}, false
	}
	stem := strings.TrimSuffix(name, ".md")

	switch filepath.Dir(path) {
	case s.PlansDir():
		return Change{TaskID: stem, Plan: true, Path: path}, true
	case s.TasksDir():
		return Change{TaskID: taskIDFromStem(stem), Path: path}, true
	}
	return Change{}, false
}

// taskIDFromStem recovers the ID from "<id>-<slug>". IDs generated by
// util.GenerateTaskID have the form t-xxxxxx.
func taskIDFromStem(stem string) string {
	if strings.HasPrefix(stem, "t-") && len(stem) >= 8 {
		return stem[:8]
	}
	if i := strings.IndexByte(stem, '-'); i > 0 {
		return stem[:i]
	}
	return stem
}
