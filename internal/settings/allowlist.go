package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cybercyphers/cyphbeta/internal/auth"
	"github.com/cybercyphers/cyphbeta/internal/fsstore"
)

// AllowList is the set of numbers permitted to run commands in private mode.
type AllowList struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	numbers map[string]struct{}
}

// LoadAllowList reads path, creating an empty list when it does not exist.
func LoadAllowList(path string, logger *slog.Logger) (*AllowList, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AllowList{path: filepath.Clean(path), logger: logger}

	exists, err := a.read()
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := fsstore.WriteJSONAtomic(a.path, []string{}, fsstore.FileOptions{DirPerm: 0o755, FilePerm: 0o644}); err != nil {
			return nil, fmt.Errorf("create allow-list: %w", err)
		}
	}
	return a, nil
}

func (a *AllowList) read() (bool, error) {
	var entries []string
	exists, err := fsstore.ReadJSON(a.path, &entries)
	if err != nil {
		return false, fmt.Errorf("load allow-list: %w", err)
	}

	numbers := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if n := normalize(e); n != "" {
			numbers[n] = struct{}{}
		}
	}

	a.mu.Lock()
	a.numbers = numbers
	a.mu.Unlock()
	return exists, nil
}

// Reload re-reads the file. On error the previous list stays in effect.
func (a *AllowList) Reload() error {
	_, err := a.read()
	return err
}

func (a *AllowList) Contains(number string) bool {
	n := normalize(number)
	if n == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.numbers[n]
	return ok
}

func (a *AllowList) Numbers() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.numbers))
	for n := range a.numbers {
		out = append(out, n)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Watch reloads the list whenever the file changes, until ctx is done.
func (a *AllowList) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("allow-list watcher: %w", err)
	}
	defer w.Close()

	// Editors often replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(a.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(a.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != a.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := a.Reload(); err != nil {
				a.logger.Warn("allowlist_reload_failed", "error", err.Error())
				continue
			}
			a.logger.Info("allowlist_reloaded", "entries", len(a.Numbers()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("allowlist_watch_error", "error", err.Error())
		}
	}
}

func normalize(entry string) string {
	n := auth.UserNumber(entry)
	out := make([]rune, 0, len(n))
	for _, r := range n {
		if r >= '0' && r <= '9' {
			out = append(out, r)
		}
	}
	return string(out)
}
