package credential

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"hlsrelay/logger"
)

// ReadIDFile reads one credential per line. Blank lines and # comments are skipped.
func ReadIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

// Watcher 监听凭证文件变化并刷新凭证池
type Watcher struct {
	path    string
	pool    *Pool
	static  []string
	watcher *fsnotify.Watcher
	// reloaded is signalled after each successful reload, tests use it.
	reloaded chan struct{}
}

// NewWatcher watches the directory of path so editors that rename on save are seen.
// static ids are always kept in the pool alongside the file contents.
func NewWatcher(path string, pool *Pool, static []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		pool:     pool,
		static:   static,
		watcher:  fw,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reload reads the file and replaces the pool members.
func (w *Watcher) Reload() error {
	ids, err := ReadIDFile(w.path)
	if err != nil {
		return err
	}
	w.pool.Replace(append(append([]string(nil), w.static...), ids...))
	logger.Info("凭证文件已重新加载", logger.String("path", w.path), logger.Int("count", len(ids)))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
	return nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				logger.Warn("重新加载凭证文件失败", logger.String("path", w.path), logger.ErrorField(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}
