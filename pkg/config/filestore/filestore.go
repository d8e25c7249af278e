package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrej220/guestcheck/internal/lg"
	"github.com/andrej220/guestcheck/pkg/config/configstore"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

var ErrEmptyConfig = errors.New("config file is empty")

// FileStore keeps a configuration document in a YAML file.
type FileStore struct {
	Path string
}

func New(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(_ context.Context, out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}

	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}
	if len(bytes) == 0 {
		return fmt.Errorf("Load: %s: %w", f.Path, ErrEmptyConfig)
	}

	if err := yaml.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse YAML in %s: %w", f.Path, err)
	}
	return nil
}

// Save writes in next to the target and renames it into place.
func (f *FileStore) Save(_ context.Context, in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}

	bytes, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("Save: failed to marshal YAML: %w", err)
	}

	tmpPath := f.Path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0o600); err != nil {
		return fmt.Errorf("Save: failed to write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("Save: failed to replace %s with %s: %w", f.Path, tmpPath, err)
	}
	return nil
}

// Close is a no-op; the watcher stops with the context passed to Watch.
func (f *FileStore) Close(context.Context) error { return nil }

// Watch calls onChange whenever the file is written or replaced, until ctx
// is done. The parent directory is watched so atomic renames are seen.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file %s: %w", f.Path, err)
	}

	logger := lg.FromContext(ctx)
	target := filepath.Clean(f.Path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", lg.String("path", f.Path), lg.Err(err))
			}
		}
	}()
	return nil
}
