// Package options loads the user-preferences file and watches it for edits,
// replaying changes to the attached tab client.
package options

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
)

// Options are the user preferences the tab client renders with.
type Options struct {
	DefaultPollDuration int  `json:"default_poll_duration"`
	AutoOpenURLs        bool `json:"auto_open_urls"`
	ShowLiveScores      bool `json:"show_live_scores"`
}

// Defaults returns the options used when no file is present.
func Defaults() Options {
	return Options{
		DefaultPollDuration: 30,
		AutoOpenURLs:        true,
		ShowLiveScores:      true,
	}
}

// Load reads the options file at path. A missing file yields the defaults.
func Load(path string) (Options, error) {
	opts := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("read options file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Defaults(), fmt.Errorf("parse options file: %w", err)
	}
	return opts, nil
}

// Watch re-reads the options file whenever it changes and invokes onChange
// with the encoded options. It blocks until ctx is cancelled. The watch is on
// the containing directory so editors that replace the file atomically are
// still observed.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(json.RawMessage)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			opts, err := Load(path)
			if err != nil {
				log.Warn("[options] reload failed", "err", err)
				continue
			}
			encoded, err := json.Marshal(opts)
			if err != nil {
				continue
			}
			log.Info("[options] reloaded", "path", path)
			onChange(encoded)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("[options] watch error", "err", err)
		}
	}
}
