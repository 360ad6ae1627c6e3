package targets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 500 * time.Millisecond

type fileDocument struct {
	Targets []models.Target `yaml:"targets"`
}

// LoadFile reads targets from a YAML document of the form "targets: [...]".
func LoadFile(path string) ([]models.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}

	for i := range doc.Targets {
		ApplyDefaults(&doc.Targets[i])
	}
	return doc.Targets, nil
}

// Watch calls onChange with the freshly parsed file every time path is written,
// until ctx is done. The parent directory is watched so editors that replace the
// file by rename are picked up too. Parse errors are logged and the old config kept.
func Watch(ctx context.Context, path string, onChange func([]models.Target)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	reload := func() {
		targets, err := LoadFile(abs)
		if err != nil {
			logrus.Errorf("Targets reload failed, keeping previous configuration: %v", err)
			return
		}
		logrus.Infof("Targets file changed, reloaded %d targets", len(targets))
		onChange(targets)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Warnf("Targets watcher error: %v", err)
			}
		}
	}()

	return nil
}
