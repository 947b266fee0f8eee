package collector

import (
	"context"
	"fmt"
	"sync"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileWatchCollector reports paths changed under the watched locations since the last sample
type FileWatchCollector struct {
	watcher *fsnotify.Watcher
	logger  *logrus.Logger

	mu      sync.Mutex
	changed map[string]string
	order   []string
}

func NewFileWatchCollector(cfg utils.FileWatchConfig, logger *logrus.Logger) (*FileWatchCollector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	c := &FileWatchCollector{
		watcher: watcher,
		logger:  logger,
		changed: make(map[string]string),
	}

	for _, path := range cfg.Paths {
		if err := watcher.Add(path); err != nil {
			if IsAccessDenied(err) {
				logger.Warnf("Access denied watching %s, skipping", path)
				continue
			}
			logger.Warnf("Failed to watch %s: %v", path, err)
			continue
		}
		logger.Infof("Watching %s for changes", path)
	}

	go c.run()
	return c, nil
}

func (c *FileWatchCollector) Name() string {
	return SourceFileWatch
}

func (c *FileWatchCollector) run() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.record(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warnf("File watcher error: %v", err)
		}
	}
}

func (c *FileWatchCollector) record(ev fsnotify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.changed[ev.Name]; !ok {
		c.order = append(c.order, ev.Name)
	}
	c.changed[ev.Name] = ev.Op.String()
}

func (c *FileWatchCollector) Sample(ctx context.Context) ([]model.Event, error) {
	c.mu.Lock()
	changed, order := c.changed, c.order
	c.changed = make(map[string]string)
	c.order = nil
	c.mu.Unlock()

	events := make([]model.Event, 0, len(order))
	for _, path := range order {
		events = append(events, newEvent(model.EventFileModified, SourceFileWatch, model.HintMedium, model.FilePayload{
			FilePath:  path,
			Operation: changed[path],
		}))
	}
	return events, nil
}

func (c *FileWatchCollector) Close() error {
	return c.watcher.Close()
}
