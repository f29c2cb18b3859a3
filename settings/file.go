package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/locmux/logging"
)

// FileStore is a Store backed by a YAML or TOML settings file, reloaded
// automatically when the file changes. Reads and subscriptions are served
// by an embedded Static store; reload diffs the sections and fires only
// the listeners whose section changed.
type FileStore struct {
	*Static

	path     string
	watcher  *fsnotify.Watcher
	logger   *logrus.Entry
	done     chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	lastChange time.Time
}

// debounce window for editors that produce several write events per save
const debounceInterval = 100 * time.Millisecond

// NewFileStore loads the settings file at path and starts watching its
// directory for changes. Close releases the watcher.
func NewFileStore(path string) (*FileStore, error) {
	static := NewStatic()

	data, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	static.Apply(data)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// watch the directory, not the file: many editors replace the file on
	// save, which drops a direct file watch
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	fs := &FileStore{
		Static:  static,
		path:    path,
		watcher: watcher,
		logger:  logging.NewLogger("settings"),
		done:    make(chan struct{}),
	}
	go fs.watch()
	return fs, nil
}

// Close stops the file watcher. The store remains readable with its last
// loaded contents.
func (fs *FileStore) Close() error {
	fs.stopOnce.Do(func() {
		close(fs.done)
	})
	return fs.watcher.Close()
}

func (fs *FileStore) watch() {
	for {
		select {
		case <-fs.done:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			fs.mu.Lock()
			now := time.Now()
			if now.Sub(fs.lastChange) < debounceInterval {
				fs.mu.Unlock()
				continue
			}
			fs.lastChange = now
			fs.mu.Unlock()

			fs.reload()
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.WithError(err).Warn("settings watcher error")
		}
	}
}

func (fs *FileStore) reload() {
	data, err := loadFile(fs.path)
	if err != nil {
		fs.logger.WithError(err).Warnf("failed to reload %s, keeping previous settings", fs.path)
		return
	}

	fs.logger.Debugf("reloading settings from %s", fs.path)
	fs.Static.Apply(data)
}

func loadFile(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("read settings file: %w", err)
	}

	var generic map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return Data{}, fmt.Errorf("parse settings file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &generic); err != nil {
			return Data{}, fmt.Errorf("parse settings file: %w", err)
		}
	default:
		return Data{}, fmt.Errorf("unsupported settings format: %s", filepath.Ext(path))
	}

	return decode(generic)
}

// decode maps the generic document into Data, accepting Go duration
// strings ("30s", "10m") for the throttle interval and string keys for the
// per-user maps.
func decode(generic map[string]interface{}) (Data, error) {
	var data Data
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &data,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return Data{}, err
	}
	if err := decoder.Decode(generic); err != nil {
		return Data{}, fmt.Errorf("decode settings: %w", err)
	}
	return data, nil
}
