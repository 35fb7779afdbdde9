// Package configstore implements the read-through ConfigRepository described
// in SPEC_FULL.md §6: a file tree of <kind>/<uuid>.json documents, watched
// with fsnotify so the in-memory cache invalidates on external writes.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Kind names one of the config-store subdirectories.
type Kind string

const (
	KindSourceConnection       Kind = "SOURCE_CONNECTION"
	KindDestinationConnection  Kind = "DESTINATION_CONNECTION"
	KindStandardSync           Kind = "STANDARD_SYNC"
	KindStandardSourceDef      Kind = "STANDARD_SOURCE_DEFINITION"
	KindStandardDestinationDef Kind = "STANDARD_DESTINATION_DEFINITION"
)

var allKinds = []Kind{
	KindSourceConnection,
	KindDestinationConnection,
	KindStandardSync,
	KindStandardSourceDef,
	KindStandardDestinationDef,
}

// Repository is a read-through accessor over the config store file tree.
type Repository struct {
	root string
	log  logr.Logger

	mu    sync.RWMutex
	cache map[string][]byte // "<kind>/<uuid>" -> raw JSON

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open roots a Repository at root and starts an fsnotify watch over each
// kind subdirectory so cached reads invalidate on external writes.
func Open(root string, log logr.Logger) (*Repository, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("configstore: new watcher: %w", err)
	}

	r := &Repository{
		root:    root,
		log:     log,
		cache:   make(map[string][]byte),
		watcher: watcher,
		done:    make(chan struct{}),
	}

	for _, k := range allKinds {
		dir := filepath.Join(root, string(k))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("configstore: mkdir %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("configstore: watch %s: %w", dir, err)
		}
	}

	go r.watchLoop()
	return r, nil
}

// Close stops the fsnotify watch.
func (r *Repository) Close() error {
	close(r.done)
	return r.watcher.Close()
}

func (r *Repository) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.invalidate(event.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Error(err, "configstore: watch error")
		}
	}
}

func (r *Repository) invalidate(path string) {
	kind := filepath.Base(filepath.Dir(path))
	id := strings.TrimSuffix(filepath.Base(path), ".json")
	key := kind + "/" + id

	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()

	r.log.V(1).Info("configstore: cache invalidated", "key", key)
}

// Get reads and unmarshals the document identified by (kind, id) into out.
// Results are cached in memory until invalidated by a filesystem event.
func (r *Repository) Get(kind Kind, id string, out any) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("configstore: invalid id %q: %w", id, err)
	}
	key := string(kind) + "/" + id

	r.mu.RLock()
	raw, ok := r.cache[key]
	r.mu.RUnlock()

	if !ok {
		path := filepath.Join(r.root, string(kind), id+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("configstore: read %s: %w", path, err)
		}
		r.mu.Lock()
		r.cache[key] = data
		r.mu.Unlock()
		raw = data
	}

	return json.Unmarshal(raw, out)
}

// List returns every document id present under kind's directory.
func (r *Repository) List(kind Kind) ([]string, error) {
	dir := filepath.Join(r.root, string(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("configstore: list %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}
