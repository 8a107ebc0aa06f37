package mapcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FeatureSet is an immutable snapshot of the store contents
type FeatureSet struct {
	Version  uint64     `json:"version"`
	Source   string     `json:"source"`
	LoadedAt time.Time  `json:"loadedAt"`
	Features []*Feature `json:"features"`
}

// Len returns the number of features, tolerating a nil set
func (fs *FeatureSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.Features)
}

// FeatureStore holds the current feature snapshot. Loads replace the
// snapshot wholesale; readers never observe a partial set.
type FeatureStore struct {
	mu        sync.RWMutex
	current   *FeatureSet
	opts      ConvertOptions
	listeners []func(*FeatureSet)
	cachePath string // path to the snapshot cache file; empty disables persistence
}

// NewFeatureStore creates an empty store
func NewFeatureStore(opts ConvertOptions) *FeatureStore {
	return &FeatureStore{
		current: &FeatureSet{},
		opts:    opts,
	}
}

// NewFeatureStoreWithCache creates a store that persists each successful
// snapshot to cachePath. If the file exists, the cached snapshot is loaded
// on creation.
func NewFeatureStoreWithCache(opts ConvertOptions, cachePath string) *FeatureStore {
	fs := NewFeatureStore(opts)
	fs.cachePath = cachePath
	if cachePath != "" {
		if set, err := LoadFeatureSet(cachePath); err == nil {
			fs.current = set
			storedFeatures.Set(float64(set.Len()))
		}
	}
	return fs
}

// OnReplace registers a callback invoked after every snapshot replacement.
// Callbacks run on the goroutine that completed the load.
func (fs *FeatureStore) OnReplace(fn func(*FeatureSet)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.listeners = append(fs.listeners, fn)
}

// Snapshot returns the current feature set
func (fs *FeatureStore) Snapshot() *FeatureSet {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.current
}

// Features returns the current features in store order
func (fs *FeatureStore) Features() []*Feature {
	return fs.Snapshot().Features
}

// Load fetches and decodes the source, then replaces the snapshot.
// On failure the previous snapshot is kept and a *LoadError is returned.
func (fs *FeatureStore) Load(ctx context.Context, src Source) (*FeatureSet, error) {
	data, err := src.Fetch(ctx)
	if err != nil {
		featureLoads.WithLabelValues("error", "").Inc()
		return nil, &LoadError{Source: src.Name(), Op: "fetch", Err: err}
	}

	res, err := DecodeFeatureData(data, fs.opts)
	if err != nil {
		featureLoads.WithLabelValues("error", "").Inc()
		return nil, &LoadError{Source: src.Name(), Op: "decode", Err: err}
	}

	for _, d := range res.Dropped {
		log.Printf("[LOAD] Warning: %s: dropped %v", src.Name(), d)
	}
	droppedRecords.Add(float64(len(res.Dropped)))
	featureLoads.WithLabelValues("ok", res.Format).Inc()

	return fs.Replace(src.Name(), res.Features), nil
}

// LoadAsync runs Load on its own goroutine. done, when non-nil, receives
// the outcome. Concurrent loads apply in completion order.
func (fs *FeatureStore) LoadAsync(ctx context.Context, src Source, done func(*FeatureSet, error)) {
	go func() {
		set, err := fs.Load(ctx, src)
		if err != nil {
			log.Printf("[LOAD] %v", err)
		}
		if done != nil {
			done(set, err)
		}
	}()
}

// Replace installs a new snapshot built from features and notifies listeners.
func (fs *FeatureStore) Replace(source string, features []*Feature) *FeatureSet {
	if features == nil {
		features = make([]*Feature, 0)
	}

	fs.mu.Lock()
	set := &FeatureSet{
		Version:  fs.current.Version + 1,
		Source:   source,
		LoadedAt: time.Now(),
		Features: features,
	}
	fs.current = set
	listeners := append([]func(*FeatureSet){}, fs.listeners...)
	cachePath := fs.cachePath
	fs.mu.Unlock()

	storedFeatures.Set(float64(len(features)))
	log.Printf("[LOAD] Loaded %d features from %s (version %d)", len(features), source, set.Version)

	if cachePath != "" {
		if err := SaveFeatureSet(set, cachePath); err != nil {
			log.Printf("[LOAD] Warning: failed to save feature cache: %v", err)
		}
	}

	for _, fn := range listeners {
		fn(set)
	}
	return set
}

// SaveFeatureSet writes a FeatureSet to disk as JSON.
func SaveFeatureSet(set *FeatureSet, path string) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal feature set: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write feature cache: %w", err)
	}
	return nil
}

// LoadFeatureSet reads a FeatureSet from a JSON file on disk.
func LoadFeatureSet(path string) (*FeatureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature cache: %w", err)
	}
	var set FeatureSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("unmarshal feature cache: %w", err)
	}
	if set.Features == nil {
		set.Features = make([]*Feature, 0)
	}
	return &set, nil
}
