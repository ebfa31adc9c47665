// Package cache provides a bounded TTL cache for crawl snapshots, with
// best-effort persistence to a single JSON file.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mingtechpro/douyin-trends/internal/model"
)

const (
	// typeHotListResponse tags persisted HotListResponse payloads so reload
	// dispatches on an explicit discriminator instead of shape-sniffing.
	typeHotListResponse = "hot_list_response"
	envelopeVersion     = 1

	fileName = "hot_cache.json"
)

// Config controls cache behavior.
type Config struct {
	MaxSize int
	TTL     time.Duration
	// Persist enables writing the cache to Dir on every mutation. All
	// persistence failures are swallowed: the cache is a performance
	// optimization, never a durability guarantee.
	Persist bool
	Dir     string
}

type entry struct {
	value    *model.HotListResponse
	storedAt time.Time
}

// Manager is a TTL cache bounded to MaxSize entries. When full, the entry
// with the oldest insertion time is evicted. Expired entries are evicted
// lazily on lookup.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]entry
	logger  *zap.Logger

	now func() time.Time
}

// New creates a Manager. When persistence is enabled, any previously
// written cache file is reloaded, silently discarding entries that are
// expired or fail to decode.
func New(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:     cfg,
		entries: make(map[string]entry),
		logger:  logger,
		now:     time.Now,
	}
	if cfg.Persist {
		m.load()
	}
	return m
}

// Get returns the cached response for key, or nil when absent or expired.
// An expired entry is removed on lookup.
func (m *Manager) Get(key string) *model.HotListResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if m.now().Sub(e.storedAt) >= m.cfg.TTL {
		delete(m.entries, key)
		return nil
	}
	return e.value
}

// Set inserts or overwrites key. If the cache is full, the entry with the
// oldest insertion timestamp is evicted first.
func (m *Manager) Set(key string, value *model.HotListResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.cfg.MaxSize {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range m.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(m.entries, oldestKey)
	}
	m.entries[key] = entry{value: value, storedAt: m.now()}
	m.persistLocked()
}

// Clear drops every entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
	m.persistLocked()
}

// Size returns the current entry count, expired entries included.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// CleanupExpired removes every expired entry and returns how many were
// evicted.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	evicted := 0
	for k, e := range m.entries {
		if now.Sub(e.storedAt) >= m.cfg.TTL {
			delete(m.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		m.persistLocked()
	}
	return evicted
}

// envelope is the tagged persisted form of a cached value.
type envelope struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

type persistedEntry struct {
	Value     envelope `json:"value"`
	Timestamp int64    `json:"timestamp"`
}

func (m *Manager) filePath() string {
	return filepath.Join(m.cfg.Dir, fileName)
}

// persistLocked serializes the whole map to disk. The file is written
// wholesale under the cache lock so readers never observe a partial write.
// Callers must hold mu.
func (m *Manager) persistLocked() {
	if !m.cfg.Persist {
		return
	}
	out := make(map[string]persistedEntry, len(m.entries))
	for k, e := range m.entries {
		payload, err := json.Marshal(e.value)
		if err != nil {
			continue
		}
		out[k] = persistedEntry{
			Value: envelope{
				Type:    typeHotListResponse,
				Version: envelopeVersion,
				Payload: payload,
			},
			Timestamp: e.storedAt.Unix(),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		m.logger.Debug("cache marshal failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(m.cfg.Dir, 0o750); err != nil {
		m.logger.Debug("cache dir create failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(m.filePath(), data, 0o600); err != nil {
		m.logger.Debug("cache write failed", zap.Error(err))
	}
}

// load reads the persisted file and reconstructs cached response graphs,
// dropping entries that are expired, untagged, or fail to decode.
func (m *Manager) load() {
	data, err := os.ReadFile(m.filePath())
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Debug("cache read failed", zap.Error(err))
		}
		return
	}
	var raw map[string]persistedEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		m.logger.Debug("cache decode failed", zap.Error(err))
		return
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, pe := range raw {
		storedAt := time.Unix(pe.Timestamp, 0)
		if now.Sub(storedAt) >= m.cfg.TTL {
			continue
		}
		if pe.Value.Type != typeHotListResponse || pe.Value.Version != envelopeVersion {
			continue
		}
		var resp model.HotListResponse
		if err := json.Unmarshal(pe.Value.Payload, &resp); err != nil {
			continue
		}
		m.entries[k] = entry{value: &resp, storedAt: storedAt}
	}
}

// Key builds the cache key scoping hits to the same hour and requested
// item count.
func Key(t time.Time, maxItems int) string {
	return fmt.Sprintf("hot_list_%s_%d", t.Format("2006010215"), maxItems)
}
