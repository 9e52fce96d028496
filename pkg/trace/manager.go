package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger logr.Logger
}

// Manager is the arrangement cache. Entries are keyed by the structural
// fingerprint of the plan whose output they index, plus, for keyed
// arrangements, the key column list. Two consumers requesting the same
// (fingerprint, keys) pair share one arrangement; building is a
// one-time cost.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Arrangement

	hits   atomic.Int64
	misses atomic.Int64

	log logr.Logger
}

// NewManager creates an empty arrangement cache.
func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Manager{
		entries: make(map[string]*Arrangement),
		log:     log.WithName("trace-manager"),
	}
}

// GetUnkeyed returns the shared self-arranged index for the plan with
// the given fingerprint, if one was installed.
func (m *Manager) GetUnkeyed(fingerprint string) (*Arrangement, bool) {
	return m.get(cacheKey(fingerprint, nil))
}

// SetUnkeyed installs the self-arranged index for a plan fingerprint.
func (m *Manager) SetUnkeyed(fingerprint string, a *Arrangement) {
	m.set(cacheKey(fingerprint, nil), a)
}

// GetKeyed returns the shared index for the plan with the given
// fingerprint arranged by the given key columns, if one was installed.
func (m *Manager) GetKeyed(fingerprint string, keys []int) (*Arrangement, bool) {
	return m.get(cacheKey(fingerprint, keys))
}

// SetKeyed installs the index for a plan fingerprint arranged by the
// given key columns.
func (m *Manager) SetKeyed(fingerprint string, keys []int, a *Arrangement) {
	m.set(cacheKey(fingerprint, keys), a)
}

func (m *Manager) get(key string) (*Arrangement, bool) {
	m.mu.RLock()
	a, ok := m.entries[key]
	m.mu.RUnlock()

	if ok {
		m.hits.Add(1)
		m.log.V(4).Info("cache hit", "key", key)
	} else {
		m.misses.Add(1)
		m.log.V(4).Info("cache miss", "key", key)
	}
	return a, ok
}

func (m *Manager) set(key string, a *Arrangement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = a
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Stats returns the current hit/miss counters and entry count.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	entries := len(m.entries)
	m.mu.RUnlock()
	return Stats{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Entries: entries,
	}
}

// cacheKey derives the map key for a (fingerprint, keys) pair. Equal
// plans built independently hash to the same entry.
func cacheKey(fingerprint string, keys []int) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	if keys != nil {
		fmt.Fprintf(h, "|keys=%v", keys)
	}
	return hex.EncodeToString(h.Sum(nil))
}
