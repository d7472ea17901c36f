// Package cache holds compressed skill guides per session and tracks which
// tools already received a full guide in each session.
//
// Both Store and SessionTracker are constructed explicitly and are safe for
// concurrent use. Concurrent writes to the same key are last-writer-wins,
// and a read may observe an entry up to the TTL old.
//
// Example usage:
//
//	store := cache.NewStore(cache.DefaultConfig())
//	key := store.MakeKey("python_sandbox", compression.ChartContent, sessionID, query)
//	store.Set(key, cache.Value{Content: guide})
//	entry, ok := store.Get(key)
package cache

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

// ErrMalformedEntry marks an entry whose stored fields disagree.
var ErrMalformedEntry = errors.New("malformed cache entry")

const keyDigestBytes = 16

// Config holds cache limits.
type Config struct {
	TTL            time.Duration
	MaxEntries     int
	QueryPrefixLen int
}

// DefaultConfig returns a 10 minute, 500 entry cache keyed on the first 20
// characters of the query.
func DefaultConfig() Config {
	return Config{
		TTL:            10 * time.Minute,
		MaxEntries:     500,
		QueryPrefixLen: 20,
	}
}

// Key identifies one cached guide.
type Key struct {
	ToolName    string
	ContentType compression.ContentType
	SessionID   string
	QueryPrefix string
}

// String serializes the key, replacing the query prefix with a digest.
func (k Key) String() string {
	sum := blake3.Sum256([]byte(k.QueryPrefix))
	return k.ToolName + "|" + string(k.ContentType) + "|" + k.SessionID + "|" + hex.EncodeToString(sum[:keyDigestBytes])
}

// Value is what callers store.
type Value struct {
	Content      string
	Strategy     compression.Strategy
	OriginalSize int
	QualityScore float64
}

// Entry is a stored value with its bookkeeping.
type Entry struct {
	Value
	Key       Key
	Size      int
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e *Entry) validate() error {
	switch {
	case e == nil:
		return ErrMalformedEntry
	case strings.TrimSpace(e.Content) == "":
		return ErrMalformedEntry
	case e.Size != textutil.RuneLen(e.Content):
		return ErrMalformedEntry
	case e.ExpiresAt.Before(e.CreatedAt):
		return ErrMalformedEntry
	}
	return nil
}

// Stats reports cache counters.
type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Store is a TTL cache with oldest-first eviction.
type Store struct {
	cfg     Config
	now     func() time.Time
	metrics *Metrics

	mu        sync.RWMutex
	entries   map[string]*Entry
	hits      int64
	misses    int64
	evictions int64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store. Zero config fields take defaults.
func NewStore(cfg Config, opts ...StoreOption) *Store {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.QueryPrefixLen <= 0 {
		cfg.QueryPrefixLen = def.QueryPrefixLen
	}
	s := &Store{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MakeKey builds a key from the first QueryPrefixLen characters of the
// normalized query.
func (s *Store) MakeKey(toolName string, ct compression.ContentType, sessionID, query string) Key {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	return Key{
		ToolName:    toolName,
		ContentType: ct,
		SessionID:   sessionID,
		QueryPrefix: textutil.Truncate(normalized, s.cfg.QueryPrefixLen),
	}
}

// Get returns a live entry. Expired and malformed entries are deleted and
// reported as misses.
func (s *Store) Get(key Key) (Entry, bool) {
	id := key.String()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		s.miss(missAbsent)
		return Entry{}, false
	}
	if err := entry.validate(); err != nil {
		s.drop(id)
		s.miss(missMalformed)
		return Entry{}, false
	}
	if !now.Before(entry.ExpiresAt) {
		s.drop(id)
		s.miss(missExpired)
		return Entry{}, false
	}
	s.hits++
	s.metrics.recordHit(entry.OriginalSize)
	return *entry, true
}

// Set stores v under key, replacing any previous value.
func (s *Store) Set(key Key, v Value) Entry {
	id := key.String()
	now := s.now()
	entry := &Entry{
		Value:     v,
		Key:       key,
		Size:      textutil.RuneLen(v.Content),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists {
		s.purgeExpiredLocked(now)
		for len(s.entries) >= s.cfg.MaxEntries {
			s.evictOldestLocked()
		}
	}
	s.entries[id] = entry
	s.metrics.setSize(len(s.entries))
	return *entry
}

// LatestForTool returns the newest live entry for a tool in a session.
func (s *Store) LatestForTool(sessionID, toolName string) (Entry, bool) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Entry
	for _, e := range s.entries {
		if e.Key.SessionID != sessionID || e.Key.ToolName != toolName {
			continue
		}
		if e.validate() != nil || !now.Before(e.ExpiresAt) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return Entry{}, false
	}
	return *best, true
}

// DeleteSession removes every entry of a session and returns how many were
// removed. It is idempotent.
func (s *Store) DeleteSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.Key.SessionID == sessionID {
			delete(s.entries, id)
			removed++
		}
	}
	s.metrics.setSize(len(s.entries))
	return removed
}

// PurgeExpired removes expired entries and returns how many were removed.
func (s *Store) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked(s.now())
}

// Len returns the number of stored entries, including expired ones not yet
// purged.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Size:      len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// Caller must hold the write lock.
func (s *Store) miss(reason string) {
	s.misses++
	s.metrics.recordMiss(reason)
}

// Caller must hold the write lock.
func (s *Store) drop(id string) {
	delete(s.entries, id)
	s.metrics.setSize(len(s.entries))
}

// Caller must hold the write lock.
func (s *Store) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.setSize(len(s.entries))
	}
	return removed
}

// evictOldestLocked removes the entry created first. Caller must hold the
// write lock.
func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
		first    = true
	)
	for id, e := range s.entries {
		if first || e.CreatedAt.Before(oldest) || (e.CreatedAt.Equal(oldest) && id < oldestID) {
			oldestID, oldest, first = id, e.CreatedAt, false
		}
	}
	if first {
		return
	}
	delete(s.entries, oldestID)
	s.evictions++
	s.metrics.recordEviction()
}
