// Package cache implements the local analysis cache: entries keyed by exact
// URL and by root domain, plus the per-domain analyzed-today flag. Entries
// expire after 24 hours and are evicted lazily when read.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/storage"
	"github.com/mkovacs/salespanel/internal/webdomain"
)

// TTL is how long cache entries and analyzed-today flags stay valid.
const TTL = 24 * time.Hour

const (
	urlKeyPrefix      = "analysis_cache:"
	domainKeyPrefix   = "analysis_cache:domain:"
	analyzedKeyPrefix = "domain_analyzed_today:"
)

// Entry is one cached analysis with the page descriptor it came from.
type Entry struct {
	Analysis    analyzer.Result `json:"analysis"`
	Meta        extract.Meta    `json:"meta"`
	ContentHash string          `json:"contentHash,omitempty"`
	Timestamp   time.Time       `json:"-"`
}

// Store layers TTL semantics over the persistent key-value table.
type Store struct {
	db  *storage.Store
	now func() time.Time
}

// New creates a cache store. A nil now falls back to time.Now.
func New(db *storage.Store, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// GetURL returns the entry cached for the exact URL, or nil when absent or
// expired. Expired entries are deleted as a side effect of the read.
func (s *Store) GetURL(url string) (*Entry, error) {
	return s.get(urlKeyPrefix + url)
}

// GetDomain returns the entry cached for the page's root domain, or nil.
func (s *Store) GetDomain(domain string) (*Entry, error) {
	return s.get(domainKeyPrefix + webdomain.RootDomain(domain))
}

func (s *Store) get(key string) (*Entry, error) {
	value, at, err := s.db.GetCacheValue(key)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache key %q: %w", key, err)
	}

	if s.now().Sub(at) > TTL {
		if err := s.db.DeleteCacheValue(key); err != nil {
			return nil, fmt.Errorf("evicting expired key %q: %w", key, err)
		}
		return nil, nil
	}

	var e Entry
	if err := json.Unmarshal([]byte(value), &e); err != nil {
		// A corrupt entry behaves like a miss; drop it.
		s.db.DeleteCacheValue(key)
		return nil, nil
	}
	e.Timestamp = at
	return &e, nil
}

// SetURL caches an entry under the exact URL, stamped at the current time.
func (s *Store) SetURL(url string, e Entry) error {
	return s.set(urlKeyPrefix+url, e)
}

// SetDomain caches an entry under the page's root domain.
func (s *Store) SetDomain(domain string, e Entry) error {
	return s.set(domainKeyPrefix+webdomain.RootDomain(domain), e)
}

func (s *Store) set(key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := s.db.SetCacheValue(key, string(data), s.now()); err != nil {
		return fmt.Errorf("writing cache key %q: %w", key, err)
	}
	return nil
}

// analyzedFlag carries only its own stamp; presence within TTL means true.
type analyzedFlag struct {
	Timestamp int64 `json:"timestamp"`
}

// WasAnalyzedToday reports whether the domain's root was analyzed within the
// last 24 hours. Expired flags are removed on read.
func (s *Store) WasAnalyzedToday(domain string) (bool, error) {
	key := analyzedKeyPrefix + webdomain.RootDomain(domain)
	value, _, err := s.db.GetCacheValue(key)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading analyzed flag: %w", err)
	}

	var flag analyzedFlag
	if err := json.Unmarshal([]byte(value), &flag); err != nil {
		s.db.DeleteCacheValue(key)
		return false, nil
	}
	if s.now().Sub(time.UnixMilli(flag.Timestamp)) >= TTL {
		if err := s.db.DeleteCacheValue(key); err != nil {
			return false, fmt.Errorf("evicting analyzed flag: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// MarkAnalyzedToday upserts the analyzed-today flag for the domain's root.
func (s *Store) MarkAnalyzedToday(domain string) error {
	key := analyzedKeyPrefix + webdomain.RootDomain(domain)
	now := s.now()
	data, err := json.Marshal(analyzedFlag{Timestamp: now.UnixMilli()})
	if err != nil {
		return err
	}
	if err := s.db.SetCacheValue(key, string(data), now); err != nil {
		return fmt.Errorf("writing analyzed flag: %w", err)
	}
	return nil
}

// ClearAll removes every cache entry and analyzed-today flag, regardless of
// age. Used by the explicit user action.
func (s *Store) ClearAll() error {
	return s.db.ClearCache()
}

// EvictExpired removes entries older than the TTL in one pass. Run at
// startup; steady-state eviction stays lazy.
func (s *Store) EvictExpired() (int64, error) {
	return s.db.DeleteCacheValuesOlderThan(s.now().Add(-TTL))
}
