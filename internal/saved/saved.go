// Package saved owns the saved-analyses operations on top of the storage
// layer: the idempotent save flow, listing, and the soft-delete undo
// protocol.
package saved

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkovacs/salespanel/internal/engine"
	"github.com/mkovacs/salespanel/internal/storage"
	"github.com/mkovacs/salespanel/internal/webdomain"
)

// ErrSaveLimit is returned when a free-plan user already holds the maximum
// number of saved analyses.
var ErrSaveLimit = errors.New("saved-analyses limit reached")

// ErrBusy is returned when the save flow needed a homepage analysis but the
// analysis slot was occupied.
var ErrBusy = errors.New("analysis already in progress")

// Store wraps the persistence layer with the package's view of it.
type Store struct {
	db *storage.Store
}

func NewStore(db *storage.Store) *Store {
	return &Store{db: db}
}

func (s *Store) Create(a storage.SavedAnalysis) error {
	return s.db.CreateSavedAnalysis(a)
}

func (s *Store) Get(id string) (storage.SavedAnalysis, error) {
	return s.db.GetSavedAnalysis(id)
}

func (s *Store) GetByDomain(userID, domain string) (storage.SavedAnalysis, error) {
	return s.db.GetSavedAnalysisByDomain(userID, domain)
}

func (s *Store) Update(a storage.SavedAnalysis) error {
	return s.db.UpdateSavedAnalysis(a)
}

func (s *Store) Delete(userID, id string) error {
	return s.db.DeleteSavedAnalysis(userID, id)
}

func (s *Store) Count(userID string) (int, error) {
	return s.db.CountSavedAnalyses(userID)
}

func (s *Store) List(userID string, f storage.ListFilter) ([]storage.SavedAnalysis, error) {
	return s.db.ListSavedAnalyses(userID, f)
}

// SaveResult reports how a save request resolved.
type SaveResult struct {
	Record storage.SavedAnalysis
	// AlreadySaved is true when a record for (user, domain) existed before
	// the call, including the duplicate-insert race.
	AlreadySaved bool
}

// Saver runs the save flow. Only homepage analyses are persisted as saved
// records, so saving from a subpage first re-enters the analysis pipeline
// with the homepage as the override target.
type Saver struct {
	Store  *Store
	Runner *engine.Runner
	Logger *slog.Logger

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *Saver) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Saver) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Save persists the analysis of req's page for the user. The lookup runs
// before the insert so a repeat save is a no-op, and a duplicate-key insert
// loss in a race resolves the same way.
func (s *Saver) Save(ctx context.Context, req engine.Request) (SaveResult, error) {
	url := req.TabURL
	if req.OverrideURL != "" {
		url = req.OverrideURL
	}
	rootDomain := webdomain.RootDomain(webdomain.Hostname(url))
	if rootDomain == "" {
		return SaveResult{}, fmt.Errorf("cannot save: no domain in %q", url)
	}

	existing, err := s.Store.GetByDomain(req.UserID, rootDomain)
	if err == nil {
		return SaveResult{Record: existing, AlreadySaved: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return SaveResult{}, fmt.Errorf("looking up saved record: %w", err)
	}

	// The gate degrades to the free-plan defaults when the remote quota was
	// never fetched, so a fresh daemon still enforces the saved-item limit.
	if q := s.Runner.Quota.Refresh(ctx, req.Token, false); q.IsFree() && q.MaxSaved > 0 {
		count, err := s.Store.Count(req.UserID)
		if err != nil {
			return SaveResult{}, fmt.Errorf("counting saved records: %w", err)
		}
		if count >= q.MaxSaved {
			return SaveResult{}, ErrSaveLimit
		}
	}

	// Only the homepage analysis is canonical; a subpage save fetches it
	// first via the override re-entry.
	if !webdomain.IsHomepage(url) {
		req.OverrideURL = webdomain.Origin(url)
		s.logger().Debug("saving from subpage, analyzing homepage first", "homepage", req.OverrideURL)
	}

	out := s.Runner.Run(ctx, req)
	switch out.Status {
	case engine.StatusDone, engine.StatusReused:
		// Carry on to the insert.
	case engine.StatusSkipped:
		return SaveResult{}, ErrBusy
	case engine.StatusBlocked:
		return SaveResult{}, fmt.Errorf("homepage analysis blocked: %s", out.Reason)
	default:
		return SaveResult{}, fmt.Errorf("homepage analysis failed: %w", out.Err)
	}

	rec, err := engine.RecordFromOutcome(req.UserID, out, s.now())
	if err != nil {
		return SaveResult{}, err
	}

	if err := s.Store.Create(rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with another save of the same domain.
			if existing, lerr := s.Store.GetByDomain(req.UserID, rootDomain); lerr == nil {
				return SaveResult{Record: existing, AlreadySaved: true}, nil
			}
			return SaveResult{Record: rec, AlreadySaved: true}, nil
		}
		return SaveResult{}, fmt.Errorf("inserting saved record: %w", err)
	}
	return SaveResult{Record: rec}, nil
}
