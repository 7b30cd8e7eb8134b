// Package session holds the process-wide state the decision engine uses to
// correlate sequential navigation events. All access goes through the
// accessors here; nothing else mutates it.
//
// Reset contract: Reset is called on sign-out; ClearAnalysis is called on
// every entry into a blocked view so the next extraction starts clean.
package session

import (
	"sync"

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
)

// State is the in-memory session state. Zero value is ready to use.
type State struct {
	mu sync.Mutex

	lastAnalysis       *analyzer.Result
	lastExtractedMeta  *extract.Meta
	lastContentHash    string
	lastURL            string
	lastAnalyzedDomain string

	quota quota.Snapshot

	loading    bool
	generation uint64
}

// Snapshot is a point-in-time copy of the analysis-related fields. Readers
// must treat it as a snapshot; it does not track later mutations.
type Snapshot struct {
	LastAnalysis       *analyzer.Result
	LastExtractedMeta  *extract.Meta
	LastContentHash    string
	LastURL            string
	LastAnalyzedDomain string
	Quota              quota.Snapshot
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LastAnalysis:       s.lastAnalysis,
		LastExtractedMeta:  s.lastExtractedMeta,
		LastContentHash:    s.lastContentHash,
		LastURL:            s.lastURL,
		LastAnalyzedDomain: s.lastAnalyzedDomain,
		Quota:              s.quota,
	}
}

// RecordAnalysis stores a completed (or reused) analysis as the new point
// of reference for staleness decisions.
func (s *State) RecordAnalysis(res *analyzer.Result, meta *extract.Meta, contentHash, url, domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnalysis = res
	s.lastExtractedMeta = meta
	s.lastContentHash = contentHash
	s.lastURL = url
	s.lastAnalyzedDomain = domain
}

// ClearAnalysis wipes the analysis reference fields. Every blocked view
// entry goes through here.
func (s *State) ClearAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnalysis = nil
	s.lastExtractedMeta = nil
	s.lastContentHash = ""
	s.lastURL = ""
	s.lastAnalyzedDomain = ""
}

// Reset clears everything, including quota state. Called on sign-out.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAnalysis = nil
	s.lastExtractedMeta = nil
	s.lastContentHash = ""
	s.lastURL = ""
	s.lastAnalyzedDomain = ""
	s.quota = quota.Snapshot{}
	s.loading = false
}

// SetQuota applies a quota snapshot.
func (s *State) SetQuota(q quota.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = q
}

// Quota returns the last applied quota snapshot.
func (s *State) Quota() quota.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota
}

// BeginRun attempts to claim the single analysis slot. It fails when a run
// is already in flight and force is false. On success it returns the new
// generation number; completions from older generations must be dropped.
func (s *State) BeginRun(force bool) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading && !force {
		return 0, false
	}
	s.loading = true
	s.generation++
	return s.generation, true
}

// EndRun releases the slot if gen is still the current generation. A stale
// generation's completion is ignored.
func (s *State) EndRun(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.loading = false
	return true
}

// Loading reports whether a run currently holds the slot.
func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}
