// Package engine decides, for each tab navigation or manual refresh, whether
// to reuse a previous analysis, block, or call the remote analyzer.
package engine

import (
	"github.com/mkovacs/salespanel/internal/cache"
	"github.com/mkovacs/salespanel/internal/storage"
	"github.com/mkovacs/salespanel/internal/webdomain"
)

// ReanalysisModeContentChange allows reuse of prior analyses until the page
// content changes. The other mode re-analyzes on every navigation.
const (
	ReanalysisModeContentChange = "content-change"
	ReanalysisModeAlways        = "always"
)

// Action is what the engine decided to do with the current extraction.
type Action int

const (
	// ActionAnalyze invokes the remote analyzer.
	ActionAnalyze Action = iota
	// ActionReuseRecord serves the persisted saved record.
	ActionReuseRecord
	// ActionReuseCache serves the local URL-keyed cache entry.
	ActionReuseCache
	// ActionRefreshPrompt stops: nothing changed since the last analysis,
	// the user must refresh explicitly.
	ActionRefreshPrompt
)

func (a Action) String() string {
	switch a {
	case ActionAnalyze:
		return "analyze"
	case ActionReuseRecord:
		return "reuse-record"
	case ActionReuseCache:
		return "reuse-cache"
	case ActionRefreshPrompt:
		return "refresh-prompt"
	}
	return "unknown"
}

// Previous is the point of reference from the session state.
type Previous struct {
	URL            string
	ContentHash    string
	AnalyzedDomain string // root domain of the last analyzed page
}

// DecisionInput collects everything Decide needs. The fingerprint has
// already been computed from the current extraction.
type DecisionInput struct {
	URL         string
	Fingerprint string
	Previous    Previous

	// Existing is the persisted record for (user, root domain), nil if none.
	Existing *storage.SavedAnalysis
	// Cached is the URL-keyed cache entry, nil if none.
	Cached *cache.Entry

	ReanalysisMode string
	ForceRefresh   bool
}

// Decide is the pure reuse/staleness core. Gate checks and extraction
// validity run before it; it only orders reuse, dedup, and analysis.
func Decide(in DecisionInput) Action {
	reuseAllowed := in.ReanalysisMode == ReanalysisModeContentChange && !in.ForceRefresh

	if reuseAllowed {
		if in.Existing != nil && in.Existing.ContentHash == in.Fingerprint && in.Existing.URL == in.URL {
			return ActionReuseRecord
		}
		if in.Cached != nil && in.Cached.Meta.URL == in.URL {
			return ActionReuseCache
		}
	}

	if !in.ForceRefresh {
		isNewRootDomain := webdomain.RootDomain(webdomain.Hostname(in.URL)) != in.Previous.AnalyzedDomain
		isNewURL := in.URL != in.Previous.URL
		// Only meaningful when a previous fingerprint exists.
		contentChanged := in.Previous.ContentHash != "" && in.Fingerprint != in.Previous.ContentHash

		if !isNewRootDomain && !isNewURL && !contentChanged {
			return ActionRefreshPrompt
		}
	}

	return ActionAnalyze
}
