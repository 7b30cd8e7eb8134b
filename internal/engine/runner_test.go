package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/cache"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
	"github.com/mkovacs/salespanel/internal/session"
	"github.com/mkovacs/salespanel/internal/storage"
)

type fakeExtractor struct {
	mu       sync.Mutex
	contents map[string]*extract.Content
	errs     map[string]error
	calls    int
	block    chan struct{} // when set, Extract waits for it
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (*extract.Content, error) {
	f.mu.Lock()
	f.calls++
	blocker := f.block
	f.mu.Unlock()
	if blocker != nil {
		select {
		case <-blocker:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if c, ok := f.contents[url]; ok {
		return c, nil
	}
	return nil, errors.New("no fixture for " + url)
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	resp  *analyzer.Response
	queue []*analyzer.Response // served in order before resp, when non-empty
	err   error
	calls int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, token string, req analyzer.Request) (*analyzer.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		return next, nil
	}
	return f.resp, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQuota struct {
	mu   sync.Mutex
	snap quota.Snapshot
}

func (f *fakeQuota) Refresh(ctx context.Context, token string, force bool) quota.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeQuota) Apply(s quota.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

type fakeSaved struct {
	mu      sync.Mutex
	records map[string]storage.SavedAnalysis // keyed by userID+"|"+domain
	updates []storage.SavedAnalysis
}

func newFakeSaved() *fakeSaved {
	return &fakeSaved{records: make(map[string]storage.SavedAnalysis)}
}

func (f *fakeSaved) GetByDomain(userID, domain string) (storage.SavedAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID+"|"+domain]
	if !ok {
		return storage.SavedAnalysis{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeSaved) Update(a storage.SavedAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, a)
	f.records[a.UserID+"|"+a.Domain] = a
	return nil
}

func (f *fakeSaved) put(a storage.SavedAnalysis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[a.UserID+"|"+a.Domain] = a
}

func (f *fakeSaved) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func acmeContent(url string) *extract.Content {
	return &extract.Content{
		URL:             url,
		Title:           "Acme",
		MetaDescription: "Widget maker",
		Headings:        []string{"Widgets for all"},
		Paragraphs:      []string{"Acme makes precision widgets for factories around the world."},
	}
}

func okAnalysis() *analyzer.Response {
	return &analyzer.Response{
		Analysis: &analyzer.Result{
			WhatTheyDo:          "Builds widgets",
			SalesReadinessScore: 70,
			BestSalesPersona:    analyzer.PersonaPick{Persona: "Mid-Market AE"},
		},
		Quota: &quota.Snapshot{Plan: "free", RemainingToday: 4, DailyLimit: 5, MaxSaved: 3},
	}
}

type testRig struct {
	runner    *Runner
	extractor *fakeExtractor
	analyzer  *fakeAnalyzer
	quota     *fakeQuota
	saved     *fakeSaved
	cache     *cache.Store
	session   *session.State
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rig := &testRig{
		extractor: &fakeExtractor{contents: map[string]*extract.Content{}, errs: map[string]error{}},
		analyzer:  &fakeAnalyzer{resp: okAnalysis()},
		quota:     &fakeQuota{snap: quota.Snapshot{Plan: "free", RemainingToday: 5, DailyLimit: 5, MaxSaved: 3}},
		saved:     newFakeSaved(),
		cache:     cache.New(db, nil),
		session:   &session.State{},
	}
	rig.runner = &Runner{
		Extractor: rig.extractor,
		Cache:     rig.cache,
		Saved:     rig.saved,
		Quota:     rig.quota,
		Analyzer:  rig.analyzer,
		Session:   rig.session,
		Settings:  Settings{ReanalysisMode: ReanalysisModeContentChange},
	}
	return rig
}

// End-to-end scenario: new domain, no cache, no persisted record.
func TestRunFreshAnalysis(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	rig.extractor.contents[url] = acmeContent(url)

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusDone {
		t.Fatalf("status = %s (reason=%s err=%v), want done", out.Status, out.Reason, out.Err)
	}
	if out.Analysis == nil || out.Analysis.WhatTheyDo != "Builds widgets" {
		t.Errorf("analysis missing: %+v", out.Analysis)
	}
	if out.Quota.RemainingToday != 4 {
		t.Errorf("quota from response not applied: %+v", out.Quota)
	}

	// Both cache entries written.
	if e, _ := rig.cache.GetURL(url); e == nil {
		t.Error("URL cache entry not written")
	} else if e.ContentHash == "" {
		t.Error("URL cache entry missing content hash")
	}
	if e, _ := rig.cache.GetDomain("acme.com"); e == nil {
		t.Error("domain cache entry not written")
	}

	// Analyzed-today flag set.
	if ok, _ := rig.cache.WasAnalyzedToday("acme.com"); !ok {
		t.Error("analyzed-today flag not set")
	}

	// Session points at the new analysis.
	snap := rig.session.Snapshot()
	if snap.LastAnalyzedDomain != "acme.com" {
		t.Errorf("lastAnalyzedDomain = %q, want acme.com", snap.LastAnalyzedDomain)
	}
	if snap.LastContentHash == "" || snap.LastURL != url {
		t.Errorf("session reference incomplete: %+v", snap)
	}
}

// Reuse correctness: a persisted record matching hash and URL short-circuits
// the remote call.
func TestRunReusesPersistedRecord(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	content := acmeContent(url)
	rig.extractor.contents[url] = content

	rig.saved.put(storage.SavedAnalysis{
		ID:          "sa-1",
		UserID:      "u1",
		Domain:      "acme.com",
		URL:         url,
		ContentHash: content.Fingerprint(),
		WhatTheyDo:  "From the record",
	})

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusReused || out.ReuseSource != "record" {
		t.Fatalf("status = %s/%s, want reused/record", out.Status, out.ReuseSource)
	}
	if rig.analyzer.callCount() != 0 {
		t.Errorf("remote analyzer called %d times, want 0", rig.analyzer.callCount())
	}
	if out.Analysis.WhatTheyDo != "From the record" {
		t.Errorf("analysis not populated from record: %+v", out.Analysis)
	}
	if rig.session.Snapshot().LastAnalyzedDomain != "acme.com" {
		t.Error("lastAnalyzedDomain not stamped on reuse")
	}
}

func TestRunReusesCacheEntry(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/pricing"
	rig.extractor.contents[url] = acmeContent(url)

	rig.cache.SetURL(url, cache.Entry{
		Analysis: analyzer.Result{WhatTheyDo: "From the cache"},
		Meta:     extract.Meta{URL: url, Domain: "acme.com", Title: "Acme"},
	})

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusReused || out.ReuseSource != "cache" {
		t.Fatalf("status = %s/%s, want reused/cache", out.Status, out.ReuseSource)
	}
	if rig.analyzer.callCount() != 0 {
		t.Error("remote analyzer must not be called on cache reuse")
	}
}

// A cache entry whose stored URL differs from the current URL is not
// eligible for reuse.
func TestRunIgnoresMismatchedCacheEntry(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/pricing"
	rig.extractor.contents[url] = acmeContent(url)

	rig.cache.SetURL(url, cache.Entry{
		Analysis: analyzer.Result{WhatTheyDo: "Stale"},
		Meta:     extract.Meta{URL: "https://acme.com/other", Domain: "acme.com"},
	})

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusDone {
		t.Fatalf("status = %s, want done (fresh analysis)", out.Status)
	}
	if rig.analyzer.callCount() != 1 {
		t.Errorf("analyzer calls = %d, want 1", rig.analyzer.callCount())
	}
}

// Navigation dedup: same domain, same URL, same fingerprint, not forced →
// refresh prompt, no analysis and no reuse.
func TestRunNavigationDedup(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	rig.extractor.contents[url] = acmeContent(url)

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusDone {
		t.Fatalf("first run status = %s", out.Status)
	}

	// Second visit to the identical page: cache now holds the entry, but
	// reuse requires meta.url match which holds, so it reuses. Wipe the
	// cache to exercise the dedup path itself.
	rig.cache.ClearAll()

	out = rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusBlocked || out.Reason != BlockRefreshPrompt {
		t.Fatalf("status = %s/%s, want blocked/REFRESH_PROMPT", out.Status, out.Reason)
	}
	if rig.analyzer.callCount() != 1 {
		t.Errorf("analyzer calls = %d, want 1 (no re-analysis)", rig.analyzer.callCount())
	}

	// The blocked contract clears the session reference, so a third visit
	// looks new and analyzes again.
	if rig.session.Snapshot().LastAnalyzedDomain != "" {
		t.Error("blocked state must clear lastAnalyzedDomain")
	}
}

func TestRunForceRefreshBypassesReuse(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	content := acmeContent(url)
	rig.extractor.contents[url] = content

	rig.saved.put(storage.SavedAnalysis{
		ID: "sa-1", UserID: "u1", Domain: "acme.com",
		URL: url, ContentHash: content.Fingerprint(),
	})

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url, ForceRefresh: true})
	if out.Status != StatusDone {
		t.Fatalf("status = %s, want done", out.Status)
	}
	if rig.analyzer.callCount() != 1 {
		t.Errorf("forced refresh must call the analyzer, calls = %d", rig.analyzer.callCount())
	}
}

func TestRunSignedOutSkips(t *testing.T) {
	rig := newRig(t)
	out := rig.runner.Run(context.Background(), Request{UserID: "u1", TabURL: "https://acme.com/"})
	if out.Status != StatusSkipped {
		t.Errorf("status = %s, want skipped", out.Status)
	}
	if rig.extractor.calls != 0 {
		t.Error("signed-out run must not extract")
	}
}

func TestRunQuotaExhaustedBlocks(t *testing.T) {
	rig := newRig(t)
	rig.quota.snap = quota.Snapshot{Plan: "free", RemainingToday: 0, DailyLimit: 5}

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: "https://acme.com/"})
	if out.Status != StatusBlocked || out.Reason != BlockLimitReached {
		t.Fatalf("status = %s/%s, want blocked/LIMIT_REACHED", out.Status, out.Reason)
	}
	if rig.extractor.calls != 0 {
		t.Error("quota block must short-circuit before extraction")
	}
}

func TestRunPaidPlanIgnoresRemainingToday(t *testing.T) {
	rig := newRig(t)
	rig.quota.snap = quota.Snapshot{Plan: "pro", RemainingToday: 0}
	rig.extractor.contents["https://acme.com/"] = acmeContent("https://acme.com/")

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: "https://acme.com/"})
	if out.Status != StatusDone {
		t.Errorf("paid plan should not hit the free limit, got %s/%s", out.Status, out.Reason)
	}
}

func TestRunRestrictedURL(t *testing.T) {
	rig := newRig(t)
	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: "chrome://settings"})
	if out.Status != StatusBlocked || out.Reason != BlockRestricted {
		t.Fatalf("status = %s/%s, want blocked/RESTRICTED", out.Status, out.Reason)
	}
}

func TestRunThinContentOffersHomepageFallback(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/legal/terms"
	rig.extractor.errs[url] = &extract.BlockedError{Reason: extract.ReasonThinContent}

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusBlocked || out.Reason != BlockThinContent {
		t.Fatalf("status = %s/%s, want blocked/THIN_CONTENT", out.Status, out.Reason)
	}
	if out.HomepageFallback != "https://acme.com/" {
		t.Errorf("homepage fallback = %q", out.HomepageFallback)
	}

	// Fallback re-entry analyzes the homepage via the override URL.
	home := "https://acme.com/"
	rig.extractor.contents[home] = acmeContent(home)
	out = rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url, OverrideURL: out.HomepageFallback})
	if out.Status != StatusDone {
		t.Fatalf("fallback run status = %s", out.Status)
	}
	if out.Meta.URL != home {
		t.Errorf("fallback analyzed %q, want homepage", out.Meta.URL)
	}
}

func TestRunExtractionFailureIsRetryable(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	rig.extractor.errs[url] = errors.New("connection refused")

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusFailed || out.Err == nil {
		t.Fatalf("status = %s err=%v, want failed with error", out.Status, out.Err)
	}
}

func TestRunBackendBlockedShowsLimit(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	rig.extractor.contents[url] = acmeContent(url)
	rig.analyzer.resp = &analyzer.Response{Blocked: true, Quota: &quota.Snapshot{Plan: "free", RemainingToday: 0}}

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusBlocked || out.Reason != BlockLimitReached {
		t.Fatalf("status = %s/%s, want blocked/LIMIT_REACHED", out.Status, out.Reason)
	}
	// The response's quota snapshot was applied before blocking.
	if rig.quota.snap.RemainingToday != 0 {
		t.Errorf("quota snapshot not applied: %+v", rig.quota.snap)
	}
}

func TestRunEmptyAnalysisFails(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	rig.extractor.contents[url] = acmeContent(url)
	rig.analyzer.resp = &analyzer.Response{}

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
}

// Homepage-only persisted update: a subpage analysis must not touch the
// saved homepage record; a homepage analysis must.
func TestRunHomepageOnlyRecordUpdate(t *testing.T) {
	rig := newRig(t)
	home := "https://acme.com/"
	sub := "https://acme.com/blog/post"
	rig.extractor.contents[home] = acmeContent(home)
	subContent := acmeContent(sub)
	subContent.Title = "Acme Blog"
	rig.extractor.contents[sub] = subContent

	rig.saved.put(storage.SavedAnalysis{
		ID: "sa-1", UserID: "u1", Domain: "acme.com",
		URL: home, ContentHash: "old-hash", WhatTheyDo: "Original",
	})

	// Subpage analysis: record untouched.
	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: sub})
	if out.Status != StatusDone {
		t.Fatalf("subpage run status = %s", out.Status)
	}
	if rig.saved.updateCount() != 0 {
		t.Fatalf("subpage analysis updated the saved record")
	}

	// Homepage analysis (forced, since reuse would not trigger: hash
	// differs): record updated.
	out = rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: home, ForceRefresh: true})
	if out.Status != StatusDone {
		t.Fatalf("homepage run status = %s", out.Status)
	}
	if rig.saved.updateCount() != 1 {
		t.Fatalf("homepage analysis must update the saved record")
	}
	rec, _ := rig.saved.GetByDomain("u1", "acme.com")
	if rec.WhatTheyDo != "Builds widgets" {
		t.Errorf("record fields not refreshed: %+v", rec)
	}
	if rec.ID != "sa-1" {
		t.Errorf("record identity changed: %+v", rec)
	}
	if !rec.CreatedAt.IsZero() {
		t.Errorf("merge must not touch created_at, got %v", rec.CreatedAt)
	}
}

func TestRunBusyGuard(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"
	rig.extractor.contents[url] = acmeContent(url)

	blocker := make(chan struct{})
	rig.extractor.block = blocker

	done := make(chan Outcome, 1)
	go func() {
		done <- rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	}()

	// Wait until the first run holds the slot.
	deadline := time.After(2 * time.Second)
	for !rig.session.Loading() {
		select {
		case <-deadline:
			t.Fatal("first run never claimed the slot")
		case <-time.After(time.Millisecond):
		}
	}

	// A concurrent non-forced run is declined.
	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url})
	if out.Status != StatusSkipped {
		t.Fatalf("concurrent run status = %s, want skipped", out.Status)
	}

	close(blocker)
	first := <-done
	if first.Status != StatusDone {
		t.Fatalf("first run status = %s", first.Status)
	}
}

func TestRunForcedTakeoverDropsStaleResult(t *testing.T) {
	rig := newRig(t)
	staleURL := "https://acme.com/"
	freshURL := "https://beta.com/"
	rig.extractor.contents[staleURL] = acmeContent(staleURL)
	rig.extractor.contents[freshURL] = &extract.Content{
		URL:             freshURL,
		Title:           "Beta",
		MetaDescription: "Analytics platform",
		Paragraphs:      []string{"Beta builds analytics dashboards for operations teams."},
	}
	// The forced run's remote call lands first, then the superseded run's.
	rig.analyzer.queue = []*analyzer.Response{
		{Analysis: &analyzer.Result{WhatTheyDo: "FRESH"}},
		{Analysis: &analyzer.Result{WhatTheyDo: "STALE"}},
	}

	blocker := make(chan struct{})
	rig.extractor.block = blocker

	done := make(chan Outcome, 1)
	go func() {
		done <- rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: staleURL})
	}()

	deadline := time.After(2 * time.Second)
	for !rig.session.Loading() {
		select {
		case <-deadline:
			t.Fatal("first run never claimed the slot")
		case <-time.After(time.Millisecond):
		}
	}

	// Forced run supersedes the first; let it complete immediately.
	rig.extractor.mu.Lock()
	rig.extractor.block = nil
	rig.extractor.mu.Unlock()
	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: freshURL, ForceRefresh: true})
	if out.Status != StatusDone {
		t.Fatalf("forced run status = %s", out.Status)
	}

	// The superseded run finishes late; its completion is stale and none of
	// its side effects may land.
	close(blocker)
	first := <-done
	if first.Status != StatusSkipped {
		t.Errorf("stale run status = %s, want skipped", first.Status)
	}

	snap := rig.session.Snapshot()
	if snap.LastAnalysis == nil || snap.LastAnalysis.WhatTheyDo != "FRESH" {
		t.Errorf("stale run clobbered session analysis: %+v", snap.LastAnalysis)
	}
	if snap.LastURL != freshURL || snap.LastAnalyzedDomain != "beta.com" {
		t.Errorf("stale run clobbered session reference: url=%q domain=%q", snap.LastURL, snap.LastAnalyzedDomain)
	}
	if e, _ := rig.cache.GetURL(staleURL); e != nil {
		t.Errorf("stale run wrote URL cache entry: %+v", e)
	}
	if ok, _ := rig.cache.WasAnalyzedToday("acme.com"); ok {
		t.Error("stale run marked its domain analyzed today")
	}
}

func TestDecideTable(t *testing.T) {
	url := "https://acme.com/"
	fp := "fp-1"
	rec := &storage.SavedAnalysis{URL: url, ContentHash: fp}
	entry := &cache.Entry{Meta: extract.Meta{URL: url}}

	tests := []struct {
		name string
		in   DecisionInput
		want Action
	}{
		{
			name: "record match reuses",
			in:   DecisionInput{URL: url, Fingerprint: fp, Existing: rec, ReanalysisMode: ReanalysisModeContentChange},
			want: ActionReuseRecord,
		},
		{
			name: "record hash mismatch falls through to cache",
			in: DecisionInput{URL: url, Fingerprint: "other", Existing: rec, Cached: entry,
				ReanalysisMode: ReanalysisModeContentChange},
			want: ActionReuseCache,
		},
		{
			name: "record URL mismatch falls through",
			in: DecisionInput{URL: "https://acme.com/sub", Fingerprint: fp,
				Existing: rec, ReanalysisMode: ReanalysisModeContentChange},
			want: ActionAnalyze,
		},
		{
			name: "always mode never reuses",
			in:   DecisionInput{URL: url, Fingerprint: fp, Existing: rec, Cached: entry, ReanalysisMode: ReanalysisModeAlways},
			want: ActionAnalyze,
		},
		{
			name: "force bypasses reuse and dedup",
			in: DecisionInput{URL: url, Fingerprint: fp, Existing: rec, ForceRefresh: true,
				ReanalysisMode: ReanalysisModeContentChange,
				Previous:       Previous{URL: url, ContentHash: fp, AnalyzedDomain: "acme.com"}},
			want: ActionAnalyze,
		},
		{
			name: "identical navigation dedups",
			in: DecisionInput{URL: url, Fingerprint: fp, ReanalysisMode: ReanalysisModeContentChange,
				Previous: Previous{URL: url, ContentHash: fp, AnalyzedDomain: "acme.com"}},
			want: ActionRefreshPrompt,
		},
		{
			name: "new URL on same domain analyzes",
			in: DecisionInput{URL: "https://acme.com/pricing", Fingerprint: fp,
				ReanalysisMode: ReanalysisModeContentChange,
				Previous:       Previous{URL: url, ContentHash: fp, AnalyzedDomain: "acme.com"}},
			want: ActionAnalyze,
		},
		{
			name: "content change on same URL analyzes",
			in: DecisionInput{URL: url, Fingerprint: "fp-2", ReanalysisMode: ReanalysisModeContentChange,
				Previous: Previous{URL: url, ContentHash: fp, AnalyzedDomain: "acme.com"}},
			want: ActionAnalyze,
		},
		{
			name: "no previous fingerprint still dedups on same URL",
			in: DecisionInput{URL: url, Fingerprint: fp, ReanalysisMode: ReanalysisModeContentChange,
				Previous: Previous{URL: url, AnalyzedDomain: "acme.com"}},
			want: ActionRefreshPrompt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.in); got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

// Extension-supplied content skips the daemon-side fetch but still goes
// through the contract checks.
func TestRunWithSuppliedContent(t *testing.T) {
	rig := newRig(t)
	url := "https://acme.com/"

	supplied := &extract.Content{
		Title:           "Acme",
		MetaDescription: "Precision widgets for industrial assembly lines",
		Headings:        []string{"Widgets for all", "Trusted by factories"},
		Paragraphs: []string{
			"Acme makes precision widgets for factories around the world, with tolerances measured in microns and lead times measured in days rather than weeks.",
			"Our widget line covers stamping, milling, and finishing, so assembly teams source everything from one vendor instead of juggling three suppliers per part.",
			"Every batch ships with a calibration report, and our field engineers visit customer plants to tune their lines for the new parts.",
		},
	}

	out := rig.runner.Run(context.Background(), Request{UserID: "u1", Token: "tok", TabURL: url, Extracted: supplied})
	if out.Status != StatusDone {
		t.Fatalf("status = %s (reason=%s err=%v), want done", out.Status, out.Reason, out.Err)
	}
	if rig.extractor.calls != 0 {
		t.Errorf("daemon-side extractor called %d times, want 0", rig.extractor.calls)
	}
	if out.Meta == nil || out.Meta.URL != url {
		t.Errorf("meta URL = %+v, want %s", out.Meta, url)
	}
}

func TestRunSuppliedThinContentBlocks(t *testing.T) {
	rig := newRig(t)

	out := rig.runner.Run(context.Background(), Request{
		UserID:    "u1",
		Token:     "tok",
		TabURL:    "https://acme.com/contact",
		Extracted: &extract.Content{Title: "Contact"},
	})
	if out.Status != StatusBlocked || out.Reason != BlockThinContent {
		t.Fatalf("status = %s/%s, want blocked/THIN_CONTENT", out.Status, out.Reason)
	}
	if out.HomepageFallback != "https://acme.com/" {
		t.Errorf("homepageFallback = %q, want https://acme.com/", out.HomepageFallback)
	}
}
