package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/cache"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
	"github.com/mkovacs/salespanel/internal/session"
	"github.com/mkovacs/salespanel/internal/storage"
	"github.com/mkovacs/salespanel/internal/webdomain"
)

// Status classifies the outcome of one pipeline run.
type Status string

const (
	// StatusDone means a fresh analysis completed and was cached.
	StatusDone Status = "done"
	// StatusReused means a prior analysis was served with no remote call.
	StatusReused Status = "reused"
	// StatusBlocked is a designed stop: restricted page, thin content,
	// quota limit, or nothing-changed refresh prompt.
	StatusBlocked Status = "blocked"
	// StatusFailed is a transient failure the user can retry.
	StatusFailed Status = "failed"
	// StatusSkipped means the run never started (no session, slot busy) or
	// finished stale and its results were dropped.
	StatusSkipped Status = "skipped"
)

// Block reasons carried by StatusBlocked outcomes.
const (
	BlockRestricted    = "RESTRICTED"
	BlockThinContent   = "THIN_CONTENT"
	BlockLimitReached  = "LIMIT_REACHED"
	BlockRefreshPrompt = "REFRESH_PROMPT"
)

// Request is one invocation of the pipeline.
type Request struct {
	UserID string
	// Token authenticates against the remote analysis and quota APIs.
	// Empty means signed out; the run aborts silently.
	Token string
	// TabURL is the active tab's URL.
	TabURL string
	// OverrideURL, when set, replaces TabURL. Used by the homepage-fallback
	// re-entry and by the save flow's homepage analysis.
	OverrideURL string
	// ForceRefresh is set only by the explicit user refresh action. It
	// bypasses reuse, dedup, and the busy guard.
	ForceRefresh bool
	// Extracted, when set, is content the extension's in-page script already
	// pulled from the tab. It skips the daemon-side fetch but still goes
	// through the extraction contract checks.
	Extracted *extract.Content
}

// Outcome reports what one run did.
type Outcome struct {
	Status Status
	// Reason is set for StatusBlocked.
	Reason string
	// ReuseSource is "record" or "cache" for StatusReused.
	ReuseSource string
	// HomepageFallback carries the origin a blocked view may offer as a
	// re-entry target.
	HomepageFallback string
	// Err carries detail for StatusFailed.
	Err error

	Analysis    *analyzer.Result
	Meta        *extract.Meta
	ContentHash string
	Quota       quota.Snapshot
}

// SavedStore is the slice of the saved-analyses store the engine needs.
type SavedStore interface {
	GetByDomain(userID, domain string) (storage.SavedAnalysis, error)
	Update(a storage.SavedAnalysis) error
}

// AnalyzerClient calls the remote analysis service.
type AnalyzerClient interface {
	Analyze(ctx context.Context, token string, req analyzer.Request) (*analyzer.Response, error)
}

// QuotaGate is the slice of the quota gate the engine needs.
type QuotaGate interface {
	Refresh(ctx context.Context, token string, force bool) quota.Snapshot
	Apply(s quota.Snapshot)
}

// Settings are the user-configurable knobs the engine honors.
type Settings struct {
	// ReanalysisMode is ReanalysisModeContentChange or ReanalysisModeAlways.
	ReanalysisMode string
	// InternalDomains are the product's own hosts; analyses of them are
	// flagged so the backend can skip quota charges.
	InternalDomains []string
}

// Runner wires the decision core to its collaborators and owns the
// single-slot execution guard.
type Runner struct {
	Extractor extract.Extractor
	Cache     *cache.Store
	Saved     SavedStore
	Quota     QuotaGate
	Analyzer  AnalyzerClient
	Session   *session.State
	Settings  Settings
	Logger    *slog.Logger

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes the full pipeline for one navigation or refresh event.
func (r *Runner) Run(ctx context.Context, req Request) Outcome {
	// Gate: no authenticated session aborts silently.
	if req.Token == "" {
		r.logger().Debug("skipping run: no session")
		return Outcome{Status: StatusSkipped}
	}

	// Gate: quota. The refresh is TTL-bounded; failures degrade inside the
	// gate and never stop the run by themselves.
	snap := r.Quota.Refresh(ctx, req.Token, false)
	r.Session.SetQuota(snap)
	if snap.IsFree() && snap.RemainingToday <= 0 {
		return r.block(Outcome{Status: StatusBlocked, Reason: BlockLimitReached, Quota: snap})
	}

	// Gate: single analysis slot. A non-forced run declines to start while
	// another is in flight.
	gen, ok := r.Session.BeginRun(req.ForceRefresh)
	if !ok {
		r.logger().Debug("skipping run: analysis already in progress")
		return Outcome{Status: StatusSkipped}
	}

	return r.run(ctx, req, gen)
}

// settle releases the run slot for gen. A superseded run's outcome is
// dropped and apply never fires, so none of its side effects land after a
// forced takeover has already applied fresher results.
func (r *Runner) settle(gen uint64, out Outcome, apply func()) Outcome {
	if !r.Session.EndRun(gen) {
		r.logger().Debug("dropping stale run result", "generation", gen)
		return Outcome{Status: StatusSkipped}
	}
	if apply != nil {
		apply()
	}
	return out
}

func (r *Runner) run(ctx context.Context, req Request, gen uint64) Outcome {
	url := req.TabURL
	if req.OverrideURL != "" {
		url = req.OverrideURL
	}

	// Extraction validity.
	if url == "" || webdomain.IsRestricted(url) {
		return r.settle(gen, Outcome{Status: StatusBlocked, Reason: BlockRestricted}, r.Session.ClearAnalysis)
	}

	content, err := r.extractContent(ctx, url, req.Extracted)
	if err != nil {
		if reason := extract.BlockReason(err); reason != "" {
			out := Outcome{Status: StatusBlocked, Reason: reason}
			if !webdomain.IsHomepage(url) {
				out.HomepageFallback = webdomain.Origin(url)
			}
			return r.settle(gen, out, r.Session.ClearAnalysis)
		}
		return r.settle(gen, Outcome{Status: StatusFailed, Err: fmt.Errorf("extraction failed: %w", err)}, nil)
	}

	hostname := webdomain.Hostname(url)
	rootDomain := webdomain.RootDomain(hostname)

	// The fingerprint is computed before any lookup that depends on it.
	fp := content.Fingerprint()

	existing, err := r.existingRecord(req.UserID, rootDomain)
	if err != nil {
		r.logger().Warn("saved-record lookup failed", "domain", rootDomain, "error", err)
	}
	cached, err := r.Cache.GetURL(url)
	if err != nil {
		r.logger().Warn("cache lookup failed", "url", url, "error", err)
	}

	prev := r.Session.Snapshot()
	action := Decide(DecisionInput{
		URL:         url,
		Fingerprint: fp,
		Previous: Previous{
			URL:            prev.LastURL,
			ContentHash:    prev.LastContentHash,
			AnalyzedDomain: prev.LastAnalyzedDomain,
		},
		Existing:       existing,
		Cached:         cached,
		ReanalysisMode: r.Settings.ReanalysisMode,
		ForceRefresh:   req.ForceRefresh,
	})

	switch action {
	case ActionReuseRecord:
		res := resultFromRecord(*existing)
		meta := &extract.Meta{
			Title:       existing.Title,
			Description: existing.Description,
			URL:         existing.URL,
			Domain:      hostname,
		}
		out := Outcome{Status: StatusReused, ReuseSource: "record", Analysis: res, Meta: meta, ContentHash: fp, Quota: r.Session.Quota()}
		return r.settle(gen, out, func() {
			r.Session.RecordAnalysis(res, meta, fp, url, rootDomain)
		})

	case ActionReuseCache:
		res := cached.Analysis
		meta := cached.Meta
		out := Outcome{Status: StatusReused, ReuseSource: "cache", Analysis: &res, Meta: &meta, ContentHash: fp, Quota: r.Session.Quota()}
		return r.settle(gen, out, func() {
			r.Session.RecordAnalysis(&res, &meta, fp, url, rootDomain)
		})

	case ActionRefreshPrompt:
		return r.settle(gen, Outcome{Status: StatusBlocked, Reason: BlockRefreshPrompt}, r.Session.ClearAnalysis)
	}

	return r.analyze(ctx, req, url, hostname, rootDomain, fp, content, existing, gen)
}

func (r *Runner) analyze(ctx context.Context, req Request, url, hostname, rootDomain, fp string, content *extract.Content, existing *storage.SavedAnalysis, gen uint64) Outcome {
	analyzedToday, err := r.Cache.WasAnalyzedToday(hostname)
	if err != nil {
		r.logger().Warn("analyzed-today lookup failed", "domain", rootDomain, "error", err)
	}

	resp, err := r.Analyzer.Analyze(ctx, req.Token, analyzer.Request{
		Extracted:           content,
		IsInternal:          webdomain.IsInternal(hostname, r.Settings.InternalDomains),
		DomainAnalyzedToday: analyzedToday,
	})
	if err != nil {
		return r.settle(gen, Outcome{Status: StatusFailed, Err: fmt.Errorf("analysis call failed: %w", err)}, nil)
	}

	// Settle the slot before anything is applied: a run superseded while the
	// remote call was in flight must not touch the session, the caches, the
	// quota, or the saved record.
	if !r.Session.EndRun(gen) {
		r.logger().Debug("dropping stale run result", "generation", gen)
		return Outcome{Status: StatusSkipped}
	}

	// The quota snapshot riding on the response takes effect immediately.
	if resp.Quota != nil {
		r.Quota.Apply(*resp.Quota)
		r.Session.SetQuota(*resp.Quota)
	}
	if resp.Blocked {
		return r.block(Outcome{Status: StatusBlocked, Reason: BlockLimitReached, Quota: r.Session.Quota()})
	}
	if resp.Analysis == nil {
		return Outcome{Status: StatusFailed, Err: errors.New("analysis response carried no payload")}
	}

	res := resp.Analysis
	meta := &extract.Meta{
		Title:       content.Title,
		Description: content.MetaDescription,
		URL:         url,
		Domain:      hostname,
	}

	r.Session.RecordAnalysis(res, meta, fp, url, rootDomain)

	if err := r.Cache.MarkAnalyzedToday(hostname); err != nil {
		r.logger().Warn("marking analyzed-today failed", "domain", rootDomain, "error", err)
	}
	if err := r.Cache.SetURL(url, cache.Entry{Analysis: *res, Meta: *meta, ContentHash: fp}); err != nil {
		r.logger().Warn("URL cache write failed", "url", url, "error", err)
	}
	if err := r.Cache.SetDomain(hostname, cache.Entry{Analysis: *res, Meta: *meta}); err != nil {
		r.logger().Warn("domain cache write failed", "domain", rootDomain, "error", err)
	}

	// Homepage-canonical rule: a saved record is only refreshed from its
	// own homepage, never from an unrelated subpage of the same domain.
	if existing != nil && webdomain.IsHomepage(url) {
		updated := mergeRecord(*existing, res, meta, fp, r.now())
		if err := r.Saved.Update(updated); err != nil {
			r.logger().Warn("saved-record update failed", "id", existing.ID, "error", err)
		}
	}

	return Outcome{Status: StatusDone, Analysis: res, Meta: meta, ContentHash: fp, Quota: r.Session.Quota()}
}

// extractContent fetches and parses the page, or validates content the
// caller already extracted.
func (r *Runner) extractContent(ctx context.Context, url string, supplied *extract.Content) (*extract.Content, error) {
	if supplied == nil {
		return r.Extractor.Extract(ctx, url)
	}
	c := *supplied
	c.URL = url
	if err := extract.Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// block applies the blocked-state contract: the session's analysis fields
// are cleared so the next extraction starts clean.
func (r *Runner) block(out Outcome) Outcome {
	r.Session.ClearAnalysis()
	return out
}

func (r *Runner) existingRecord(userID, rootDomain string) (*storage.SavedAnalysis, error) {
	rec, err := r.Saved.GetByDomain(userID, rootDomain)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func resultFromRecord(a storage.SavedAnalysis) *analyzer.Result {
	return &analyzer.Result{
		WhatTheyDo:          a.WhatTheyDo,
		TargetCustomer:      a.TargetCustomer,
		ValueProposition:    a.ValueProposition,
		SalesAngle:          a.SalesAngle,
		SalesReadinessScore: analyzer.Score(a.SalesReadinessScore),
		BestSalesPersona: analyzer.PersonaPick{
			Persona: a.BestPersona,
			Reason:  a.BestPersonaReason,
		},
		RecommendedOutreach: analyzer.Outreach{
			Persona: a.OutreachPersona,
			Goal:    a.OutreachGoal,
			Angle:   a.OutreachAngle,
			Message: a.OutreachMessage,
		},
	}
}

func mergeRecord(existing storage.SavedAnalysis, res *analyzer.Result, meta *extract.Meta, fp string, now time.Time) storage.SavedAnalysis {
	existing.URL = meta.URL
	existing.ContentHash = fp
	existing.Title = meta.Title
	existing.Description = meta.Description
	existing.WhatTheyDo = res.WhatTheyDo
	existing.TargetCustomer = res.TargetCustomer
	existing.ValueProposition = res.ValueProposition
	existing.SalesAngle = res.SalesAngle
	existing.SalesReadinessScore = int(res.SalesReadinessScore)
	existing.BestPersona = res.BestSalesPersona.Persona
	existing.BestPersonaReason = res.BestSalesPersona.Reason
	existing.OutreachPersona = res.RecommendedOutreach.Persona
	existing.OutreachGoal = res.RecommendedOutreach.Goal
	existing.OutreachAngle = res.RecommendedOutreach.Angle
	existing.OutreachMessage = res.RecommendedOutreach.Message
	existing.LastAnalyzedAt = now
	return existing
}

// RecordFromOutcome builds a new saved record from a completed run, used by
// the save flow.
func RecordFromOutcome(userID string, out Outcome, now time.Time) (storage.SavedAnalysis, error) {
	if out.Analysis == nil || out.Meta == nil {
		return storage.SavedAnalysis{}, errors.New("outcome carries no analysis")
	}
	res := out.Analysis
	meta := out.Meta
	rec := storage.SavedAnalysis{
		ID:                  uuid.New().String(),
		UserID:              userID,
		Domain:              webdomain.RootDomain(meta.Domain),
		URL:                 meta.URL,
		ContentHash:         out.ContentHash,
		Title:               meta.Title,
		Description:         meta.Description,
		WhatTheyDo:          res.WhatTheyDo,
		TargetCustomer:      res.TargetCustomer,
		ValueProposition:    res.ValueProposition,
		SalesAngle:          res.SalesAngle,
		SalesReadinessScore: int(res.SalesReadinessScore),
		BestPersona:         res.BestSalesPersona.Persona,
		BestPersonaReason:   res.BestSalesPersona.Reason,
		OutreachPersona:     res.RecommendedOutreach.Persona,
		OutreachGoal:        res.RecommendedOutreach.Goal,
		OutreachAngle:       res.RecommendedOutreach.Angle,
		OutreachMessage:     res.RecommendedOutreach.Message,
		CreatedAt:           now,
		LastAnalyzedAt:      now,
	}
	return rec, nil
}
