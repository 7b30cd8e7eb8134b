// Package quota tracks the user's remaining daily analysis allowance and
// saved-item capacity, refreshed from the remote quota endpoint.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// refreshTTL is how long a fetched snapshot stays fresh; refreshes inside
// the window are no-ops unless forced.
const refreshTTL = 30 * time.Second

// Defaults applied when the quota endpoint has never answered. The gate
// degrades to the free plan rather than blocking the UI.
const (
	DefaultPlan       = "free"
	DefaultDailyLimit = 5
	DefaultMaxSaved   = 3
)

// Snapshot is the quota state as last reported by the backend.
type Snapshot struct {
	Plan           string `json:"plan"`
	UsedToday      int    `json:"used_today"`
	RemainingToday int    `json:"remaining_today"`
	DailyLimit     int    `json:"daily_limit"`
	MaxSaved       int    `json:"max_saved"`
	TotalSaved     int    `json:"total_saved"`
}

// IsFree reports whether the snapshot is on the free plan.
func (s Snapshot) IsFree() bool {
	return strings.EqualFold(s.Plan, DefaultPlan) || s.Plan == ""
}

// Gate serves quota snapshots with a short refresh TTL, falling back to the
// last known values when the endpoint is unreachable.
type Gate struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
	logger  *slog.Logger

	// onUpdate, when set, runs after every successful refresh.
	onUpdate func(Snapshot)

	mu          sync.Mutex
	snapshot    Snapshot
	fetched     bool
	lastRefresh time.Time
}

// NewGate creates a gate against baseURL. A nil client or now falls back to
// defaults.
func NewGate(baseURL string, client *http.Client, now func() time.Time) *Gate {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     now,
		logger:  slog.Default(),
		snapshot: Snapshot{
			Plan:           DefaultPlan,
			RemainingToday: DefaultDailyLimit,
			DailyLimit:     DefaultDailyLimit,
			MaxSaved:       DefaultMaxSaved,
		},
	}
}

// OnUpdate registers a callback invoked after every successful refresh.
func (g *Gate) OnUpdate(fn func(Snapshot)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onUpdate = fn
}

// Snapshot returns the current quota state without touching the network.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot
}

// Apply replaces the snapshot with one reported out-of-band (the analysis
// response carries a quota payload that must take effect immediately).
func (g *Gate) Apply(s Snapshot) {
	g.mu.Lock()
	g.snapshot = s
	g.fetched = true
	g.lastRefresh = g.now()
	fn := g.onUpdate
	g.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Refresh fetches the quota state from the backend. Within the TTL it is a
// no-op unless force is set. Fetch failures keep the previous values and
// never propagate as errors; the gate logs and degrades.
func (g *Gate) Refresh(ctx context.Context, token string, force bool) Snapshot {
	g.mu.Lock()
	if !force && g.fetched && g.now().Sub(g.lastRefresh) < refreshTTL {
		snap := g.snapshot
		g.mu.Unlock()
		return snap
	}
	g.mu.Unlock()

	snap, err := g.fetch(ctx, token)
	if err != nil {
		g.logger.Warn("quota refresh failed, keeping last known values", "error", err)
		return g.Snapshot()
	}

	g.Apply(snap)
	return snap
}

func (g *Gate) fetch(ctx context.Context, token string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/quota", nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("building quota request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetching quota: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("quota endpoint returned %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding quota response: %w", err)
	}
	return snap, nil
}
