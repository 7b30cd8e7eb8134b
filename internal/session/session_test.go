package session

import (
	"testing"

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
)

func TestRecordAndClear(t *testing.T) {
	var s State

	res := &analyzer.Result{WhatTheyDo: "widgets"}
	meta := &extract.Meta{URL: "https://acme.com/", Domain: "acme.com"}
	s.RecordAnalysis(res, meta, "hash-1", "https://acme.com/", "acme.com")

	snap := s.Snapshot()
	if snap.LastAnalysis != res || snap.LastContentHash != "hash-1" || snap.LastAnalyzedDomain != "acme.com" {
		t.Errorf("snapshot missing recorded state: %+v", snap)
	}

	s.ClearAnalysis()
	snap = s.Snapshot()
	if snap.LastAnalysis != nil || snap.LastContentHash != "" || snap.LastAnalyzedDomain != "" || snap.LastURL != "" {
		t.Errorf("ClearAnalysis left residue: %+v", snap)
	}
}

func TestResetClearsQuota(t *testing.T) {
	var s State
	s.SetQuota(quota.Snapshot{Plan: "pro", RemainingToday: 9})
	s.RecordAnalysis(&analyzer.Result{}, nil, "h", "u", "d")

	s.Reset()
	if s.Quota() != (quota.Snapshot{}) {
		t.Error("Reset should clear quota")
	}
	if snap := s.Snapshot(); snap.LastAnalysis != nil {
		t.Error("Reset should clear analysis state")
	}
}

func TestBeginRunSingleSlot(t *testing.T) {
	var s State

	gen1, ok := s.BeginRun(false)
	if !ok {
		t.Fatal("first BeginRun must succeed")
	}
	if !s.Loading() {
		t.Error("slot should be held")
	}

	// Second non-forced run is rejected while the slot is held.
	if _, ok := s.BeginRun(false); ok {
		t.Error("concurrent BeginRun should be rejected")
	}

	// A forced run takes over with a newer generation.
	gen2, ok := s.BeginRun(true)
	if !ok {
		t.Fatal("forced BeginRun must succeed")
	}
	if gen2 <= gen1 {
		t.Errorf("generation must increase: %d -> %d", gen1, gen2)
	}

	// The superseded run's completion is stale and ignored.
	if s.EndRun(gen1) {
		t.Error("stale generation must not release the slot")
	}
	if !s.Loading() {
		t.Error("slot must still be held by the forced run")
	}

	if !s.EndRun(gen2) {
		t.Error("current generation must release the slot")
	}
	if s.Loading() {
		t.Error("slot should be free")
	}
}
