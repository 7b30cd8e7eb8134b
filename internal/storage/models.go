package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates the one-record-per
// (user, domain) constraint.
var ErrDuplicate = errors.New("duplicate record")

// SavedAnalysis is one persisted sales analysis. At most one active record
// exists per (UserID, Domain), enforced by a unique constraint.
type SavedAnalysis struct {
	ID          string
	UserID      string
	Domain      string
	URL         string
	ContentHash string
	Title       string
	Description string

	WhatTheyDo          string
	TargetCustomer      string
	ValueProposition    string
	SalesAngle          string
	SalesReadinessScore int
	BestPersona         string
	BestPersonaReason   string
	OutreachPersona     string
	OutreachGoal        string
	OutreachAngle       string
	OutreachMessage     string

	CreatedAt      time.Time
	LastAnalyzedAt time.Time
}

// ListFilter narrows and orders a saved-analyses listing.
type ListFilter struct {
	ScoreMin *int
	ScoreMax *int
	Persona  string
	Search   string // free text over title, domain, description
	SortBy   string // created_at | last_analyzed_at | score | title
	SortDesc bool
	Page     int // zero-based
}

// PageSize is the fixed saved-analyses page size.
const PageSize = 20
