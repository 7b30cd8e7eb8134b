package api

import (
	"time"

	"github.com/mkovacs/salespanel/internal/storage"
)

// savedJSON is the wire shape of one saved analysis.
type savedJSON struct {
	ID                  string `json:"id"`
	Domain              string `json:"domain"`
	URL                 string `json:"url"`
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	WhatTheyDo          string `json:"whatTheyDo"`
	TargetCustomer      string `json:"targetCustomer"`
	ValueProposition    string `json:"valueProposition"`
	SalesAngle          string `json:"salesAngle"`
	SalesReadinessScore int    `json:"salesReadinessScore"`
	BestPersona         string `json:"bestPersona"`
	BestPersonaReason   string `json:"bestPersonaReason,omitempty"`
	OutreachPersona     string `json:"outreachPersona,omitempty"`
	OutreachGoal        string `json:"outreachGoal,omitempty"`
	OutreachAngle       string `json:"outreachAngle,omitempty"`
	OutreachMessage     string `json:"outreachMessage,omitempty"`
	CreatedAt           string `json:"createdAt"`
	LastAnalyzedAt      string `json:"lastAnalyzedAt"`
	// PendingDelete is true while the record sits inside its undo window.
	PendingDelete bool `json:"pendingDelete,omitempty"`
}

func toSavedJSON(a storage.SavedAnalysis, pending bool) savedJSON {
	return savedJSON{
		ID:                  a.ID,
		Domain:              a.Domain,
		URL:                 a.URL,
		Title:               a.Title,
		Description:         a.Description,
		WhatTheyDo:          a.WhatTheyDo,
		TargetCustomer:      a.TargetCustomer,
		ValueProposition:    a.ValueProposition,
		SalesAngle:          a.SalesAngle,
		SalesReadinessScore: a.SalesReadinessScore,
		BestPersona:         a.BestPersona,
		BestPersonaReason:   a.BestPersonaReason,
		OutreachPersona:     a.OutreachPersona,
		OutreachGoal:        a.OutreachGoal,
		OutreachAngle:       a.OutreachAngle,
		OutreachMessage:     a.OutreachMessage,
		CreatedAt:           a.CreatedAt.UTC().Format(time.RFC3339),
		LastAnalyzedAt:      a.LastAnalyzedAt.UTC().Format(time.RFC3339),
		PendingDelete:       pending,
	}
}
