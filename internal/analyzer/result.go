// Package analyzer calls the remote analysis service and normalizes its
// responses into well-formed results.
package analyzer

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Personas the backend may recommend. Anything else falls back to
// FallbackPersona.
var Personas = []string{
	"SDR/BDR",
	"Mid-Market AE",
	"Enterprise AE",
	"Sales Manager",
	"Founder-led Sales",
}

// FallbackPersona is used when the backend returns an unrecognized persona.
const FallbackPersona = "Mid-Market AE"

const (
	maxFieldLen   = 1000
	maxMessageLen = 2000
)

// Score tolerates sloppy backend payloads: numbers, numeric strings, and
// anything else (which decodes to zero).
type Score int

func (s *Score) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Score(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			*s = Score(f)
			return nil
		}
	}
	*s = 0
	return nil
}

// PersonaPick is the backend's persona recommendation with its reasoning.
type PersonaPick struct {
	Persona string `json:"persona"`
	Reason  string `json:"reason"`
}

// Outreach is the recommended first-touch message.
type Outreach struct {
	Persona string `json:"persona"`
	Goal    string `json:"goal"`
	Angle   string `json:"angle"`
	Message string `json:"message"`
}

// Result is one sales-intelligence analysis of a page.
type Result struct {
	WhatTheyDo          string      `json:"whatTheyDo"`
	TargetCustomer      string      `json:"targetCustomer"`
	ValueProposition    string      `json:"valueProposition"`
	SalesAngle          string      `json:"salesAngle"`
	SalesReadinessScore Score       `json:"salesReadinessScore"`
	BestSalesPersona    PersonaPick `json:"bestSalesPersona"`
	RecommendedOutreach Outreach    `json:"recommendedOutreach"`
}

// Normalize clamps and sanitizes a backend result in place: score to
// [0,100], personas matched case-insensitively against the known list with
// a fallback, free text trimmed and length-capped.
func Normalize(r *Result) {
	if r.SalesReadinessScore < 0 {
		r.SalesReadinessScore = 0
	}
	if r.SalesReadinessScore > 100 {
		r.SalesReadinessScore = 100
	}

	r.BestSalesPersona.Persona = matchPersona(r.BestSalesPersona.Persona)
	r.RecommendedOutreach.Persona = matchPersona(r.RecommendedOutreach.Persona)

	r.WhatTheyDo = capText(r.WhatTheyDo, maxFieldLen)
	r.TargetCustomer = capText(r.TargetCustomer, maxFieldLen)
	r.ValueProposition = capText(r.ValueProposition, maxFieldLen)
	r.SalesAngle = capText(r.SalesAngle, maxFieldLen)
	r.BestSalesPersona.Reason = capText(r.BestSalesPersona.Reason, maxFieldLen)
	r.RecommendedOutreach.Goal = capText(r.RecommendedOutreach.Goal, maxFieldLen)
	r.RecommendedOutreach.Angle = capText(r.RecommendedOutreach.Angle, maxFieldLen)
	r.RecommendedOutreach.Message = capText(r.RecommendedOutreach.Message, maxMessageLen)
}

func matchPersona(p string) string {
	trimmed := strings.TrimSpace(p)
	for _, known := range Personas {
		if strings.EqualFold(trimmed, known) {
			return known
		}
	}
	return FallbackPersona
}

func capText(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	// Back off to a rune start so the cap never leaves a split UTF-8
	// sequence at the end.
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
