// Package extract pulls visible textual content out of web pages for
// analysis. It applies the restriction and thin-content policies that decide
// whether a page is analyzable at all.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mkovacs/salespanel/internal/fingerprint"
)

const (
	maxHeadings   = 10
	maxParagraphs = 15

	// Thin-content thresholds.
	minCombinedLength         = 300
	minQualifyingParagraphs   = 2
	minParagraphLength        = 40
	maxQualifyingParagraphLen = 300
)

// Block reasons reported instead of content.
const (
	ReasonRestricted  = "RESTRICTED"
	ReasonThinContent = "THIN_CONTENT"
)

// Content is the visible text pulled from a single page.
type Content struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription"`
	Headings        []string `json:"headings"`
	Paragraphs      []string `json:"paragraphs"`
}

// Fingerprint returns the content-change digest for c.
func (c *Content) Fingerprint() string {
	return fingerprint.Hash(c.Title, c.MetaDescription, c.Headings, c.Paragraphs)
}

// Meta is the slim per-page descriptor kept alongside an analysis.
type Meta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
}

// BlockedError signals a designed non-error outcome: the page cannot be
// analyzed for a policy reason rather than a transport failure.
type BlockedError struct {
	Reason  string
	Details string
}

func (e *BlockedError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("extraction blocked: %s", e.Reason)
	}
	return fmt.Sprintf("extraction blocked: %s (%s)", e.Reason, e.Details)
}

// BlockReason returns the block reason if err is a BlockedError, else "".
func BlockReason(err error) string {
	var be *BlockedError
	if errors.As(err, &be) {
		return be.Reason
	}
	return ""
}

// boilerplateTerms disqualify a paragraph from counting toward the
// thin-content threshold.
var boilerplateTerms = []string{
	"cookie",
	"privacy policy",
	"terms of service",
	"terms and conditions",
	"subscribe",
	"newsletter",
	"sign in",
	"sign up",
	"log in",
	"all rights reserved",
	"copyright",
	"enable javascript",
}

func isQualifyingParagraph(p string) bool {
	n := len(p)
	if n < minParagraphLength || n > maxQualifyingParagraphLen {
		return false
	}
	lower := strings.ToLower(p)
	for _, term := range boilerplateTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// checkThin returns a THIN_CONTENT BlockedError when the extracted content
// is too sparse to analyze, nil otherwise.
func checkThin(c *Content) error {
	combined := c.Title + c.MetaDescription + strings.Join(c.Headings, "") + strings.Join(c.Paragraphs, "")
	if len(combined) >= minCombinedLength {
		qualifying := 0
		for _, p := range c.Paragraphs {
			if isQualifyingParagraph(p) {
				qualifying++
			}
		}
		if qualifying >= minQualifyingParagraphs {
			return nil
		}
		return &BlockedError{Reason: ReasonThinContent}
	}
	return &BlockedError{Reason: ReasonThinContent}
}

// Validate applies the extraction contract to content produced outside this
// package, such as the extension's in-page script: whitespace is collapsed,
// the heading and paragraph caps are enforced, and the thin-content policy
// is checked.
func Validate(c *Content) error {
	c.Title = cleanTitle(c.Title)
	c.MetaDescription = collapseSpace(c.MetaDescription)
	for i, h := range c.Headings {
		c.Headings[i] = collapseSpace(h)
	}
	// Deduplicate paragraphs the same way the HTML walker does, so repeats
	// neither reach the analyzer nor count toward the thin-content floor.
	seen := make(map[string]bool)
	paragraphs := c.Paragraphs[:0]
	for _, p := range c.Paragraphs {
		p = collapseSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paragraphs = append(paragraphs, p)
	}
	c.Paragraphs = paragraphs
	if len(c.Headings) > maxHeadings {
		c.Headings = c.Headings[:maxHeadings]
	}
	if len(c.Paragraphs) > maxParagraphs {
		c.Paragraphs = c.Paragraphs[:maxParagraphs]
	}
	return checkThin(c)
}

// collapseSpace trims and collapses runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanTitle strips a trailing "| Site" or "- Site" style suffix when doing
// so leaves a meaningful title behind.
func cleanTitle(title string) string {
	t := collapseSpace(title)
	for _, sep := range []string{" | ", " — ", " – ", " - ", " · "} {
		if idx := strings.Index(t, sep); idx >= 3 {
			t = t[:idx]
			break
		}
	}
	return strings.TrimSpace(t)
}
