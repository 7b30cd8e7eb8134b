package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const richPage = `<!doctype html>
<html>
<head>
  <title>Acme Widgets | Home</title>
  <meta name="description" content="Acme builds industrial widgets for manufacturers.">
</head>
<body>
  <nav><p>Home About Pricing Contact and other navigation links go here</p></nav>
  <h1>Industrial widgets, delivered fast</h1>
  <h2>Trusted by 500 factories</h2>
  <p>Acme Widgets designs and manufactures precision industrial widgets for the automotive sector.</p>
  <p>Our widgets reduce assembly line downtime by up to forty percent across deployments.</p>
  <p>Acme Widgets designs and manufactures precision industrial widgets for the automotive sector.</p>
  <p>short</p>
  <script>console.log("ignore me entirely");</script>
  <footer><p>All rights reserved Acme Widgets Incorporated two thousand twenty five.</p></footer>
</body>
</html>`

func TestParseHTML(t *testing.T) {
	c, err := parseHTML(strings.NewReader(richPage), "https://acme.com/")
	if err != nil {
		t.Fatalf("parseHTML: %v", err)
	}

	if c.Title != "Acme Widgets" {
		t.Errorf("Title = %q, want cleaned %q", c.Title, "Acme Widgets")
	}
	if c.MetaDescription != "Acme builds industrial widgets for manufacturers." {
		t.Errorf("MetaDescription = %q", c.MetaDescription)
	}
	if len(c.Headings) != 2 || c.Headings[0] != "Industrial widgets, delivered fast" {
		t.Errorf("Headings = %v", c.Headings)
	}

	// Duplicate paragraph deduplicated, nav/footer/script text skipped.
	want := 3 // two real paragraphs + "short"
	if len(c.Paragraphs) != want {
		t.Errorf("Paragraphs = %d entries %v, want %d", len(c.Paragraphs), c.Paragraphs, want)
	}
	for _, p := range c.Paragraphs {
		if strings.Contains(p, "navigation links") || strings.Contains(p, "rights reserved") {
			t.Errorf("boilerplate subtree leaked into paragraphs: %q", p)
		}
	}
}

func TestParseHTMLCaps(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 20; i++ {
		b.WriteString("<h2>Heading number ")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString("</h2>")
	}
	for i := 0; i < 30; i++ {
		b.WriteString("<p>This is a sufficiently long unique paragraph about topic number ")
		b.WriteString(strings.Repeat("y", i+1))
		b.WriteString("</p>")
	}
	b.WriteString("</body></html>")

	c, err := parseHTML(strings.NewReader(b.String()), "https://acme.com/")
	if err != nil {
		t.Fatalf("parseHTML: %v", err)
	}
	if len(c.Headings) != maxHeadings {
		t.Errorf("headings = %d, want capped at %d", len(c.Headings), maxHeadings)
	}
	if len(c.Paragraphs) != maxParagraphs {
		t.Errorf("paragraphs = %d, want capped at %d", len(c.Paragraphs), maxParagraphs)
	}
}

func TestCheckThin(t *testing.T) {
	long := strings.Repeat("a", 160)

	tests := []struct {
		name    string
		content Content
		thin    bool
	}{
		{
			name: "rich content passes",
			content: Content{
				Title:      "Acme",
				Paragraphs: []string{long, long + "b"},
			},
			thin: false,
		},
		{
			name:    "short combined text",
			content: Content{Title: "Acme", Paragraphs: []string{"tiny"}},
			thin:    true,
		},
		{
			name: "one qualifying paragraph only",
			content: Content{
				Title:      strings.Repeat("t", 300),
				Paragraphs: []string{long},
			},
			thin: true,
		},
		{
			name: "boilerplate paragraphs disqualified",
			content: Content{
				Title: "Acme",
				Paragraphs: []string{
					"We use cookie technology to improve your experience on this very long website page.",
					"Subscribe to our newsletter for updates about our products and announcements today.",
					long,
				},
			},
			thin: true,
		},
		{
			name: "overlong paragraph disqualified",
			content: Content{
				Title:      "Acme",
				Paragraphs: []string{strings.Repeat("z", 400), long},
			},
			thin: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkThin(&tt.content)
			if tt.thin && BlockReason(err) != ReasonThinContent {
				t.Errorf("expected THIN_CONTENT, got %v", err)
			}
			if !tt.thin && err != nil {
				t.Errorf("expected ok, got %v", err)
			}
		})
	}
}

func TestExtractRestrictedURL(t *testing.T) {
	e := NewHTTPExtractor(nil)
	_, err := e.Extract(context.Background(), "chrome://settings")
	if BlockReason(err) != ReasonRestricted {
		t.Fatalf("expected RESTRICTED, got %v", err)
	}
}

func TestExtractRestrictedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.Client())
	_, err := e.Extract(context.Background(), srv.URL+"/private")
	if BlockReason(err) != ReasonRestricted {
		t.Fatalf("expected RESTRICTED, got %v", err)
	}
	var be *BlockedError
	if !errors.As(err, &be) || !strings.Contains(be.Details, "403") {
		t.Errorf("expected details to carry status, got %v", err)
	}
}

func TestExtractTimeoutWins(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	e := NewHTTPExtractor(srv.Client())
	e.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := e.Extract(context.Background(), srv.URL+"/slow")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if BlockReason(err) != "" {
		t.Errorf("timeout must be an error, not a block: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout did not settle promptly: %v", elapsed)
	}
}

func TestExtractEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(richPage))
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.Client())
	c, err := e.Extract(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if c.Title != "Acme Widgets" {
		t.Errorf("Title = %q", c.Title)
	}
	if c.URL != srv.URL+"/" {
		t.Errorf("URL = %q", c.URL)
	}
}

func TestValidateNormalizesAndCaps(t *testing.T) {
	c := &Content{
		Title:           "  Acme Widgets | Acme Inc  ",
		MetaDescription: "Precision   widgets\nfor industrial assembly lines",
		Paragraphs: []string{
			"Acme makes precision widgets for factories around the world, with tolerances measured in microns.",
			"Our widget line covers stamping, milling, and finishing, so assembly teams source everything from one vendor.",
		},
	}
	for i := 0; i < 20; i++ {
		c.Headings = append(c.Headings, "Heading")
	}

	if err := Validate(c); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if c.Title != "Acme Widgets" {
		t.Errorf("title = %q, want cleaned suffix", c.Title)
	}
	if c.MetaDescription != "Precision widgets for industrial assembly lines" {
		t.Errorf("meta = %q, whitespace not collapsed", c.MetaDescription)
	}
	if len(c.Headings) != 10 {
		t.Errorf("headings = %d, want capped at 10", len(c.Headings))
	}
}

func TestValidateDeduplicatesParagraphs(t *testing.T) {
	first := "Acme makes precision widgets for factories around the world, with tolerances measured in microns."
	second := "Our widget line covers stamping, milling, and finishing, so assembly teams source everything from one vendor."

	c := &Content{
		Title:           "Acme",
		MetaDescription: "Precision widgets for industrial assembly lines, shipped worldwide with calibration reports included",
		Paragraphs:      []string{first, "  " + first + "  ", second, first},
	}
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if len(c.Paragraphs) != 2 || c.Paragraphs[0] != first || c.Paragraphs[1] != second {
		t.Errorf("paragraphs = %q, want the two distinct ones", c.Paragraphs)
	}

	// A single paragraph repeated cannot satisfy the two-paragraph floor,
	// however long the repeats make the combined text.
	c = &Content{
		Title:           "Acme",
		MetaDescription: "Precision widgets for industrial assembly lines, shipped worldwide with calibration reports included",
		Paragraphs:      []string{first, first, first, first},
	}
	if err := Validate(c); BlockReason(err) != ReasonThinContent {
		t.Fatalf("Validate() = %v, want THIN_CONTENT for repeated paragraph", err)
	}
}

func TestValidateThin(t *testing.T) {
	err := Validate(&Content{Title: "Contact"})
	if BlockReason(err) != ReasonThinContent {
		t.Fatalf("Validate() = %v, want THIN_CONTENT", err)
	}
}
