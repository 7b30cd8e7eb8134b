package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxPDFPages caps how much of a PDF is read; sales pages and one-pagers fit
// comfortably, large documents are truncated.
const maxPDFPages = 8

// parsePDF extracts text from PDF bytes. The first text row becomes the
// title, subsequent rows become paragraphs subject to the usual caps.
func parsePDF(data []byte, pageURL string) (*Content, error) {
	tmp, err := os.CreateTemp("", "salespanel-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	tmp.Close()

	f, reader, err := pdf.Open(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	c := &Content{URL: pageURL}
	seen := make(map[string]bool)

	pages := reader.NumPage()
	if pages > maxPDFPages {
		pages = maxPDFPages
	}

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var b strings.Builder
			for _, word := range row.Content {
				b.WriteString(word.S)
				b.WriteString(" ")
			}
			line := collapseSpace(b.String())
			if line == "" {
				continue
			}
			if c.Title == "" {
				c.Title = cleanTitle(line)
				continue
			}
			if len(line) >= minParagraphLength && len(c.Paragraphs) < maxParagraphs && !seen[line] {
				seen[line] = true
				c.Paragraphs = append(c.Paragraphs, line)
			}
		}
		if len(c.Paragraphs) >= maxParagraphs {
			break
		}
	}

	return c, nil
}
