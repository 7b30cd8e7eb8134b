package extract

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// skipSubtrees are elements whose text never counts as page content.
var skipSubtrees = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
}

// parseHTML walks the document and fills a Content with title, meta
// description, headings (h1–h3, at most 10), and paragraphs (<p> plus long
// <li> text, deduplicated, at most 15).
func parseHTML(r io.Reader, pageURL string) (*Content, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	c := &Content{URL: pageURL}
	seen := make(map[string]bool)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := n.Data
			if skipSubtrees[tag] {
				return
			}
			switch tag {
			case "title":
				if c.Title == "" {
					c.Title = cleanTitle(textContent(n))
				}
				return
			case "meta":
				name := strings.ToLower(attr(n, "name"))
				prop := strings.ToLower(attr(n, "property"))
				if name == "description" || (c.MetaDescription == "" && prop == "og:description") {
					if v := collapseSpace(attr(n, "content")); v != "" {
						c.MetaDescription = v
					}
				}
			case "h1", "h2", "h3":
				if len(c.Headings) < maxHeadings {
					if t := collapseSpace(textContent(n)); t != "" {
						c.Headings = append(c.Headings, t)
					}
				}
				return
			case "p", "li":
				t := collapseSpace(textContent(n))
				// List items only count when they read like prose.
				if tag == "li" && len(t) < minParagraphLength {
					return
				}
				if t != "" && len(c.Paragraphs) < maxParagraphs && !seen[t] {
					seen[t] = true
					c.Paragraphs = append(c.Paragraphs, t)
				}
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return c, nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
			return
		}
		if n.Type == html.ElementNode && skipSubtrees[n.Data] {
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
