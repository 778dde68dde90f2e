package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Element is one interactive control found in a page snapshot
type Element struct {
	Tag      string
	Type     string
	ID       string
	Name     string
	Label    string
	Text     string
	Selector string
}

// Snapshot is a parsed, read-only view of a page at one moment. It backs
// outcome classification and the page description sent to the advisor.
type Snapshot struct {
	URL      string
	Title    string
	Text     string
	Elements []Element

	doc *goquery.Document
}

// NewSnapshot parses html captured from url
func NewSnapshot(url, htmlContent string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML with goquery: %w", err)
	}

	stripInvisible(doc)

	s := &Snapshot{
		URL:   url,
		Title: collapse(doc.Find("title").First().Text()),
		doc:   doc,
	}
	s.Text = collapse(doc.Find("body").Text())
	if s.Text == "" {
		s.Text = collapse(doc.Text())
	}
	s.Elements = extractElements(doc)
	return s, nil
}

func stripInvisible(doc *goquery.Document) {
	doc.Find("script, style, noscript, template, svg, link, meta").Remove()
	doc.Find("[hidden]").Remove()
	doc.Find("[style*='display:none'], [style*='display: none']").Remove()
	doc.Find("[style*='visibility:hidden'], [style*='visibility: hidden']").Remove()
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		for _, n := range sel.Nodes {
			var comments []*html.Node
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.CommentNode {
					comments = append(comments, c)
				}
			}
			for _, c := range comments {
				n.RemoveChild(c)
			}
		}
	})
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func extractElements(doc *goquery.Document) []Element {
	labels := map[string]string{}
	doc.Find("label[for]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("for")
		labels[id] = collapse(sel.Text())
	})

	var out []Element
	doc.Find("input, select, textarea, button, a[href], [role='button']").Each(func(_ int, sel *goquery.Selection) {
		e := Element{Tag: goquery.NodeName(sel)}
		e.Type, _ = sel.Attr("type")
		e.ID, _ = sel.Attr("id")
		e.Name, _ = sel.Attr("name")
		if e.Type == "hidden" {
			return
		}
		switch {
		case e.ID != "" && labels[e.ID] != "":
			e.Label = labels[e.ID]
		case sel.AttrOr("aria-label", "") != "":
			e.Label = sel.AttrOr("aria-label", "")
		default:
			e.Label = sel.AttrOr("placeholder", "")
		}
		if e.Tag != "select" {
			e.Text = collapse(sel.Text())
			if len(e.Text) > 60 {
				e.Text = e.Text[:57] + "..."
			}
		}
		e.Selector = buildSelector(e)
		out = append(out, e)
	})
	return out
}

func buildSelector(e Element) string {
	switch {
	case e.ID != "":
		return "#" + e.ID
	case e.Name != "":
		return fmt.Sprintf("%s[name=%q]", e.Tag, e.Name)
	default:
		return e.Tag
	}
}

// ContainsText reports whether the visible text contains needle, ignoring
// case and whitespace differences.
func (s *Snapshot) ContainsText(needle string) bool {
	needle = collapse(needle)
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s.Text), strings.ToLower(needle))
}

// Matches reports whether a CSS selector matches the snapshot. XPath
// selectors cannot be evaluated offline and never match.
func (s *Snapshot) Matches(selector string) bool {
	if selector == "" || IsXPath(selector) {
		return false
	}
	return s.doc.Find(selector).Length() > 0
}

// SelectorText returns the collapsed text of every node matching selector
func (s *Snapshot) SelectorText(selector string) string {
	if selector == "" || IsXPath(selector) {
		return ""
	}
	var parts []string
	s.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if t := collapse(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

// Submatch returns the first capture group of re in the visible text, or
// the whole match when the pattern has no groups.
func (s *Snapshot) Submatch(re *regexp.Regexp) (string, bool) {
	m := re.FindStringSubmatch(s.Text)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// Summary renders a compact description of the page for the advisor,
// truncated to roughly limit characters.
func (s *Snapshot) Summary(limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", s.URL, s.Title)
	b.WriteString("Controls:\n")
	for _, e := range s.Elements {
		fmt.Fprintf(&b, "- <%s", e.Tag)
		if e.Type != "" {
			fmt.Fprintf(&b, " type=%s", e.Type)
		}
		fmt.Fprintf(&b, "> selector=%s", e.Selector)
		if e.Label != "" {
			fmt.Fprintf(&b, " label=%q", e.Label)
		}
		if e.Text != "" {
			fmt.Fprintf(&b, " text=%q", e.Text)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Text: ")
	b.WriteString(s.Text)

	out := b.String()
	if limit > 0 && len(out) > limit {
		out = strings.ToValidUTF8(out[:limit], "") + "..."
	}
	return out
}
