package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/pagecraft/internal/store"
)

// Impact grades an audit finding.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
)

// Violation is one accessibility problem found on a rendered page.
type Violation struct {
	Rule      string `json:"rule" yaml:"rule"`
	ElementID string `json:"elementId" yaml:"elementId"`
	Impact    Impact `json:"impact" yaml:"impact"`
	Message   string `json:"message" yaml:"message"`
}

// Audit walks a rendered page and reports accessibility violations in
// document order.
func Audit(root *html.Node) []Violation {
	var (
		out      []Violation
		lastHead int
	)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			id, _ := getAttr(n, attrID)
			switch n.DataAtom {
			case atom.Img:
				if alt, _ := getAttr(n, "alt"); strings.TrimSpace(alt) == "" {
					out = append(out, Violation{"missing-alt-text", id, ImpactCritical, "images must have alternative text"})
				}
			case atom.Input, atom.Select:
				if !hasAnyAttr(n, "name", "aria-label", "placeholder") {
					out = append(out, Violation{"missing-form-label", id, ImpactCritical, "form controls must be named"})
				}
			case atom.Button, atom.A:
				if role, _ := getAttr(n, "role"); n.DataAtom == atom.A && role != "button" {
					break
				}
				if strings.TrimSpace(textContent(n)) == "" && !hasAnyAttr(n, "aria-label") {
					out = append(out, Violation{"missing-button-text", id, ImpactCritical, "buttons must have accessible names"})
				}
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				level := int(n.Data[1] - '0')
				if (lastHead == 0 && level != 1) || (lastHead > 0 && level > lastHead+1) {
					out = append(out, Violation{"missing-heading-structure", id, ImpactSerious, "headings must not skip levels"})
				}
				lastHead = level
			case atom.Video:
				if _, ok := getAttr(n, "autoplay"); ok {
					out = append(out, Violation{"autoplay-media", id, ImpactModerate, "autoplaying video should stay muted and offer controls"})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// AuditSnapshot renders a snapshot and audits it.
func AuditSnapshot(snap *store.Snapshot) []Violation {
	root := PageNode(snap.PageID, snap.Styles)
	for _, el := range snap.Elements {
		root.AppendChild(Node(el))
	}
	return Audit(root)
}

// Audit checks the live page.
func (r *Renderer) Audit() []Violation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Audit(r.page)
}

func hasAnyAttr(n *html.Node, keys ...string) bool {
	for _, k := range keys {
		if v, ok := getAttr(n, k); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
