package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/pagecraft/internal/element"
)

const (
	attrID    = "data-id"
	attrKind  = "data-kind"
	attrLabel = "data-label"
	attrPage  = "data-page"
)

var titleCaser = cases.Title(language.English)

// Label returns the human name of a kind, e.g. "Data Table".
func Label(k element.Kind) string {
	return titleCaser.String(strings.ReplaceAll(string(k), "-", " "))
}

// PageNode returns the <main> node a page renders into.
func PageNode(pageID string, styles map[string]string) *html.Node {
	n := newElement(atom.Main)
	setAttr(n, attrPage, pageID)
	if style := styleAttr(styles); style != "" {
		setAttr(n, "style", style)
	}
	return n
}

// Node renders el and its subtree. Every element node carries its id in
// data-id so a subtree can be found and replaced later.
func Node(el *element.Element) *html.Node {
	n := shell(el)
	setAttr(n, attrID, el.ID)
	setAttr(n, attrKind, string(el.Kind))
	setAttr(n, attrLabel, Label(el.Kind))
	if style := styleAttr(el.Styles); style != "" {
		setAttr(n, "style", style)
	}

	if el.Content != "" && !isVoid(n) && el.Kind != element.KindOption && el.Kind != element.KindButton {
		n.AppendChild(textNode(el.Content))
	}
	for _, child := range el.Elements {
		n.AppendChild(Node(child))
	}
	return n
}

// shell builds the kind-specific element without children.
func shell(el *element.Element) *html.Node {
	switch p := el.Payload.(type) {
	case *element.SectionPayload:
		return newElement(atom.Section)

	case *element.ContainerPayload:
		n := newElement(atom.Div)
		setAttr(n, "data-layout", p.Layout)
		return n

	case *element.FormPayload:
		n := newElement(atom.Form)
		if p.Action != "" {
			setAttr(n, "action", p.Action)
		}
		setAttr(n, "method", p.Method)
		return n

	case *element.SelectPayload:
		n := newElement(atom.Select)
		if p.Name != "" {
			setAttr(n, "name", p.Name)
		}
		if p.Multiple {
			setAttr(n, "multiple", "")
		}
		return n

	case *element.TextPayload:
		tag := p.Tag
		if tag == "" {
			tag = "p"
		}
		return &html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag}

	case *element.InputPayload:
		n := newElement(atom.Input)
		setAttr(n, "type", p.InputType)
		if p.Name != "" {
			setAttr(n, "name", p.Name)
		}
		if p.Placeholder != "" {
			setAttr(n, "placeholder", p.Placeholder)
		}
		return n

	case *element.ImagePayload:
		n := newElement(atom.Img)
		setAttr(n, "src", p.Src)
		setAttr(n, "alt", p.Alt)
		return n

	case *element.ChartPayload:
		n := newElement(atom.Figure)
		setAttr(n, "data-chart-type", p.ChartType)
		if p.Series != nil {
			setAttr(n, "data-series", encode(p.Series))
		}
		return n

	case *element.DataTablePayload:
		return table(p)

	case *element.ButtonPayload:
		label := p.Label
		if label == "" {
			label = el.Content
		}
		var n *html.Node
		if p.Href != "" {
			n = newElement(atom.A)
			setAttr(n, "href", p.Href)
			setAttr(n, "role", "button")
		} else {
			n = newElement(atom.Button)
			setAttr(n, "type", "button")
		}
		if label != "" {
			n.AppendChild(textNode(label))
		}
		return n

	case *element.OptionPayload:
		n := newElement(atom.Option)
		setAttr(n, "value", p.Value)
		if p.Selected {
			setAttr(n, "selected", "")
		}
		text := el.Content
		if text == "" {
			text = p.Value
		}
		if text != "" {
			n.AppendChild(textNode(text))
		}
		return n

	case *element.VideoPayload:
		n := newElement(atom.Video)
		setAttr(n, "src", p.Src)
		setAttr(n, "controls", "")
		if p.Autoplay {
			setAttr(n, "autoplay", "")
			setAttr(n, "muted", "")
		}
		return n

	default:
		n := newElement(atom.Div)
		setAttr(n, "data-unknown", "")
		return n
	}
}

// table renders list-shaped columns and rows as cells; anything else is
// kept as JSON attributes for the client to interpret.
func table(p *element.DataTablePayload) *html.Node {
	n := newElement(atom.Table)

	columns, colsOK := p.Columns.([]any)
	rows, rowsOK := p.Rows.([]any)
	if p.Columns != nil && !colsOK {
		setAttr(n, "data-columns", encode(p.Columns))
	}
	if p.Rows != nil && !rowsOK {
		setAttr(n, "data-rows", encode(p.Rows))
	}

	if len(columns) > 0 {
		thead := newElement(atom.Thead)
		tr := newElement(atom.Tr)
		for _, c := range columns {
			th := newElement(atom.Th)
			th.AppendChild(textNode(cell(c)))
			tr.AppendChild(th)
		}
		thead.AppendChild(tr)
		n.AppendChild(thead)
	}

	if len(rows) > 0 {
		tbody := newElement(atom.Tbody)
		for _, row := range rows {
			tr := newElement(atom.Tr)
			values, ok := row.([]any)
			if !ok {
				values = []any{row}
			}
			for _, v := range values {
				td := newElement(atom.Td)
				td.AppendChild(textNode(cell(v)))
				tr.AppendChild(td)
			}
			tbody.AppendChild(tr)
		}
		n.AppendChild(tbody)
	}
	return n
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return encode(v)
	}
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func styleAttr(styles map[string]string) string {
	if len(styles) == 0 {
		return ""
	}
	el := element.Element{Styles: styles}
	parts := make([]string, 0, len(styles))
	for _, k := range el.SortedStyleKeys() {
		parts = append(parts, k+": "+styles[k])
	}
	return strings.Join(parts, "; ")
}

func newElement(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func isVoid(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input, atom.Img:
		return true
	default:
		return false
	}
}
