// Package element defines the closed set of visual element kinds and the
// tree they form.
//
// An Element is a tagged variant: a shared base record (id, parent, page,
// styles, content) plus a Payload whose concrete type is fixed by Kind.
// Behavior that differs per kind (container capability, containment rules,
// payload fields) is decided by exhaustive switches over Kind, so adding a
// kind is a compile-visible change in this package only.
//
// Nothing here mutates shared state. The Document Store owns the canonical
// tree and uses the validators in this package before every mutation.
package element

import (
	"fmt"
	"sort"
)

// Kind discriminates the element variants.
type Kind string

const (
	KindSection   Kind = "section"
	KindContainer Kind = "container"
	KindForm      Kind = "form"
	KindSelect    Kind = "select"
	KindText      Kind = "text"
	KindInput     Kind = "input"
	KindImage     Kind = "image"
	KindChart     Kind = "chart"
	KindDataTable Kind = "data-table"
	KindButton    Kind = "button"
	KindOption    Kind = "option"
	KindVideo     Kind = "video"
)

// Kinds lists every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindSection, KindContainer, KindForm, KindSelect,
		KindText, KindInput, KindImage, KindChart,
		KindDataTable, KindButton, KindOption, KindVideo,
	}
}

// ParseKind validates a kind name coming from untrusted input.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown element kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSection, KindContainer, KindForm, KindSelect,
		KindText, KindInput, KindImage, KindChart,
		KindDataTable, KindButton, KindOption, KindVideo:
		return true
	default:
		return false
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// IsContainer reports whether elements of kind k may own children.
func IsContainer(k Kind) bool {
	switch k {
	case KindSection, KindContainer, KindForm, KindSelect:
		return true
	case KindText, KindInput, KindImage, KindChart,
		KindDataTable, KindButton, KindOption, KindVideo:
		return false
	default:
		return false
	}
}

// CanContain reports whether a parent of kind parent accepts a child of
// kind child. Options live only inside selects; forms do not nest sections.
func CanContain(parent, child Kind) bool {
	switch parent {
	case KindSection, KindContainer:
		return child != KindOption
	case KindForm:
		return child != KindOption && child != KindSection
	case KindSelect:
		return child == KindOption
	default:
		return false
	}
}

// Element is one visual node of a page tree.
type Element struct {
	ID       string
	ParentID string
	PageID   string
	Kind     Kind
	Styles   map[string]string
	Content  string
	Payload  Payload
	Elements []*Element
}

// New returns an element of kind k with a zero payload.
func New(id string, k Kind) *Element {
	return &Element{
		ID:      id,
		Kind:    k,
		Styles:  map[string]string{},
		Payload: NewPayload(k),
	}
}

// Clone returns a deep copy of e and its subtree.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}

	c := &Element{
		ID:       e.ID,
		ParentID: e.ParentID,
		PageID:   e.PageID,
		Kind:     e.Kind,
		Content:  e.Content,
	}
	if e.Styles != nil {
		c.Styles = make(map[string]string, len(e.Styles))
		for k, v := range e.Styles {
			c.Styles[k] = v
		}
	}
	if e.Payload != nil {
		c.Payload = e.Payload.clone()
	}
	if len(e.Elements) > 0 {
		c.Elements = make([]*Element, len(e.Elements))
		for i, child := range e.Elements {
			c.Elements[i] = child.Clone()
		}
	}
	return c
}

// Shallow returns a copy of e without children.
func (e *Element) Shallow() *Element {
	c := &Element{
		ID:       e.ID,
		ParentID: e.ParentID,
		PageID:   e.PageID,
		Kind:     e.Kind,
		Content:  e.Content,
	}
	if e.Styles != nil {
		c.Styles = make(map[string]string, len(e.Styles))
		for k, v := range e.Styles {
			c.Styles[k] = v
		}
	}
	if e.Payload != nil {
		c.Payload = e.Payload.clone()
	}
	return c
}

// Walk visits e and its descendants in pre-order. Returning false from fn
// skips the children of the visited element.
func Walk(e *Element, fn func(*Element) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	for _, child := range e.Elements {
		Walk(child, fn)
	}
}

// IDs returns every id in e's subtree in pre-order.
func IDs(e *Element) []string {
	var ids []string
	Walk(e, func(el *Element) bool {
		ids = append(ids, el.ID)
		return true
	})
	return ids
}

// SortedStyleKeys returns the style keys of e in lexical order.
func (e *Element) SortedStyleKeys() []string {
	keys := make([]string, 0, len(e.Styles))
	for k := range e.Styles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
