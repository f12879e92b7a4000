package element

import (
	"sort"
	"strings"

	"github.com/conneroisu/pagecraft/internal/errors"
)

// Patch is a partial attribute update. It can never touch id, parent or
// page; those change only through insert, move and delete.
type Patch struct {
	// Styles merges into the element styles; a nil value removes the key.
	Styles  map[string]*string `json:"styles,omitempty" yaml:"styles,omitempty"`
	Content *string            `json:"content,omitempty" yaml:"content,omitempty"`
	Props   map[string]any     `json:"props,omitempty" yaml:"props,omitempty"`
}

const (
	fieldContent     = "content"
	fieldStylePrefix = "styles."
	fieldPropPrefix  = "props."
)

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Styles) == 0 && p.Content == nil && len(p.Props) == 0
}

// Fields names every attribute the patch touches, sorted. These names are
// the unit of last-writer-wins resolution.
func (p Patch) Fields() []string {
	fields := make([]string, 0, len(p.Styles)+len(p.Props)+1)
	if p.Content != nil {
		fields = append(fields, fieldContent)
	}
	for k := range p.Styles {
		fields = append(fields, fieldStylePrefix+k)
	}
	for k := range p.Props {
		fields = append(fields, fieldPropPrefix+k)
	}
	sort.Strings(fields)
	return fields
}

// Select returns the sub-patch of fields accepted by keep.
func (p Patch) Select(keep func(field string) bool) Patch {
	var out Patch
	if p.Content != nil && keep(fieldContent) {
		c := *p.Content
		out.Content = &c
	}
	for k, v := range p.Styles {
		if keep(fieldStylePrefix + k) {
			if out.Styles == nil {
				out.Styles = make(map[string]*string)
			}
			out.Styles[k] = v
		}
	}
	for k, v := range p.Props {
		if keep(fieldPropPrefix + k) {
			if out.Props == nil {
				out.Props = make(map[string]any)
			}
			out.Props[k] = v
		}
	}
	return out
}

// IsPropField reports whether a field name from Fields addresses a payload
// property.
func IsPropField(field string) bool {
	return strings.HasPrefix(field, fieldPropPrefix)
}

// ApplyPatch merges p into el. Payload properties are validated against a
// copy first, so a rejected patch leaves el untouched.
func ApplyPatch(el *Element, p Patch) error {
	var payload Payload
	if len(p.Props) > 0 {
		if el.Payload == nil {
			el.Payload = NewPayload(el.Kind)
		}
		payload = el.Payload.clone()
		keys := make([]string, 0, len(p.Props))
		for k := range p.Props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := payload.set(k, p.Props[k]); err != nil {
				return errors.NewInvalidDescription("%v", err).WithElement(el.ID)
			}
		}
	}

	if payload != nil {
		el.Payload = payload
	}
	if p.Content != nil {
		el.Content = *p.Content
	}
	for k, v := range p.Styles {
		if el.Styles == nil {
			el.Styles = make(map[string]string)
		}
		if v == nil {
			delete(el.Styles, k)
			continue
		}
		el.Styles[k] = *v
	}
	return nil
}

// StringPtr is a small helper for building patches.
func StringPtr(s string) *string {
	return &s
}
