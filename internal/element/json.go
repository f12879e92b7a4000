package element

import (
	"encoding/json"
	"fmt"
)

// Wire is the serialized form of an element, shared by the JSON protocol
// and the YAML dumps of the CLI.
type Wire struct {
	ID       string            `json:"id" yaml:"id"`
	ParentID string            `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	PageID   string            `json:"pageId,omitempty" yaml:"pageId,omitempty"`
	Kind     Kind              `json:"kind" yaml:"kind"`
	Styles   map[string]string `json:"styles,omitempty" yaml:"styles,omitempty"`
	Content  string            `json:"content,omitempty" yaml:"content,omitempty"`
	Props    map[string]any    `json:"props,omitempty" yaml:"props,omitempty"`
	Elements []*Wire           `json:"elements,omitempty" yaml:"elements,omitempty"`
}

// ToWire converts e and its subtree to the serialized form.
func (e *Element) ToWire() *Wire {
	w := &Wire{
		ID:       e.ID,
		ParentID: e.ParentID,
		PageID:   e.PageID,
		Kind:     e.Kind,
		Styles:   e.Styles,
		Content:  e.Content,
	}
	if e.Payload != nil {
		if props := e.Payload.Props(); len(props) > 0 {
			w.Props = props
		}
	}
	for _, child := range e.Elements {
		w.Elements = append(w.Elements, child.ToWire())
	}
	return w
}

// FromWire rebuilds an element subtree, decoding payloads per kind.
func FromWire(w *Wire) (*Element, error) {
	if w == nil {
		return nil, fmt.Errorf("nil element")
	}
	kind, err := ParseKind(string(w.Kind))
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(kind, w.Props)
	if err != nil {
		return nil, err
	}

	e := &Element{
		ID:       w.ID,
		ParentID: w.ParentID,
		PageID:   w.PageID,
		Kind:     kind,
		Styles:   w.Styles,
		Content:  w.Content,
		Payload:  payload,
	}
	if e.Styles == nil {
		e.Styles = map[string]string{}
	}
	for _, cw := range w.Elements {
		child, err := FromWire(cw)
		if err != nil {
			return nil, err
		}
		e.Elements = append(e.Elements, child)
	}
	return e, nil
}

// MarshalJSON implements json.Marshaler.
func (e *Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToWire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Element) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := FromWire(&w)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}
