package builder

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Description is a partial, untrusted element description: dropped from a
// template, pasted, or received without identity. It carries no ids.
type Description struct {
	Kind     string            `json:"kind" yaml:"kind"`
	Styles   map[string]string `json:"styles,omitempty" yaml:"styles,omitempty"`
	Content  string            `json:"content,omitempty" yaml:"content,omitempty"`
	Props    map[string]any    `json:"props,omitempty" yaml:"props,omitempty"`
	Elements []Description     `json:"elements,omitempty" yaml:"elements,omitempty"`

	// Extra keeps an `elements` value that was not a list. It never becomes
	// children; an element without content carries it as its content.
	Extra any `json:"-" yaml:"-"`
}

type descriptionFields struct {
	Kind     string            `json:"kind" yaml:"kind"`
	Styles   map[string]string `json:"styles" yaml:"styles"`
	Content  string            `json:"content" yaml:"content"`
	Props    map[string]any    `json:"props" yaml:"props"`
	Elements json.RawMessage   `json:"elements" yaml:"-"`
}

// UnmarshalJSON accepts any JSON type for `elements`.
func (d *Description) UnmarshalJSON(data []byte) error {
	var f descriptionFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*d = Description{Kind: f.Kind, Styles: f.Styles, Content: f.Content, Props: f.Props}

	raw := bytes.TrimSpace(f.Elements)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil
	case raw[0] == '[':
		return json.Unmarshal(raw, &d.Elements)
	default:
		return json.Unmarshal(raw, &d.Extra)
	}
}

// UnmarshalYAML accepts any YAML node for `elements`.
func (d *Description) UnmarshalYAML(value *yaml.Node) error {
	var f struct {
		Kind     string            `yaml:"kind"`
		Styles   map[string]string `yaml:"styles"`
		Content  string            `yaml:"content"`
		Props    map[string]any    `yaml:"props"`
		Elements yaml.Node         `yaml:"elements"`
	}
	if err := value.Decode(&f); err != nil {
		return err
	}
	*d = Description{Kind: f.Kind, Styles: f.Styles, Content: f.Content, Props: f.Props}

	switch {
	case f.Elements.Kind == 0 || f.Elements.Tag == "!!null":
		return nil
	case f.Elements.Kind == yaml.SequenceNode:
		return f.Elements.Decode(&d.Elements)
	default:
		return f.Elements.Decode(&d.Extra)
	}
}

// content is the element content: Content, or else Extra as text.
func (d Description) content() string {
	if d.Content != "" || d.Extra == nil {
		return d.Content
	}
	if s, ok := d.Extra.(string); ok {
		return s
	}
	data, err := json.Marshal(d.Extra)
	if err != nil {
		return ""
	}
	return string(data)
}

// Count returns the number of elements the description materializes into.
func (d Description) Count() int {
	n := 1
	for _, child := range d.Elements {
		n += child.Count()
	}
	return n
}
