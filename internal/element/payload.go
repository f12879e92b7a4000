package element

import "fmt"

// Payload holds the kind-specific fields of an element. The set of
// implementations is closed: one per Kind, all defined in this file.
type Payload interface {
	Kind() Kind
	// Props returns the payload fields keyed by their wire names.
	Props() map[string]any
	clone() Payload
	set(key string, value any) error
}

type (
	SectionPayload   struct{}
	ContainerPayload struct{ Layout string }
	FormPayload      struct{ Action, Method string }
	SelectPayload    struct {
		Name     string
		Multiple bool
	}
	TextPayload  struct{ Tag string }
	InputPayload struct{ InputType, Name, Placeholder string }
	ImagePayload struct{ Src, Alt string }
	ChartPayload struct {
		ChartType string
		Series    any
	}
	DataTablePayload struct{ Columns, Rows any }
	ButtonPayload    struct{ Label, Href string }
	OptionPayload    struct {
		Value    string
		Selected bool
	}
	VideoPayload struct {
		Src      string
		Autoplay bool
	}
)

// NewPayload returns the zero payload for k, or nil for an unknown kind.
func NewPayload(k Kind) Payload {
	switch k {
	case KindSection:
		return &SectionPayload{}
	case KindContainer:
		return &ContainerPayload{Layout: "column"}
	case KindForm:
		return &FormPayload{Method: "post"}
	case KindSelect:
		return &SelectPayload{}
	case KindText:
		return &TextPayload{Tag: "p"}
	case KindInput:
		return &InputPayload{InputType: "text"}
	case KindImage:
		return &ImagePayload{}
	case KindChart:
		return &ChartPayload{ChartType: "bar"}
	case KindDataTable:
		return &DataTablePayload{}
	case KindButton:
		return &ButtonPayload{}
	case KindOption:
		return &OptionPayload{}
	case KindVideo:
		return &VideoPayload{}
	default:
		return nil
	}
}

// DecodePayload builds the payload of kind k from wire props. Unknown
// property names and wrongly typed values are rejected.
func DecodePayload(k Kind, props map[string]any) (Payload, error) {
	p := NewPayload(k)
	if p == nil {
		return nil, fmt.Errorf("unknown element kind %q", k)
	}
	for key, value := range props {
		if err := p.set(key, value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func asString(key string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("property %q must be a string, got %T", key, v)
	}
}

func asBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("property %q must be a boolean, got %T", key, v)
	}
}

func unknownProp(k Kind, key string) error {
	return fmt.Errorf("kind %q has no property %q", k, key)
}

func (p *SectionPayload) Kind() Kind            { return KindSection }
func (p *SectionPayload) Props() map[string]any { return map[string]any{} }
func (p *SectionPayload) clone() Payload        { c := *p; return &c }
func (p *SectionPayload) set(key string, _ any) error {
	return unknownProp(KindSection, key)
}

func (p *ContainerPayload) Kind() Kind { return KindContainer }
func (p *ContainerPayload) Props() map[string]any {
	return map[string]any{"layout": p.Layout}
}
func (p *ContainerPayload) clone() Payload { c := *p; return &c }
func (p *ContainerPayload) set(key string, v any) (err error) {
	switch key {
	case "layout":
		var layout string
		if layout, err = asString(key, v); err != nil {
			return err
		}
		switch layout {
		case "row", "column", "grid":
			p.Layout = layout
		default:
			return fmt.Errorf("layout must be row, column or grid, got %q", layout)
		}
		return nil
	default:
		return unknownProp(KindContainer, key)
	}
}

func (p *FormPayload) Kind() Kind { return KindForm }
func (p *FormPayload) Props() map[string]any {
	return map[string]any{"action": p.Action, "method": p.Method}
}
func (p *FormPayload) clone() Payload { c := *p; return &c }
func (p *FormPayload) set(key string, v any) (err error) {
	switch key {
	case "action":
		p.Action, err = asString(key, v)
	case "method":
		p.Method, err = asString(key, v)
	default:
		err = unknownProp(KindForm, key)
	}
	return err
}

func (p *SelectPayload) Kind() Kind { return KindSelect }
func (p *SelectPayload) Props() map[string]any {
	return map[string]any{"name": p.Name, "multiple": p.Multiple}
}
func (p *SelectPayload) clone() Payload { c := *p; return &c }
func (p *SelectPayload) set(key string, v any) (err error) {
	switch key {
	case "name":
		p.Name, err = asString(key, v)
	case "multiple":
		p.Multiple, err = asBool(key, v)
	default:
		err = unknownProp(KindSelect, key)
	}
	return err
}

func (p *TextPayload) Kind() Kind { return KindText }
func (p *TextPayload) Props() map[string]any {
	return map[string]any{"tag": p.Tag}
}
func (p *TextPayload) clone() Payload { c := *p; return &c }
func (p *TextPayload) set(key string, v any) error {
	if key != "tag" {
		return unknownProp(KindText, key)
	}
	tag, err := asString(key, v)
	if err != nil {
		return err
	}
	switch tag {
	case "p", "span", "h1", "h2", "h3", "h4", "h5", "h6":
		p.Tag = tag
		return nil
	default:
		return fmt.Errorf("text tag %q is not allowed", tag)
	}
}

func (p *InputPayload) Kind() Kind { return KindInput }
func (p *InputPayload) Props() map[string]any {
	return map[string]any{"inputType": p.InputType, "name": p.Name, "placeholder": p.Placeholder}
}
func (p *InputPayload) clone() Payload { c := *p; return &c }
func (p *InputPayload) set(key string, v any) (err error) {
	switch key {
	case "inputType":
		p.InputType, err = asString(key, v)
	case "name":
		p.Name, err = asString(key, v)
	case "placeholder":
		p.Placeholder, err = asString(key, v)
	default:
		err = unknownProp(KindInput, key)
	}
	return err
}

func (p *ImagePayload) Kind() Kind { return KindImage }
func (p *ImagePayload) Props() map[string]any {
	return map[string]any{"src": p.Src, "alt": p.Alt}
}
func (p *ImagePayload) clone() Payload { c := *p; return &c }
func (p *ImagePayload) set(key string, v any) (err error) {
	switch key {
	case "src":
		p.Src, err = asString(key, v)
	case "alt":
		p.Alt, err = asString(key, v)
	default:
		err = unknownProp(KindImage, key)
	}
	return err
}

func (p *ChartPayload) Kind() Kind { return KindChart }
func (p *ChartPayload) Props() map[string]any {
	return map[string]any{"chartType": p.ChartType, "series": p.Series}
}
func (p *ChartPayload) clone() Payload { c := *p; return &c }
func (p *ChartPayload) set(key string, v any) (err error) {
	switch key {
	case "chartType":
		p.ChartType, err = asString(key, v)
	case "series":
		p.Series = v
	default:
		err = unknownProp(KindChart, key)
	}
	return err
}

func (p *DataTablePayload) Kind() Kind { return KindDataTable }
func (p *DataTablePayload) Props() map[string]any {
	return map[string]any{"columns": p.Columns, "rows": p.Rows}
}
func (p *DataTablePayload) clone() Payload { c := *p; return &c }
func (p *DataTablePayload) set(key string, v any) error {
	switch key {
	case "columns":
		p.Columns = v
	case "rows":
		p.Rows = v
	default:
		return unknownProp(KindDataTable, key)
	}
	return nil
}

func (p *ButtonPayload) Kind() Kind { return KindButton }
func (p *ButtonPayload) Props() map[string]any {
	return map[string]any{"label": p.Label, "href": p.Href}
}
func (p *ButtonPayload) clone() Payload { c := *p; return &c }
func (p *ButtonPayload) set(key string, v any) (err error) {
	switch key {
	case "label":
		p.Label, err = asString(key, v)
	case "href":
		p.Href, err = asString(key, v)
	default:
		err = unknownProp(KindButton, key)
	}
	return err
}

func (p *OptionPayload) Kind() Kind { return KindOption }
func (p *OptionPayload) Props() map[string]any {
	return map[string]any{"value": p.Value, "selected": p.Selected}
}
func (p *OptionPayload) clone() Payload { c := *p; return &c }
func (p *OptionPayload) set(key string, v any) (err error) {
	switch key {
	case "value":
		p.Value, err = asString(key, v)
	case "selected":
		p.Selected, err = asBool(key, v)
	default:
		err = unknownProp(KindOption, key)
	}
	return err
}

func (p *VideoPayload) Kind() Kind { return KindVideo }
func (p *VideoPayload) Props() map[string]any {
	return map[string]any{"src": p.Src, "autoplay": p.Autoplay}
}
func (p *VideoPayload) clone() Payload { c := *p; return &c }
func (p *VideoPayload) set(key string, v any) (err error) {
	switch key {
	case "src":
		p.Src, err = asString(key, v)
	case "autoplay":
		p.Autoplay, err = asBool(key, v)
	default:
		err = unknownProp(KindVideo, key)
	}
	return err
}
