package builder

import (
	"testing"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const landingJSON = `{
	"kind": "section",
	"styles": {"padding": "24px"},
	"elements": [
		{"kind": "text", "content": "Welcome", "props": {"tag": "h1"}},
		{"kind": "form", "props": {"action": "/signup"}, "elements": [
			{"kind": "input", "props": {"name": "email", "placeholder": "you@example.com"}},
			{"kind": "select", "props": {"name": "plan"}, "elements": [
				{"kind": "option", "content": "Free", "props": {"value": "free"}},
				{"kind": "option", "content": "Pro", "props": {"value": "pro"}}
			]},
			{"kind": "button", "props": {"label": "Join"}}
		]}
	]
}`

func TestBuildAssignsIdentityAndLinks(t *testing.T) {
	b := New(&SequenceSource{Prefix: "el-"})

	root, err := b.BuildJSON([]byte(landingJSON), "parent-1", "page-1")
	require.NoError(t, err)

	assert.Equal(t, "el-1", root.ID)
	assert.Equal(t, "parent-1", root.ParentID)
	assert.Equal(t, "24px", root.Styles["padding"])

	seen := map[string]bool{}
	element.Walk(root, func(el *element.Element) bool {
		assert.False(t, seen[el.ID], "duplicate id %s", el.ID)
		seen[el.ID] = true
		assert.Equal(t, "page-1", el.PageID)
		for _, child := range el.Elements {
			assert.Equal(t, el.ID, child.ParentID)
		}
		return true
	})
	assert.Len(t, seen, 8)

	form := root.Elements[1]
	assert.Equal(t, element.KindForm, form.Kind)
	assert.Equal(t, "/signup", form.Payload.(*element.FormPayload).Action)
	sel := form.Elements[1]
	require.Len(t, sel.Elements, 2)
	assert.Equal(t, "pro", sel.Elements[1].Payload.(*element.OptionPayload).Value)

	assert.NoError(t, element.CheckShape(root))
}

func TestBuildIsReproducible(t *testing.T) {
	first, err := New(&SequenceSource{Prefix: "x"}).BuildJSON([]byte(landingJSON), "", "p")
	require.NoError(t, err)
	second, err := New(&SequenceSource{Prefix: "x"}).BuildJSON([]byte(landingJSON), "", "p")
	require.NoError(t, err)

	assert.Equal(t, first.ToWire(), second.ToWire())
}

func TestBuildRejectsInvalidDescriptions(t *testing.T) {
	testCases := []struct {
		name string
		json string
	}{
		{"unknown kind", `{"kind":"marquee"}`},
		{"leaf with children", `{"kind":"image","elements":[{"kind":"text"}]}`},
		{"cross kind child", `{"kind":"select","elements":[{"kind":"text"}]}`},
		{"nested unknown kind", `{"kind":"section","elements":[{"kind":"section","elements":[{"kind":"?"}]}]}`},
		{"bad prop", `{"kind":"image","props":{"width":3}}`},
		{"malformed json", `{"kind":`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ids := &SequenceSource{}
			_, err := New(ids).BuildJSON([]byte(tc.json), "", "p")
			assert.True(t, errors.Is(err, errors.ErrInvalidDescription), "got %v", err)
		})
	}
}

func TestNonListElementsIsOpaque(t *testing.T) {
	tests := []struct {
		name        string
		json        string
		yaml        string
		wantContent string
	}{
		{name: "content wins", json: `{"kind":"text","content":"hi","elements":"not a list"}`, wantContent: "hi"},
		{name: "string becomes content", json: `{"kind":"text","elements":"not a list"}`, wantContent: "not a list"},
		{name: "object becomes json content", json: `{"kind":"section","elements":{"a":1}}`, wantContent: `{"a":1}`},
		{name: "yaml scalar", yaml: "kind: text\nelements: 5\n", wantContent: "5"},
		{name: "yaml mapping", yaml: "kind: text\nelements:\n  b: two\n", wantContent: `{"b":"two"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(&SequenceSource{})
			var el *element.Element
			var err error
			if tt.yaml != "" {
				el, err = b.BuildYAML([]byte(tt.yaml), "", "p")
			} else {
				el, err = b.BuildJSON([]byte(tt.json), "", "p")
			}
			require.NoError(t, err)
			assert.Empty(t, el.Elements)
			assert.Equal(t, tt.wantContent, el.Content)
		})
	}

	var desc Description
	require.NoError(t, desc.UnmarshalJSON([]byte(`{"kind":"section","elements":{"a":1}}`)))
	assert.Empty(t, desc.Elements)
	assert.Equal(t, map[string]any{"a": 1.0}, desc.Extra)
}

func TestBuildYAML(t *testing.T) {
	doc := `
kind: container
props:
  layout: row
elements:
  - kind: image
    props:
      src: /hero.png
  - kind: chart
    props:
      chartType: pie
      series: [1, 2, 3]
`
	el, err := New(&SequenceSource{Prefix: "y"}).BuildYAML([]byte(doc), "", "p")
	require.NoError(t, err)
	assert.Equal(t, "row", el.Payload.(*element.ContainerPayload).Layout)
	require.Len(t, el.Elements, 2)
	assert.Equal(t, "/hero.png", el.Elements[0].Payload.(*element.ImagePayload).Src)
}

func TestUUIDSource(t *testing.T) {
	el, err := New(nil).Build(Description{Kind: "section", Elements: []Description{{Kind: "text"}}}, "", "p")
	require.NoError(t, err)
	assert.Len(t, el.ID, 36)
	assert.NotEqual(t, el.ID, el.Elements[0].ID)
}

func TestDescriptionCount(t *testing.T) {
	var desc Description
	require.NoError(t, desc.UnmarshalJSON([]byte(landingJSON)))
	assert.Equal(t, 8, desc.Count())
}
