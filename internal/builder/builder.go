// Package builder materializes untrusted element descriptions into
// fully-identified element subtrees ready for insertion into a store.
//
// The only non-deterministic input is the IDSource: given the same
// description and the same id sequence, Build produces the same tree.
package builder

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
)

// IDSource generates element identities.
type IDSource interface {
	NewID() string
}

// UUIDSource issues random UUIDv4 ids.
type UUIDSource struct{}

// NewID implements IDSource.
func (UUIDSource) NewID() string {
	return uuid.NewString()
}

// SequenceSource issues prefix1, prefix2, ... and is safe for concurrent use.
type SequenceSource struct {
	Prefix string

	mu   sync.Mutex
	next int
}

// NewID implements IDSource.
func (s *SequenceSource) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s%d", s.Prefix, s.next)
}

// Builder turns descriptions into element trees.
type Builder struct {
	ids IDSource
}

// New returns a builder drawing ids from ids, or from UUIDSource when nil.
func New(ids IDSource) *Builder {
	if ids == nil {
		ids = UUIDSource{}
	}
	return &Builder{ids: ids}
}

// Build validates desc and produces a new subtree whose root is linked to
// parentID (empty for a root-level element) on pageID. Every descendant
// gets a fresh id and a parent link matching its position.
func (b *Builder) Build(desc Description, parentID, pageID string) (*element.Element, error) {
	if err := validate(desc, ""); err != nil {
		return nil, err
	}
	return b.build(desc, parentID, pageID)
}

// BuildJSON decodes a JSON description and builds it.
func (b *Builder) BuildJSON(data []byte, parentID, pageID string) (*element.Element, error) {
	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, errors.NewInvalidDescription("decode description: %v", err)
	}
	return b.Build(desc, parentID, pageID)
}

// BuildYAML decodes a YAML description and builds it.
func (b *Builder) BuildYAML(data []byte, parentID, pageID string) (*element.Element, error) {
	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, errors.NewInvalidDescription("decode description: %v", err)
	}
	return b.Build(desc, parentID, pageID)
}

// validate checks the whole description before any id is drawn.
func validate(desc Description, path string) error {
	if path == "" {
		path = desc.Kind
	}

	kind, err := element.ParseKind(desc.Kind)
	if err != nil {
		return errors.NewInvalidDescription("%s: %v", path, err)
	}
	if _, err := element.DecodePayload(kind, desc.Props); err != nil {
		return errors.NewInvalidDescription("%s: %v", path, err)
	}
	if len(desc.Elements) > 0 && !element.IsContainer(kind) {
		return errors.NewInvalidDescription("%s: kind %q cannot carry nested elements", path, kind)
	}

	for i, child := range desc.Elements {
		childPath := fmt.Sprintf("%s.elements[%d]", path, i)
		childKind, err := element.ParseKind(child.Kind)
		if err != nil {
			return errors.NewInvalidDescription("%s: %v", childPath, err)
		}
		if !element.CanContain(kind, childKind) {
			return errors.NewInvalidDescription("%s: kind %q cannot contain %q", childPath, kind, childKind)
		}
		if err := validate(child, childPath); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) build(desc Description, parentID, pageID string) (*element.Element, error) {
	kind := element.Kind(desc.Kind)
	payload, err := element.DecodePayload(kind, desc.Props)
	if err != nil {
		return nil, errors.NewInvalidDescription("%v", err)
	}

	el := &element.Element{
		ID:       b.ids.NewID(),
		ParentID: parentID,
		PageID:   pageID,
		Kind:     kind,
		Styles:   make(map[string]string, len(desc.Styles)),
		Content:  desc.content(),
		Payload:  payload,
	}
	for k, v := range desc.Styles {
		el.Styles[k] = v
	}

	for _, childDesc := range desc.Elements {
		child, err := b.build(childDesc, el.ID, pageID)
		if err != nil {
			return nil, err
		}
		el.Elements = append(el.Elements, child)
	}
	return el, nil
}
