package store

import (
	"fmt"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
)

// Check walks the whole document and verifies the tree invariants: every
// parent link resolves, every container's children are exactly the
// elements pointing at it, no element is reachable twice, and containment
// rules hold. It is meant for tests and debugging.
func (s *Store) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(s.nodes))
	var visit func(list []*element.Element, parent *element.Element) error
	visit = func(list []*element.Element, parent *element.Element) error {
		parentID := ""
		if parent != nil {
			parentID = parent.ID
		}
		for _, el := range list {
			if _, dup := seen[el.ID]; dup {
				return violation("element %q is reachable twice", el.ID)
			}
			seen[el.ID] = struct{}{}

			if el.ParentID != parentID {
				return violation("element %q links to %q but sits under %q", el.ID, el.ParentID, parentID)
			}
			if el.PageID != s.pageID {
				return violation("element %q belongs to page %q", el.ID, el.PageID)
			}
			if indexed, ok := s.nodes[el.ID]; !ok || indexed != el {
				return violation("element %q is not indexed", el.ID)
			}
			if parent != nil && !element.CanContain(parent.Kind, el.Kind) {
				return violation("%s %q cannot contain %s %q", parent.Kind, parent.ID, el.Kind, el.ID)
			}
			if len(el.Elements) > 0 && !element.IsContainer(el.Kind) {
				return violation("leaf %q has children", el.ID)
			}
			if err := visit(el.Elements, el); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(s.roots, nil); err != nil {
		return err
	}
	if len(seen) != len(s.nodes) {
		return violation("%d indexed elements are detached from the tree", len(s.nodes)-len(seen))
	}
	return nil
}

func violation(format string, args ...interface{}) error {
	return errors.NewInternalError(fmt.Sprintf(format, args...), nil)
}
