package element

import (
	"github.com/conneroisu/pagecraft/internal/errors"
)

// Tree is the read-only view of a page that the validators need.
type Tree interface {
	Lookup(id string) (*Element, bool)
}

// Placement describes where an element is about to be put. For an insert
// Element is the whole new subtree; for a move it is the existing element.
type Placement struct {
	Element  *Element
	ParentID string
	PageID   string
	Move     bool
}

// CheckShape verifies a detached subtree on its own: known kinds, children
// only under containers, allowed containment, consistent explicit parent
// links and no repeated ids.
func CheckShape(root *Element) error {
	if root == nil {
		return errors.NewInvalidDescription("empty element")
	}

	seen := make(map[string]struct{})
	var failure error
	Walk(root, func(el *Element) bool {
		if failure != nil {
			return false
		}
		if !el.Kind.Valid() {
			failure = errors.NewInvalidDescription("unknown element kind %q", el.Kind).WithElement(el.ID)
			return false
		}
		if el.ID == "" {
			failure = errors.NewInvalidDescription("element of kind %q has no id", el.Kind)
			return false
		}
		if _, dup := seen[el.ID]; dup {
			failure = errors.NewDuplicateID(el.ID)
			return false
		}
		seen[el.ID] = struct{}{}

		if len(el.Elements) > 0 && !IsContainer(el.Kind) {
			failure = errors.NewInvalidDescription("kind %q cannot carry nested elements", el.Kind).WithElement(el.ID)
			return false
		}
		for _, child := range el.Elements {
			if child == nil {
				failure = errors.NewInvalidDescription("nil child").WithElement(el.ID)
				return false
			}
			if !CanContain(el.Kind, child.Kind) {
				failure = errors.NewInvalidDescription("kind %q cannot contain %q", el.Kind, child.Kind).WithElement(child.ID)
				return false
			}
			if child.ParentID != "" && child.ParentID != el.ID {
				failure = errors.NewInvalidDescription("child links to parent %q instead of %q", child.ParentID, el.ID).WithElement(child.ID)
				return false
			}
		}
		return true
	})
	return failure
}

// ValidatePlacement reports whether putting p.Element under p.ParentID on
// page p.PageID would break a tree invariant. It never mutates anything.
func ValidatePlacement(p Placement, tree Tree) error {
	el := p.Element
	if el == nil {
		return errors.NewInvalidDescription("empty element")
	}

	if p.Move {
		if _, ok := tree.Lookup(el.ID); !ok {
			return errors.NewNotFound(el.ID)
		}
	} else {
		if err := CheckShape(el); err != nil {
			return err
		}
		for _, id := range IDs(el) {
			if _, exists := tree.Lookup(id); exists {
				return errors.NewDuplicateID(id)
			}
		}
	}

	if p.ParentID == "" {
		return nil
	}

	if p.ParentID == el.ID {
		return errors.NewCycleDetected(el.ID, p.ParentID)
	}

	if !p.Move {
		for _, id := range IDs(el) {
			if id == p.ParentID {
				return errors.NewCycleDetected(el.ID, p.ParentID)
			}
		}
	}

	parent, ok := tree.Lookup(p.ParentID)
	if !ok {
		return errors.NewInvalidParent(el.ID, p.ParentID, "does not exist")
	}

	if p.Move && isAncestor(tree, el.ID, parent) {
		return errors.NewCycleDetected(el.ID, p.ParentID)
	}

	if !IsContainer(parent.Kind) {
		return errors.NewInvalidParent(el.ID, p.ParentID, "kind "+parent.Kind.String()+" is not a container")
	}
	if !CanContain(parent.Kind, el.Kind) {
		return errors.NewInvalidParent(el.ID, p.ParentID, "kind "+parent.Kind.String()+" cannot contain "+el.Kind.String())
	}
	if parent.PageID != p.PageID {
		return errors.NewInvalidParent(el.ID, p.ParentID, "belongs to another page")
	}

	return nil
}

// isAncestor reports whether id appears on the parent chain starting at
// from (inclusive).
func isAncestor(tree Tree, id string, from *Element) bool {
	visited := make(map[string]struct{})
	for cur := from; cur != nil; {
		if cur.ID == id {
			return true
		}
		if _, loop := visited[cur.ID]; loop {
			return true
		}
		visited[cur.ID] = struct{}{}
		if cur.ParentID == "" {
			return false
		}
		next, ok := tree.Lookup(cur.ParentID)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}
