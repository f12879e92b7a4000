package store

import (
	"time"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
)

// OpKind names a document mutation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpMove   OpKind = "move"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Structural reports whether the kind changes the shape of the tree.
func (k OpKind) Structural() bool {
	return k == OpInsert || k == OpMove || k == OpDelete
}

// Origin identifies who issued an operation. Seq is contiguous per session
// and drives ordering and duplicate detection; Clock is a Lamport clock
// used to break conflicts between sessions.
type Origin struct {
	Session string `json:"session"`
	Seq     uint64 `json:"seq"`
	Clock   uint64 `json:"clock"`
}

// Stamp returns the conflict-resolution key of the origin.
func (o Origin) Stamp() Stamp {
	return Stamp{Clock: o.Clock, Session: o.Session}
}

// Stamp orders concurrent writes: by clock, then by session id.
type Stamp struct {
	Clock   uint64 `json:"clock"`
	Session string `json:"session"`
}

// Less reports whether s loses against o.
func (s Stamp) Less(o Stamp) bool {
	if s.Clock != o.Clock {
		return s.Clock < o.Clock
	}
	return s.Session < o.Session
}

// Position selects a slot among siblings. After, when set and resolvable,
// wins over Index: an empty After means "first". Index -1 (or any index
// past the end) appends.
type Position struct {
	Index int     `json:"index"`
	After *string `json:"after,omitempty"`
}

// AtIndex places at index i, -1 appending.
func AtIndex(i int) Position {
	return Position{Index: i}
}

// Append places after the last sibling.
func Append() Position {
	return Position{Index: -1}
}

// AfterSibling places right after the sibling with the given id, or first
// when id is empty.
func AfterSibling(id string) Position {
	return Position{Index: -1, After: &id}
}

// Operation is one mutation of a page document. It is the unit that is
// journaled, sent over the wire and replayed.
type Operation struct {
	Kind     OpKind           `json:"kind"`
	ID       string           `json:"id"`
	ParentID string           `json:"parentId,omitempty"`
	Position Position         `json:"position"`
	Element  *element.Element `json:"element,omitempty"`
	Patch    *element.Patch   `json:"patch,omitempty"`
	Cascade  bool             `json:"cascade,omitempty"`
	Origin   Origin           `json:"origin"`
}

// Clone returns a copy that shares nothing mutable with op.
func (op Operation) Clone() Operation {
	c := op
	if op.Position.After != nil {
		after := *op.Position.After
		c.Position.After = &after
	}
	c.Element = op.Element.Clone()
	if op.Patch != nil {
		p := op.Patch.Select(func(string) bool { return true })
		c.Patch = &p
	}
	return c
}

func (op Operation) check() error {
	if op.Origin.Session == "" || op.Origin.Seq == 0 {
		return errors.NewInvalidDescription("operation on %q has no origin", op.ID)
	}
	if op.ID == "" {
		return errors.NewInvalidDescription("%s operation has no target id", op.Kind)
	}

	switch op.Kind {
	case OpInsert:
		if op.Element == nil {
			return errors.NewInvalidDescription("insert of %q carries no element", op.ID)
		}
		if op.Element.ID != op.ID {
			return errors.NewInvalidDescription("insert target %q does not match element %q", op.ID, op.Element.ID)
		}
	case OpUpdate:
		if op.Patch == nil || op.Patch.IsEmpty() {
			return errors.NewInvalidDescription("update of %q carries no attributes", op.ID)
		}
	case OpMove, OpDelete:
	default:
		return errors.NewInvalidDescription("unknown operation kind %q", op.Kind)
	}
	return nil
}

// Record is a journaled, successfully applied operation. Op carries the
// resolved position for inserts and moves.
type Record struct {
	Seq   uint64    `json:"seq"`
	Op    Operation `json:"op"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

// ChangeKind classifies change notifications.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeMoved    ChangeKind = "moved"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeReset    ChangeKind = "reset"
)

// Change is emitted after every successful mutation, once the tree is
// consistent again.
type Change struct {
	Kind ChangeKind
	Seq  uint64
	ID   string
	// ParentID is the parent after the change, or the former parent of a
	// deleted element.
	ParentID    string
	OldParentID string
	// Element is a copy of the resulting subtree; nil for deletes and resets.
	Element *element.Element
	Removed []string
}
