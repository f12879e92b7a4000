// Package store holds the authoritative element tree of one page. Every
// structural and attribute change goes through Apply, which enforces the
// tree invariants, resolves conflicts between sessions, journals the
// result and notifies subscribers.
package store

import (
	"sync"
	"time"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
)

// DefaultJournalSize is the number of records kept for replay.
const DefaultJournalSize = 1024

// DefaultActor is the session name used by the convenience mutators.
const DefaultActor = "local"

type index map[string]*element.Element

func (ix index) Lookup(id string) (*element.Element, bool) {
	el, ok := ix[id]
	return el, ok
}

// Store is the document of one page.
type Store struct {
	mu sync.RWMutex

	pageID      string
	actor       string
	now         func() time.Time
	journalSize int

	styles map[string]string
	roots  []*element.Element
	nodes  index

	seq        uint64
	clock      uint64
	watermarks map[string]uint64
	placed     map[string]Stamp
	fields     map[string]map[string]Stamp

	journal []Record

	watchers []chan Change
}

// Option configures a Store.
type Option func(*Store)

// WithActor sets the session name stamped on Insert, Move, Update and
// Delete.
func WithActor(actor string) Option {
	return func(s *Store) { s.actor = actor }
}

// WithJournalSize bounds the replay journal.
func WithJournalSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.journalSize = n
		}
	}
}

// WithNow overrides the record timestamp source.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty document for pageID.
func New(pageID string, opts ...Option) *Store {
	s := &Store{
		pageID:      pageID,
		actor:       DefaultActor,
		now:         time.Now,
		journalSize: DefaultJournalSize,
		styles:      map[string]string{},
		nodes:       index{},
		watermarks:  map[string]uint64{},
		placed:      map[string]Stamp{},
		fields:      map[string]map[string]Stamp{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PageID returns the page this document belongs to.
func (s *Store) PageID() string {
	return s.pageID
}

// Seq returns the page sequence: the number of mutations applied so far.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Clock returns the Lamport clock.
func (s *Store) Clock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// Tick advances the Lamport clock for a new local operation and returns it.
func (s *Store) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock++
	return s.clock
}

// Watermark returns the highest origin sequence applied for session.
func (s *Store) Watermark(session string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermarks[session]
}

// Len returns the number of live elements.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// PageStyles returns a copy of the page-level styles.
func (s *Store) PageStyles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.styles))
	for k, v := range s.styles {
		out[k] = v
	}
	return out
}

// Get returns a copy of the element and its subtree.
func (s *Store) Get(id string) (*element.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.nodes[id]
	if !ok {
		return nil, errors.NewNotFound(id).WithPage(s.pageID)
	}
	return el.Clone(), nil
}

// ChildrenOf returns childless copies of the ordered children of parentID,
// or of the root-level elements when parentID is empty. Use Get for a
// subtree.
func (s *Store) ChildrenOf(parentID string) ([]*element.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.roots
	if parentID != "" {
		parent, ok := s.nodes[parentID]
		if !ok {
			return nil, errors.NewNotFound(parentID).WithPage(s.pageID)
		}
		list = parent.Elements
	}

	out := make([]*element.Element, len(list))
	for i, el := range list {
		out[i] = el.Shallow()
	}
	return out, nil
}

// Insert adds el under parentID at index (-1 appends) as the store actor.
func (s *Store) Insert(el *element.Element, parentID string, index int) (*Record, error) {
	if el == nil {
		return nil, errors.NewInvalidDescription("empty element")
	}
	return s.applyLocal(Operation{Kind: OpInsert, ID: el.ID, ParentID: parentID, Position: AtIndex(index), Element: el})
}

// Move re-parents id under parentID at index as the store actor.
func (s *Store) Move(id, parentID string, index int) (*Record, error) {
	return s.applyLocal(Operation{Kind: OpMove, ID: id, ParentID: parentID, Position: AtIndex(index)})
}

// Update merges patch into id as the store actor.
func (s *Store) Update(id string, patch element.Patch) (*Record, error) {
	return s.applyLocal(Operation{Kind: OpUpdate, ID: id, Patch: &patch})
}

// Delete removes id as the store actor. Without cascade an element with
// children is refused.
func (s *Store) Delete(id string, cascade bool) (*Record, error) {
	return s.applyLocal(Operation{Kind: OpDelete, ID: id, Cascade: cascade})
}

func (s *Store) applyLocal(op Operation) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op.Origin = Origin{
		Session: s.actor,
		Seq:     s.watermarks[s.actor] + 1,
		Clock:   s.clock + 1,
	}
	return s.apply(op)
}

// Apply is the single mutating entry point. An operation whose origin
// sequence was already applied for its session returns (nil, nil) and
// changes nothing. A rejected operation leaves the tree untouched and does
// not consume its origin sequence.
func (s *Store) Apply(op Operation) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(op)
}

func (s *Store) apply(op Operation) (*Record, error) {
	if err := op.check(); err != nil {
		return nil, err
	}
	if op.Origin.Seq <= s.watermarks[op.Origin.Session] {
		return nil, nil
	}
	if op.Origin.Clock > s.clock {
		s.clock = op.Origin.Clock
	}

	var (
		resolved Operation
		change   Change
		err      error
	)
	switch op.Kind {
	case OpInsert:
		resolved, change, err = s.insert(op)
	case OpMove:
		resolved, change, err = s.move(op)
	case OpUpdate:
		resolved, change, err = s.update(op)
	case OpDelete:
		resolved, change, err = s.remove(op)
	}
	if err != nil {
		return nil, err
	}

	s.watermarks[op.Origin.Session] = op.Origin.Seq
	s.seq++
	rec := Record{Seq: s.seq, Op: resolved, Actor: op.Origin.Session, At: s.now()}
	s.journal = append(s.journal, rec)
	if over := len(s.journal) - s.journalSize; over > 0 {
		s.journal = append([]Record(nil), s.journal[over:]...)
	}

	change.Seq = s.seq
	s.notify(change)

	out := rec
	out.Op = rec.Op.Clone()
	return &out, nil
}

func (s *Store) insert(op Operation) (Operation, Change, error) {
	el := op.Element.Clone()
	if el.PageID != "" && el.PageID != s.pageID {
		return op, Change{}, errors.NewInvalidParent(el.ID, op.ParentID, "element belongs to page "+el.PageID).WithPage(s.pageID)
	}
	el.ParentID = op.ParentID

	if err := element.ValidatePlacement(element.Placement{
		Element:  el,
		ParentID: op.ParentID,
		PageID:   s.pageID,
	}, s.nodes); err != nil {
		return op, Change{}, withPage(err, s.pageID)
	}

	stamp := op.Origin.Stamp()
	element.Walk(el, func(e *element.Element) bool {
		e.PageID = s.pageID
		for _, child := range e.Elements {
			child.ParentID = e.ID
		}
		if e.Styles == nil {
			e.Styles = map[string]string{}
		}
		if e.Payload == nil {
			e.Payload = element.NewPayload(e.Kind)
		}
		s.nodes[e.ID] = e
		s.placed[e.ID] = stamp
		return true
	})

	resolved := op.Clone()
	resolved.Position = s.attach(el, op.ParentID, op.Position)
	resolved.Element = el.Clone()

	return resolved, Change{Kind: ChangeInserted, ID: el.ID, ParentID: el.ParentID, Element: el.Clone()}, nil
}

func (s *Store) move(op Operation) (Operation, Change, error) {
	el, ok := s.nodes[op.ID]
	if !ok {
		return op, Change{}, errors.NewNotFound(op.ID).WithPage(s.pageID)
	}
	stamp := op.Origin.Stamp()
	if stamp.Less(s.placed[op.ID]) {
		return op, Change{}, errors.NewSuperseded(op.ID, "a newer structural change already placed this element").WithPage(s.pageID)
	}
	if err := element.ValidatePlacement(element.Placement{
		Element:  el,
		ParentID: op.ParentID,
		PageID:   s.pageID,
		Move:     true,
	}, s.nodes); err != nil {
		return op, Change{}, withPage(err, s.pageID)
	}

	oldParent := el.ParentID
	s.detach(el)
	el.ParentID = op.ParentID
	s.placed[op.ID] = stamp

	resolved := op.Clone()
	resolved.Position = s.attach(el, op.ParentID, op.Position)

	return resolved, Change{
		Kind:        ChangeMoved,
		ID:          el.ID,
		ParentID:    el.ParentID,
		OldParentID: oldParent,
		Element:     el.Clone(),
	}, nil
}

func (s *Store) update(op Operation) (Operation, Change, error) {
	el, ok := s.nodes[op.ID]
	if !ok {
		return op, Change{}, errors.NewNotFound(op.ID).WithPage(s.pageID)
	}

	stamp := op.Origin.Stamp()
	current := s.fields[op.ID]
	accepted := op.Patch.Select(func(field string) bool {
		prev, seen := current[field]
		return !seen || !stamp.Less(prev)
	})
	if accepted.IsEmpty() {
		return op, Change{}, errors.NewSuperseded(op.ID, "every attribute was written by a newer change").WithPage(s.pageID)
	}
	if err := element.ApplyPatch(el, accepted); err != nil {
		return op, Change{}, withPage(err, s.pageID)
	}

	if current == nil {
		current = make(map[string]Stamp)
		s.fields[op.ID] = current
	}
	for _, field := range accepted.Fields() {
		current[field] = stamp
	}

	return op.Clone(), Change{Kind: ChangeUpdated, ID: el.ID, ParentID: el.ParentID, Element: el.Clone()}, nil
}

func (s *Store) remove(op Operation) (Operation, Change, error) {
	el, ok := s.nodes[op.ID]
	if !ok {
		return op, Change{}, errors.NewNotFound(op.ID).WithPage(s.pageID)
	}
	if op.Origin.Stamp().Less(s.placed[op.ID]) {
		return op, Change{}, errors.NewSuperseded(op.ID, "a newer structural change already placed this element").WithPage(s.pageID)
	}
	if !op.Cascade && len(el.Elements) > 0 {
		return op, Change{}, errors.NewNotEmpty(op.ID, len(el.Elements)).WithPage(s.pageID)
	}

	s.detach(el)
	removed := element.IDs(el)
	for _, id := range removed {
		delete(s.nodes, id)
		delete(s.placed, id)
		delete(s.fields, id)
	}

	return op.Clone(), Change{Kind: ChangeDeleted, ID: el.ID, ParentID: el.ParentID, Removed: removed}, nil
}

// Reconcile re-places one of this replica's own operations where the
// authority resolved it. It is used when a session receives the echo of an
// operation it already applied optimistically; attribute and delete echoes
// need no repair. Reconcile skips elements a newer local structural change
// has touched since.
func (s *Store) Reconcile(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.Kind != OpInsert && op.Kind != OpMove {
		return nil
	}
	el, ok := s.nodes[op.ID]
	if !ok {
		return errors.NewNotFound(op.ID).WithPage(s.pageID)
	}
	if s.placed[op.ID] != op.Origin.Stamp() {
		return nil
	}
	if op.ParentID != "" {
		if _, ok := s.nodes[op.ParentID]; !ok {
			return errors.NewInvalidParent(op.ID, op.ParentID, "does not exist").WithPage(s.pageID)
		}
	}
	if el.ParentID == op.ParentID && s.anchorOf(el) == anchorValue(op.Position) {
		return nil
	}
	if err := element.ValidatePlacement(element.Placement{
		Element:  el,
		ParentID: op.ParentID,
		PageID:   s.pageID,
		Move:     true,
	}, s.nodes); err != nil {
		return withPage(err, s.pageID)
	}

	oldParent := el.ParentID
	s.detach(el)
	el.ParentID = op.ParentID
	s.attach(el, op.ParentID, op.Position)

	s.notify(Change{
		Kind:        ChangeMoved,
		Seq:         s.seq,
		ID:          el.ID,
		ParentID:    el.ParentID,
		OldParentID: oldParent,
		Element:     el.Clone(),
	})
	return nil
}

// Journal returns the records applied after since. The boolean is false
// when the journal no longer holds all of them.
func (s *Store) Journal(since uint64) ([]Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if since >= s.seq {
		return nil, true
	}
	if len(s.journal) == 0 || s.journal[0].Seq > since+1 {
		return nil, false
	}

	start := int(since + 1 - s.journal[0].Seq)
	out := make([]Record, 0, len(s.journal)-start)
	for _, rec := range s.journal[start:] {
		rec.Op = rec.Op.Clone()
		out = append(out, rec)
	}
	return out, true
}

func (s *Store) siblings(parentID string) *[]*element.Element {
	if parentID == "" {
		return &s.roots
	}
	return &s.nodes[parentID].Elements
}

func (s *Store) detach(el *element.Element) {
	list := s.siblings(el.ParentID)
	for i, sib := range *list {
		if sib == el {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// attach inserts el among the children of parentID and returns the
// position it ended up at, with After set to the preceding sibling.
func (s *Store) attach(el *element.Element, parentID string, pos Position) Position {
	list := s.siblings(parentID)
	i := resolveIndex(*list, pos)

	*list = append(*list, nil)
	copy((*list)[i+1:], (*list)[i:])
	(*list)[i] = el

	anchor := ""
	if i > 0 {
		anchor = (*list)[i-1].ID
	}
	return Position{Index: i, After: &anchor}
}

func (s *Store) anchorOf(el *element.Element) string {
	list := *s.siblings(el.ParentID)
	for i, sib := range list {
		if sib == el {
			if i == 0 {
				return ""
			}
			return list[i-1].ID
		}
	}
	return ""
}

func anchorValue(pos Position) string {
	if pos.After == nil {
		return "\x00"
	}
	return *pos.After
}

func resolveIndex(list []*element.Element, pos Position) int {
	if pos.After != nil {
		if *pos.After == "" {
			return 0
		}
		for i, sib := range list {
			if sib.ID == *pos.After {
				return i + 1
			}
		}
	}
	if pos.Index < 0 || pos.Index > len(list) {
		return len(list)
	}
	return pos.Index
}

func withPage(err error, pageID string) error {
	var ee *errors.EditorError
	if errors.As(err, &ee) {
		return ee.WithPage(pageID)
	}
	return err
}
