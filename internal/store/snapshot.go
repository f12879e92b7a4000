package store

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
)

// Snapshot is the full state of a page document: enough to rebuild an
// identical replica, including the bookkeeping conflict resolution and
// duplicate detection rely on.
type Snapshot struct {
	PageID     string                      `json:"pageId"`
	Seq        uint64                      `json:"seq"`
	Clock      uint64                      `json:"clock"`
	Styles     map[string]string           `json:"styles,omitempty"`
	Elements   []*element.Element          `json:"elements"`
	Watermarks map[string]uint64           `json:"watermarks,omitempty"`
	Placed     map[string]Stamp            `json:"placed,omitempty"`
	Fields     map[string]map[string]Stamp `json:"fields,omitempty"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		PageID:     s.pageID,
		Seq:        s.seq,
		Clock:      s.clock,
		Styles:     make(map[string]string, len(s.styles)),
		Elements:   make([]*element.Element, len(s.roots)),
		Watermarks: make(map[string]uint64, len(s.watermarks)),
		Placed:     make(map[string]Stamp, len(s.placed)),
		Fields:     make(map[string]map[string]Stamp, len(s.fields)),
	}
	for k, v := range s.styles {
		snap.Styles[k] = v
	}
	for i, root := range s.roots {
		snap.Elements[i] = root.Clone()
	}
	for k, v := range s.watermarks {
		snap.Watermarks[k] = v
	}
	for k, v := range s.placed {
		snap.Placed[k] = v
	}
	for id, stamps := range s.fields {
		c := make(map[string]Stamp, len(stamps))
		for f, st := range stamps {
			c[f] = st
		}
		snap.Fields[id] = c
	}
	return snap
}

// ApplySnapshot replaces the whole document with snap in one step. The
// journal restarts at the snapshot sequence and subscribers receive a
// single reset change. An inconsistent snapshot is refused and leaves the
// document as it was.
func (s *Store) ApplySnapshot(snap *Snapshot) error {
	if snap == nil {
		return errors.NewInvalidDescription("empty snapshot")
	}
	if snap.PageID != s.pageID {
		return errors.NewInvalidDescription("snapshot of page %q cannot replace page %q", snap.PageID, s.pageID)
	}

	roots := make([]*element.Element, 0, len(snap.Elements))
	nodes := index{}
	for _, r := range snap.Elements {
		if r == nil {
			return errors.NewInvalidDescription("snapshot holds a nil element")
		}
		root := r.Clone()
		root.ParentID = ""
		if err := element.CheckShape(root); err != nil {
			return err
		}
		var dup string
		element.Walk(root, func(e *element.Element) bool {
			if _, exists := nodes[e.ID]; exists {
				dup = e.ID
			}
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
			nodes[e.ID] = e
			return true
		})
		if dup != "" {
			return errors.NewDuplicateID(dup).WithPage(s.pageID)
		}
		roots = append(roots, root)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.roots = roots
	s.nodes = nodes
	s.seq = snap.Seq
	if snap.Clock > s.clock {
		s.clock = snap.Clock
	}
	s.styles = make(map[string]string, len(snap.Styles))
	for k, v := range snap.Styles {
		s.styles[k] = v
	}
	s.watermarks = make(map[string]uint64, len(snap.Watermarks))
	for k, v := range snap.Watermarks {
		s.watermarks[k] = v
	}
	s.placed = make(map[string]Stamp, len(snap.Placed))
	for k, v := range snap.Placed {
		if _, live := nodes[k]; live {
			s.placed[k] = v
		}
	}
	s.fields = make(map[string]map[string]Stamp, len(snap.Fields))
	for id, stamps := range snap.Fields {
		if _, live := nodes[id]; !live {
			continue
		}
		c := make(map[string]Stamp, len(stamps))
		for f, st := range stamps {
			c[f] = st
		}
		s.fields[id] = c
	}
	s.journal = nil

	s.notify(Change{Kind: ChangeReset, Seq: s.seq})
	return nil
}

// SetPageStyles replaces the page-level styles. They are not journaled and
// travel with snapshots only.
func (s *Store) SetPageStyles(styles map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.styles = make(map[string]string, len(styles))
	for k, v := range styles {
		s.styles[k] = v
	}
}

// Digest fingerprints the visible document: element order, links and
// attributes, plus page styles. Two replicas with equal digests render the
// same page. Bookkeeping such as stamps and sequences is left out.
func (s *Store) Digest() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := crc32.NewIEEE()
	writeStyles(h, s.styles)
	for _, root := range s.roots {
		writeElement(h, root)
	}
	return h.Sum32()
}

func writeElement(w io.Writer, el *element.Element) {
	fmt.Fprintf(w, "<%s|%s|%s|%q|", el.ID, el.ParentID, el.Kind, el.Content)
	writeStyles(w, el.Styles)
	if el.Payload != nil {
		props, _ := json.Marshal(el.Payload.Props())
		_, _ = w.Write(props)
	}
	fmt.Fprintf(w, "|%d", len(el.Elements))
	for _, child := range el.Elements {
		writeElement(w, child)
	}
	_, _ = io.WriteString(w, ">")
}

func writeStyles(w io.Writer, styles map[string]string) {
	keys := make([]string, 0, len(styles))
	for k := range styles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%q=%q;", k, styles[k])
	}
}
