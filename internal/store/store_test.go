package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return New("page-1", WithNow(func() time.Time { return fixed }))
}

func mustInsert(t *testing.T, s *Store, el *element.Element, parentID string, index int) *Record {
	t.Helper()
	rec, err := s.Insert(el, parentID, index)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NoError(t, s.Check())
	return rec
}

func childIDs(t *testing.T, s *Store, parentID string) []string {
	t.Helper()
	children, err := s.ChildrenOf(parentID)
	require.NoError(t, err)
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return ids
}

func op(kind OpKind, id, session string, seq, clock uint64) Operation {
	return Operation{Kind: kind, ID: id, Origin: Origin{Session: session, Seq: seq, Clock: clock}}
}

func TestInsertAtIndexZeroPrepends(t *testing.T) {
	s := newTestStore(t)

	mustInsert(t, s, element.New("C", element.KindContainer), "", -1)
	mustInsert(t, s, element.New("X", element.KindText), "C", 0)
	rec := mustInsert(t, s, element.New("Y", element.KindText), "C", 0)

	assert.Equal(t, []string{"Y", "X"}, childIDs(t, s, "C"))
	assert.Equal(t, uint64(3), s.Seq())
	require.NotNil(t, rec.Op.Position.After)
	assert.Equal(t, "", *rec.Op.Position.After)

	x, err := s.Get("X")
	require.NoError(t, err)
	assert.Equal(t, "C", x.ParentID)
	assert.Equal(t, "page-1", x.PageID)
}

func TestInsertRecordsResolvedAnchor(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("C", element.KindSection), "", -1)
	mustInsert(t, s, element.New("a", element.KindText), "C", -1)
	rec := mustInsert(t, s, element.New("b", element.KindText), "C", 99)

	assert.Equal(t, 1, rec.Op.Position.Index)
	assert.Equal(t, "a", *rec.Op.Position.After)

	replica := New("page-1")
	for _, r := range mustJournal(t, s, 0) {
		_, err := replica.Apply(r.Op)
		require.NoError(t, err)
	}
	assert.Equal(t, s.Digest(), replica.Digest())
}

func mustJournal(t *testing.T, s *Store, since uint64) []Record {
	t.Helper()
	recs, ok := s.Journal(since)
	require.True(t, ok)
	return recs
}

func TestInsertRejections(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("sec", element.KindSection), "", -1)
	mustInsert(t, s, element.New("img", element.KindImage), "sec", -1)
	mustInsert(t, s, element.New("sel", element.KindSelect), "", -1)

	nested := element.New("wrap", element.KindSection)
	inner := element.New("inner", element.KindContainer)
	nested.Elements = []*element.Element{inner}

	foreign := element.New("f", element.KindText)
	foreign.PageID = "page-2"

	testCases := []struct {
		name     string
		el       *element.Element
		parent   string
		expected error
	}{
		{"duplicate id", element.New("img", element.KindText), "sec", errors.ErrDuplicateID},
		{"missing parent", element.New("n", element.KindText), "ghost", errors.ErrInvalidParent},
		{"leaf parent", element.New("n", element.KindText), "img", errors.ErrInvalidParent},
		{"cross kind parent", element.New("n", element.KindText), "sel", errors.ErrInvalidParent},
		{"parent inside inserted subtree", nested, "inner", errors.ErrCycleDetected},
		{"other page", foreign, "sec", errors.ErrInvalidParent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Digest()
			seq := s.Seq()

			rec, err := s.Insert(tc.el, tc.parent, -1)
			assert.Nil(t, rec)
			assert.True(t, errors.Is(err, tc.expected), "got %v", err)
			assert.Equal(t, before, s.Digest())
			assert.Equal(t, seq, s.Seq())
			assert.NoError(t, s.Check())
		})
	}
}

func TestMoveReparents(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("A", element.KindSection), "", -1)
	mustInsert(t, s, element.New("B", element.KindContainer), "", -1)
	mustInsert(t, s, element.New("E", element.KindImage), "A", -1)
	mustInsert(t, s, element.New("sib", element.KindText), "B", -1)

	rec, err := s.Move("E", "B", 0)
	require.NoError(t, err)
	assert.Equal(t, "", *rec.Op.Position.After)

	e, err := s.Get("E")
	require.NoError(t, err)
	assert.Equal(t, "B", e.ParentID)
	assert.NotContains(t, childIDs(t, s, "A"), "E")
	assert.Equal(t, []string{"E", "sib"}, childIDs(t, s, "B"))
	require.NoError(t, s.Check())

	_, err = s.Move("E", "", -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "E"}, childIDs(t, s, ""))
	require.NoError(t, s.Check())
}

func TestMoveRejections(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("outer", element.KindSection), "", -1)
	mustInsert(t, s, element.New("inner", element.KindContainer), "outer", -1)
	mustInsert(t, s, element.New("leaf", element.KindText), "inner", -1)
	mustInsert(t, s, element.New("form", element.KindForm), "", -1)

	testCases := []struct {
		name, id, parent string
		expected         error
	}{
		{"into own descendant", "outer", "inner", errors.ErrCycleDetected},
		{"into itself", "inner", "inner", errors.ErrCycleDetected},
		{"under a leaf", "form", "leaf", errors.ErrInvalidParent},
		{"section into form", "outer", "form", errors.ErrInvalidParent},
		{"unknown element", "ghost", "outer", errors.ErrNotFound},
		{"unknown parent", "leaf", "ghost", errors.ErrInvalidParent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Digest()
			_, err := s.Move(tc.id, tc.parent, -1)
			assert.True(t, errors.Is(err, tc.expected), "got %v", err)
			assert.Equal(t, before, s.Digest())
			assert.NoError(t, s.Check())
		})
	}
}

func TestUpdateMergesAttributes(t *testing.T) {
	s := newTestStore(t)
	img := element.New("img", element.KindImage)
	img.Styles["width"] = "10px"
	mustInsert(t, s, img, "", -1)

	_, err := s.Update("img", element.Patch{
		Styles:  map[string]*string{"height": element.StringPtr("5px")},
		Content: element.StringPtr("alt text"),
		Props:   map[string]any{"src": "/hero.png"},
	})
	require.NoError(t, err)

	got, err := s.Get("img")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"width": "10px", "height": "5px"}, got.Styles)
	assert.Equal(t, "alt text", got.Content)
	assert.Equal(t, "/hero.png", got.Payload.(*element.ImagePayload).Src)
	assert.Equal(t, "", got.ParentID)

	_, err = s.Update("img", element.Patch{Props: map[string]any{"layout": "row"}})
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))
	_, err = s.Update("ghost", element.Patch{Content: element.StringPtr("x")})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeleteCascade(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("C", element.KindSection), "", -1)
	mustInsert(t, s, element.New("child", element.KindText), "C", -1)

	_, err := s.Delete("C", false)
	assert.True(t, errors.Is(err, errors.ErrNotEmpty), "got %v", err)
	_, err = s.Get("child")
	require.NoError(t, err)

	_, err = s.Delete("C", true)
	require.NoError(t, err)
	_, err = s.Get("child")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = s.Get("C")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 0, s.Len())
	assert.NoError(t, s.Check())
}

func TestReplayIsNoop(t *testing.T) {
	s := newTestStore(t)
	insert := op(OpInsert, "sec", "alice", 1, 1)
	insert.Element = element.New("sec", element.KindSection)
	insert.Position = Append()

	rec, err := s.Apply(insert)
	require.NoError(t, err)
	require.NotNil(t, rec)

	update := op(OpUpdate, "sec", "alice", 2, 2)
	update.Patch = &element.Patch{Content: element.StringPtr("hello")}
	_, err = s.Apply(update)
	require.NoError(t, err)

	seq, digest := s.Seq(), s.Digest()
	for _, replay := range []Operation{insert, update} {
		rec, err := s.Apply(replay)
		assert.NoError(t, err)
		assert.Nil(t, rec)
	}
	assert.Equal(t, seq, s.Seq())
	assert.Equal(t, digest, s.Digest())
	assert.Equal(t, uint64(2), s.Watermark("alice"))
}

func TestRejectedOpDoesNotConsumeSequence(t *testing.T) {
	s := newTestStore(t)
	bad := op(OpMove, "ghost", "alice", 1, 1)
	_, err := s.Apply(bad)
	require.Error(t, err)
	assert.Equal(t, uint64(0), s.Watermark("alice"))

	insert := op(OpInsert, "sec", "alice", 1, 2)
	insert.Element = element.New("sec", element.KindSection)
	rec, err := s.Apply(insert)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestConcurrentUpdatesCommute(t *testing.T) {
	base := func() *Store {
		s := newTestStore(t)
		mustInsert(t, s, element.New("btn", element.KindButton), "", -1)
		return s
	}

	a := op(OpUpdate, "btn", "alice", 1, 5)
	a.Patch = &element.Patch{
		Styles:  map[string]*string{"color": element.StringPtr("red")},
		Content: element.StringPtr("from alice"),
		Props:   map[string]any{"label": "Buy"},
	}
	b := op(OpUpdate, "btn", "bob", 1, 5)
	b.Patch = &element.Patch{
		Styles: map[string]*string{"color": element.StringPtr("blue"), "margin": element.StringPtr("4px")},
		Props:  map[string]any{"label": "Order", "href": "/order"},
	}

	first, second := base(), base()
	_, err := first.Apply(a)
	require.NoError(t, err)
	_, err = first.Apply(b)
	require.NoError(t, err)

	_, err = second.Apply(b)
	require.NoError(t, err)
	_, err = second.Apply(a)
	require.NoError(t, err, "alice still owns the content field")

	assert.Equal(t, first.Digest(), second.Digest())
	got, err := first.Get("btn")
	require.NoError(t, err)
	assert.Equal(t, "blue", got.Styles["color"])
	assert.Equal(t, "from alice", got.Content)
	assert.Equal(t, "Order", got.Payload.(*element.ButtonPayload).Label)
}

func TestFullyOutdatedUpdateIsSuperseded(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("t", element.KindText), "", -1)

	newer := op(OpUpdate, "t", "bob", 1, 9)
	newer.Patch = &element.Patch{Content: element.StringPtr("new")}
	_, err := s.Apply(newer)
	require.NoError(t, err)

	older := op(OpUpdate, "t", "alice", 1, 3)
	older.Patch = &element.Patch{Content: element.StringPtr("old")}
	_, err = s.Apply(older)
	assert.True(t, errors.Is(err, errors.ErrSuperseded))

	got, _ := s.Get("t")
	assert.Equal(t, "new", got.Content)
}

func TestStaleMoveIsSuperseded(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"F", "G"} {
		mustInsert(t, s, element.New(id, element.KindContainer), "", -1)
	}
	mustInsert(t, s, element.New("E", element.KindText), "", -1)
	clock := s.Clock()

	moveF := op(OpMove, "E", "alice", 1, clock+5)
	moveF.ParentID = "F"
	moveF.Position = Append()
	_, err := s.Apply(moveF)
	require.NoError(t, err)

	staleG := op(OpMove, "E", "bob", 1, clock+1)
	staleG.ParentID = "G"
	staleG.Position = Append()
	_, err = s.Apply(staleG)
	assert.True(t, errors.Is(err, errors.ErrSuperseded), "got %v", err)

	e, _ := s.Get("E")
	assert.Equal(t, "F", e.ParentID)

	staleDelete := op(OpDelete, "E", "bob", 1, clock+2)
	_, err = s.Apply(staleDelete)
	assert.True(t, errors.Is(err, errors.ErrSuperseded))
}

func TestStructuralTieBreakBySession(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"F", "G"} {
		mustInsert(t, s, element.New(id, element.KindContainer), "", -1)
	}
	mustInsert(t, s, element.New("E", element.KindText), "", -1)

	fromB := op(OpMove, "E", "bob", 1, 10)
	fromB.ParentID = "G"
	_, err := s.Apply(fromB)
	require.NoError(t, err)

	fromA := op(OpMove, "E", "alice", 1, 10)
	fromA.ParentID = "F"
	_, err = s.Apply(fromA)
	assert.True(t, errors.Is(err, errors.ErrSuperseded), "bob > alice at equal clocks")
}

func TestJournal(t *testing.T) {
	s := New("p", WithJournalSize(3))
	mustInsert(t, s, element.New("root", element.KindSection), "", -1)
	for i := 0; i < 4; i++ {
		_, err := s.Update("root", element.Patch{Content: element.StringPtr(string(rune('a' + i)))})
		require.NoError(t, err)
	}

	recs, ok := s.Journal(2)
	require.True(t, ok)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(3), recs[0].Seq)
	assert.Equal(t, DefaultActor, recs[0].Actor)

	_, ok = s.Journal(1)
	assert.False(t, ok)

	recs, ok = s.Journal(5)
	assert.True(t, ok)
	assert.Empty(t, recs)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.SetPageStyles(map[string]string{"background": "#fff"})
	mustInsert(t, s, element.New("sec", element.KindSection), "", -1)
	mustInsert(t, s, element.New("form", element.KindForm), "sec", -1)
	mustInsert(t, s, element.New("in", element.KindInput), "form", -1)
	_, err := s.Update("in", element.Patch{Props: map[string]any{"placeholder": "email"}})
	require.NoError(t, err)

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	replica := New("page-1")
	changes := replica.Subscribe(4)
	mustInsert(t, replica, element.New("stale", element.KindText), "", -1)
	<-changes

	require.NoError(t, replica.ApplySnapshot(&snap))
	assert.Equal(t, s.Digest(), replica.Digest())
	assert.Equal(t, s.Seq(), replica.Seq())
	assert.Equal(t, s.Watermark(DefaultActor), replica.Watermark(DefaultActor))
	assert.Equal(t, "#fff", replica.PageStyles()["background"])
	assert.NoError(t, replica.Check())

	reset := <-changes
	assert.Equal(t, ChangeReset, reset.Kind)
	assert.Equal(t, s.Seq(), reset.Seq)

	_, ok := replica.Journal(0)
	assert.False(t, ok)
}

func TestApplySnapshotRefusesBadInput(t *testing.T) {
	s := newTestStore(t)
	mustInsert(t, s, element.New("keep", element.KindText), "", -1)
	digest := s.Digest()

	assert.Error(t, s.ApplySnapshot(&Snapshot{PageID: "other"}))

	dupA := element.New("x", element.KindText)
	dupB := element.New("x", element.KindImage)
	err := s.ApplySnapshot(&Snapshot{PageID: "page-1", Elements: []*element.Element{dupA, dupB}})
	assert.True(t, errors.Is(err, errors.ErrDuplicateID))

	leaf := element.New("leaf", element.KindImage)
	leaf.Elements = []*element.Element{element.New("t", element.KindText)}
	err = s.ApplySnapshot(&Snapshot{PageID: "page-1", Elements: []*element.Element{leaf}})
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))

	assert.Equal(t, digest, s.Digest())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := newTestStore(t)
	ch := s.Subscribe(10)

	mustInsert(t, s, element.New("sec", element.KindSection), "", -1)
	mustInsert(t, s, element.New("t", element.KindText), "sec", -1)
	_, err := s.Delete("sec", true)
	require.NoError(t, err)

	inserted := <-ch
	assert.Equal(t, ChangeInserted, inserted.Kind)
	assert.Equal(t, uint64(1), inserted.Seq)
	assert.Equal(t, "sec", inserted.Element.ID)

	child := <-ch
	assert.Equal(t, "sec", child.ParentID)

	deleted := <-ch
	assert.Equal(t, ChangeDeleted, deleted.Kind)
	assert.ElementsMatch(t, []string{"sec", "t"}, deleted.Removed)

	s.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestReconcileRepositionsOwnOp(t *testing.T) {
	local := newTestStore(t)
	mustInsert(t, local, element.New("C", element.KindSection), "", -1)
	mustInsert(t, local, element.New("Z", element.KindText), "C", -1)

	own := op(OpInsert, "X", "me", 1, local.Clock()+1)
	own.ParentID = "C"
	own.Position = AtIndex(-1)
	own.Element = element.New("X", element.KindText)
	_, err := local.Apply(own)
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "X"}, childIDs(t, local, "C"))

	echo := own
	echo.Position = AfterSibling("")
	require.NoError(t, local.Reconcile(echo))
	assert.Equal(t, []string{"X", "Z"}, childIDs(t, local, "C"))
	assert.NoError(t, local.Check())

	newer := op(OpMove, "X", "me", 2, local.Clock()+1)
	newer.Position = Append()
	_, err = local.Apply(newer)
	require.NoError(t, err)
	require.NoError(t, local.Reconcile(echo))
	assert.Equal(t, []string{"C", "X"}, childIDs(t, local, ""), "newer local move is kept")
}

func TestOperationCheck(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Apply(Operation{Kind: OpDelete, ID: "x"})
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))

	_, err = s.Apply(op("rename", "x", "a", 1, 1))
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))

	_, err = s.Apply(op(OpUpdate, "x", "a", 1, 1))
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))

	mismatch := op(OpInsert, "x", "a", 1, 1)
	mismatch.Element = element.New("y", element.KindText)
	_, err = s.Apply(mismatch)
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))
}

func TestStampLess(t *testing.T) {
	assert.True(t, Stamp{Clock: 1, Session: "z"}.Less(Stamp{Clock: 2, Session: "a"}))
	assert.True(t, Stamp{Clock: 2, Session: "a"}.Less(Stamp{Clock: 2, Session: "b"}))
	assert.False(t, Stamp{Clock: 2, Session: "b"}.Less(Stamp{Clock: 2, Session: "b"}))
	assert.True(t, OpMove.Structural())
	assert.False(t, OpUpdate.Structural())
}
