package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/conneroisu/pagecraft/internal/builder"
	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutbound struct {
	mu      sync.Mutex
	records []store.Record
}

func (r *recordingOutbound) Enqueue(rec store.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingOutbound) originSeqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seqs := make([]uint64, len(r.records))
	for i, rec := range r.records {
		seqs[i] = rec.Op.Origin.Seq
	}
	return seqs
}

type mapTemplates map[string]builder.Description

func (m mapTemplates) Template(name string) (builder.Description, bool) {
	d, ok := m[name]
	return d, ok
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *recordingOutbound) {
	t.Helper()
	s := store.New("page-1")
	out := &recordingOutbound{}
	d := New(Config{
		Session:  "alice",
		Store:    s,
		Builder:  builder.New(&builder.SequenceSource{Prefix: "el-"}),
		Outbound: out,
		Templates: mapTemplates{
			"hero": {Kind: "section", Elements: []builder.Description{
				{Kind: "text", Content: "Headline", Props: map[string]any{"tag": "h1"}},
				{Kind: "image"},
			}},
		},
	})
	return d, s, out
}

func TestIntentsApplyAndForward(t *testing.T) {
	d, s, out := newTestDispatcher(t)
	ctx := context.Background()

	rec, err := d.InsertUnder(ctx, builder.Description{Kind: "container"}, "", -1)
	require.NoError(t, err)
	root := rec.Op.ID
	assert.Equal(t, "el-1", root)
	assert.Equal(t, "alice", rec.Actor)

	_, err = d.InsertUnder(ctx, builder.Description{Kind: "text", Content: "x"}, root, 0)
	require.NoError(t, err)
	rec, err = d.InsertUnder(ctx, builder.Description{Kind: "text", Content: "y"}, root, 0)
	require.NoError(t, err)
	yID := rec.Op.ID

	_, err = d.UpdateAttributes(ctx, yID, element.Patch{Content: element.StringPtr("why")})
	require.NoError(t, err)
	_, err = d.MoveTo(ctx, yID, "", -1)
	require.NoError(t, err)
	_, err = d.Delete(ctx, yID, false)
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, out.originSeqs())
	assert.Equal(t, uint64(6), s.Watermark("alice"))
	assert.NoError(t, s.Check())
	assert.Equal(t, 2, s.Len())
}

func TestRejectedIntentKeepsSequenceContiguous(t *testing.T) {
	d, s, out := newTestDispatcher(t)
	ctx := context.Background()

	rec, err := d.InsertUnder(ctx, builder.Description{Kind: "image"}, "", -1)
	require.NoError(t, err)

	_, err = d.InsertUnder(ctx, builder.Description{Kind: "text"}, rec.Op.ID, -1)
	assert.True(t, errors.Is(err, errors.ErrInvalidParent))
	_, err = d.InsertUnder(ctx, builder.Description{Kind: "blink"}, "", -1)
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))
	_, err = d.Delete(ctx, "ghost", true)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = d.UpdateAttributes(ctx, rec.Op.ID, element.Patch{Props: map[string]any{"src": "/a.png"}})
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 2}, out.originSeqs())
	assert.Equal(t, 1, s.Len())
}

func TestInsertTemplate(t *testing.T) {
	d, s, _ := newTestDispatcher(t)
	ctx := context.Background()

	rec, err := d.InsertTemplate(ctx, "hero", "", -1)
	require.NoError(t, err)
	hero, err := s.Get(rec.Op.ID)
	require.NoError(t, err)
	require.Len(t, hero.Elements, 2)
	assert.Equal(t, "Headline", hero.Elements[0].Content)

	again, err := d.InsertTemplate(ctx, "hero", "", -1)
	require.NoError(t, err)
	assert.NotEqual(t, rec.Op.ID, again.Op.ID)

	_, err = d.InsertTemplate(ctx, "missing", "", -1)
	assert.True(t, errors.Is(err, errors.ErrInvalidDescription))
}

func TestInsertElementKeepsIdentity(t *testing.T) {
	d, s, _ := newTestDispatcher(t)
	el := element.New("pasted", element.KindButton)

	_, err := d.InsertElement(context.Background(), el, "", -1)
	require.NoError(t, err)
	_, err = s.Get("pasted")
	require.NoError(t, err)

	_, err = d.InsertElement(context.Background(), el, "", -1)
	assert.True(t, errors.Is(err, errors.ErrDuplicateID))
}

func TestConcurrentIntentsStayOrdered(t *testing.T) {
	d, s, out := newTestDispatcher(t)
	ctx := context.Background()
	rec, err := d.InsertUnder(ctx, builder.Description{Kind: "text"}, "", -1)
	require.NoError(t, err)
	id := rec.Op.ID

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.UpdateAttributes(ctx, id, element.Patch{Styles: map[string]*string{"z": element.StringPtr("1")}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seqs := out.originSeqs()
	require.Len(t, seqs, 41)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
	assert.Equal(t, uint64(41), s.Seq())
}

func TestKeyedLocksAreFIFO(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	unlock, err := locks.lock(ctx, "e1")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := locks.lock(ctx, "e1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			release()
		}(i)
		require.Eventually(t, func() bool { return locks.waiting("e1") == i+2 }, time.Second, time.Millisecond)
	}

	unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, locks.waiting("e1"))
}

func TestKeyedLocksHonorCancellation(t *testing.T) {
	locks := newKeyedLocks()
	unlock, err := locks.lock(context.Background(), "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.waiting("b"))

	unlock()
	release, err := locks.lock(context.Background(), "b", "a", "b", "")
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, locks.waiting("a"))
}
