// Package dispatch turns editor intents into document operations. It is
// the only local caller of the store's mutating entry point: each intent
// becomes exactly one stamped operation, applied locally and then handed
// to the outbound sink for propagation.
package dispatch

import (
	"context"
	"sync"

	"github.com/conneroisu/pagecraft/internal/builder"
	"github.com/conneroisu/pagecraft/internal/element"
	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/store"
)

// Outbound receives every locally applied record, in origin sequence
// order. The sync session implements it.
type Outbound interface {
	Enqueue(rec store.Record)
}

// Templates resolves named element descriptions.
type Templates interface {
	Template(name string) (builder.Description, bool)
}

// Config wires a Dispatcher.
type Config struct {
	// Session is the origin every operation is stamped with.
	Session   string
	Store     *store.Store
	Builder   *builder.Builder
	Templates Templates
	Outbound  Outbound
	Logger    logging.Logger
}

// Dispatcher serializes the intents of one local editor.
type Dispatcher struct {
	session   string
	store     *store.Store
	builder   *builder.Builder
	templates Templates
	logger    logging.Logger

	locks *keyedLocks

	seqMu sync.Mutex
	seq   uint64
	out   Outbound
}

// New creates a dispatcher. Sequencing resumes after the highest origin
// sequence the store already holds for the session.
func New(cfg Config) *Dispatcher {
	if cfg.Builder == nil {
		cfg.Builder = builder.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Session == "" {
		cfg.Session = store.DefaultActor
	}

	return &Dispatcher{
		session:   cfg.Session,
		store:     cfg.Store,
		builder:   cfg.Builder,
		templates: cfg.Templates,
		logger:    cfg.Logger.WithComponent("dispatch"),
		locks:     newKeyedLocks(),
		seq:       cfg.Store.Watermark(cfg.Session),
		out:       cfg.Outbound,
	}
}

// SetOutbound replaces the sink, e.g. once a sync session is attached.
func (d *Dispatcher) SetOutbound(out Outbound) {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.out = out
}

// Lock holds back every intent until Unlock. A sync session takes it while
// it swaps in a snapshot and replays its pending operations.
func (d *Dispatcher) Lock() {
	d.seqMu.Lock()
}

// Unlock releases Lock.
func (d *Dispatcher) Unlock() {
	d.seqMu.Unlock()
}

// Session returns the origin session name.
func (d *Dispatcher) Session() string {
	return d.session
}

// InsertUnder builds desc into a new subtree and inserts it under parentID
// at index (-1 appends).
func (d *Dispatcher) InsertUnder(ctx context.Context, desc builder.Description, parentID string, index int) (*store.Record, error) {
	unlock, err := d.locks.lock(ctx, parentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	el, err := d.builder.Build(desc, parentID, d.store.PageID())
	if err != nil {
		return nil, err
	}
	return d.apply(ctx, store.Operation{
		Kind:     store.OpInsert,
		ID:       el.ID,
		ParentID: parentID,
		Position: store.AtIndex(index),
		Element:  el,
	})
}

// InsertElement inserts an already identified subtree, such as a pasted
// copy that keeps its ids.
func (d *Dispatcher) InsertElement(ctx context.Context, el *element.Element, parentID string, index int) (*store.Record, error) {
	if el == nil {
		return nil, errors.NewInvalidDescription("empty element")
	}
	unlock, err := d.locks.lock(ctx, parentID, el.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return d.apply(ctx, store.Operation{
		Kind:     store.OpInsert,
		ID:       el.ID,
		ParentID: parentID,
		Position: store.AtIndex(index),
		Element:  el,
	})
}

// InsertTemplate inserts a fresh copy of the named template.
func (d *Dispatcher) InsertTemplate(ctx context.Context, name, parentID string, index int) (*store.Record, error) {
	if d.templates == nil {
		return nil, errors.NewInvalidDescription("no template library configured")
	}
	desc, ok := d.templates.Template(name)
	if !ok {
		return nil, errors.NewInvalidDescription("unknown template %q", name)
	}
	return d.InsertUnder(ctx, desc, parentID, index)
}

// MoveTo re-parents id under parentID at index.
func (d *Dispatcher) MoveTo(ctx context.Context, id, parentID string, index int) (*store.Record, error) {
	unlock, err := d.locks.lock(ctx, id, parentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return d.apply(ctx, store.Operation{
		Kind:     store.OpMove,
		ID:       id,
		ParentID: parentID,
		Position: store.AtIndex(index),
	})
}

// UpdateAttributes merges patch into id.
func (d *Dispatcher) UpdateAttributes(ctx context.Context, id string, patch element.Patch) (*store.Record, error) {
	unlock, err := d.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return d.apply(ctx, store.Operation{Kind: store.OpUpdate, ID: id, Patch: &patch})
}

// Delete removes id, and its descendants when cascade is set.
func (d *Dispatcher) Delete(ctx context.Context, id string, cascade bool) (*store.Record, error) {
	unlock, err := d.locks.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return d.apply(ctx, store.Operation{Kind: store.OpDelete, ID: id, Cascade: cascade})
}

// apply stamps op with the next origin sequence and applies it. A
// rejected operation gives its sequence back so the outbound stream stays
// contiguous.
func (d *Dispatcher) apply(ctx context.Context, op store.Operation) (*store.Record, error) {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()

	op.Origin = store.Origin{
		Session: d.session,
		Seq:     d.seq + 1,
		Clock:   d.store.Tick(),
	}

	rec, err := d.store.Apply(op)
	if err != nil {
		if errors.IsStructural(err) {
			d.logger.Debug(ctx, "intent rejected", "op", op.Kind, "id", op.ID, "code", errors.Code(err))
		} else {
			d.logger.Warn(ctx, err, "intent failed", "op", op.Kind, "id", op.ID)
		}
		return nil, err
	}
	if rec == nil {
		return nil, errors.NewInternalError("operation was treated as a duplicate", nil).WithElement(op.ID)
	}
	d.seq = op.Origin.Seq

	d.logger.Debug(ctx, "intent applied", "op", op.Kind, "id", op.ID, "seq", rec.Seq, "origin_seq", op.Origin.Seq)
	if d.out != nil {
		d.out.Enqueue(*rec)
	}
	return rec, nil
}
