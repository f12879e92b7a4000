package collab

import (
	"fmt"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/store"
)

// sequencer restores the origin order of one session's proposals.
// delivered is the highest origin sequence handed on, whether the
// operation was then applied or rejected.
type sequencer struct {
	delivered uint64
	pending   map[uint64]store.Operation
	limit     int
}

func newSequencer(delivered uint64, limit int) *sequencer {
	return &sequencer{delivered: delivered, pending: make(map[uint64]store.Operation), limit: limit}
}

// offer returns the operations now ready in order. A duplicate returns
// nothing and dup is true.
func (q *sequencer) offer(op store.Operation) (ready []store.Operation, dup bool, err error) {
	seq := op.Origin.Seq
	if seq <= q.delivered {
		return nil, true, nil
	}
	if _, seen := q.pending[seq]; seen {
		return nil, true, nil
	}
	if seq > q.delivered+1 {
		if len(q.pending) >= q.limit {
			q.pending = make(map[uint64]store.Operation)
			return nil, false, errors.NewProtocolError(fmt.Sprintf(
				"reorder buffer overflow for session %s waiting on seq %d", op.Origin.Session, q.delivered+1))
		}
		q.pending[seq] = op
		return nil, false, nil
	}

	q.delivered = seq
	return q.drain([]store.Operation{op}), false, nil
}

// advance moves delivered forward to seq, dropping buffered operations at
// or below it, and returns whatever became ready.
func (q *sequencer) advance(seq uint64) []store.Operation {
	if seq <= q.delivered {
		return nil
	}
	q.delivered = seq
	for s := range q.pending {
		if s <= seq {
			delete(q.pending, s)
		}
	}
	return q.drain(nil)
}

func (q *sequencer) drain(ready []store.Operation) []store.Operation {
	for {
		next, ok := q.pending[q.delivered+1]
		if !ok {
			return ready
		}
		delete(q.pending, q.delivered+1)
		ready = append(ready, next)
		q.delivered++
	}
}
