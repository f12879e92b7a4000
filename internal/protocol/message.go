// Package protocol defines the messages exchanged between editing
// sessions and the page hub. Every message is one JSON object tagged with
// its kind and scoped to a project and page.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/store"
)

// Kind tags a message.
type Kind string

const (
	// KindHello opens or resumes a session. LastSeq is the last page
	// sequence the session has applied; AckSeq is the highest of its own
	// origin sequences it has seen resolved by the hub.
	KindHello Kind = "hello"
	// KindWelcome accepts a hello. AckSeq is the highest origin sequence of
	// the session the hub has already processed.
	KindWelcome Kind = "welcome"
	// KindOp carries one operation. From a session it is a proposal; from
	// the hub it is an applied record with the page sequence in Seq.
	KindOp Kind = "op"
	// KindAck acknowledges processing up to AckSeq.
	KindAck       Kind = "ack"
	KindHeartbeat Kind = "heartbeat"
	// KindResyncRequest asks for a full snapshot.
	KindResyncRequest  Kind = "resync-request"
	KindResyncSnapshot Kind = "resync-snapshot"
	// KindConflict tells the origin session its operation was not applied.
	KindConflict Kind = "conflict"
	// KindError reports a session-level failure, such as an unavailable page.
	KindError Kind = "error"
)

func (k Kind) valid() bool {
	switch k {
	case KindHello, KindWelcome, KindOp, KindAck, KindHeartbeat,
		KindResyncRequest, KindResyncSnapshot, KindConflict, KindError:
		return true
	}
	return false
}

// Message is the envelope of every protocol exchange.
type Message struct {
	Kind      Kind             `json:"kind"`
	ProjectID string           `json:"projectId,omitempty"`
	PageID    string           `json:"pageId,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Seq       uint64           `json:"seq,omitempty"`
	LastSeq   uint64           `json:"lastSeq,omitempty"`
	AckSeq    uint64           `json:"ackSeq,omitempty"`
	Op        *store.Operation `json:"op,omitempty"`
	Snapshot  *store.Snapshot  `json:"snapshot,omitempty"`
	Digest    uint32           `json:"digest"`
	Code      string           `json:"code,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Scope names the page a connection is bound to.
type Scope struct {
	ProjectID string
	PageID    string
	SessionID string
}

func (s Scope) message(kind Kind) *Message {
	return &Message{
		Kind:      kind,
		ProjectID: s.ProjectID,
		PageID:    s.PageID,
		SessionID: s.SessionID,
		Timestamp: time.Now().UTC(),
	}
}

// Hello announces a session and the last page sequence it holds.
func Hello(s Scope, lastSeq, ackSeq uint64) *Message {
	m := s.message(KindHello)
	m.LastSeq = lastSeq
	m.AckSeq = ackSeq
	return m
}

// Welcome accepts a session at page sequence seq.
func Welcome(s Scope, seq, ackSeq uint64, digest uint32) *Message {
	m := s.message(KindWelcome)
	m.Seq = seq
	m.AckSeq = ackSeq
	m.Digest = digest
	return m
}

// Proposal carries a locally applied operation to the hub.
func Proposal(s Scope, op store.Operation) *Message {
	m := s.message(KindOp)
	m.Op = &op
	return m
}

// Applied carries a record the hub applied, with the page digest after it.
// SessionID names the origin session.
func Applied(s Scope, rec store.Record, digest uint32) *Message {
	m := s.message(KindOp)
	m.SessionID = rec.Op.Origin.Session
	m.Seq = rec.Seq
	op := rec.Op
	m.Op = &op
	m.Digest = digest
	return m
}

// Ack acknowledges up to ackSeq.
func Ack(s Scope, ackSeq uint64) *Message {
	m := s.message(KindAck)
	m.AckSeq = ackSeq
	return m
}

// Heartbeat carries the sender's current sequence.
func Heartbeat(s Scope, seq uint64) *Message {
	m := s.message(KindHeartbeat)
	m.Seq = seq
	return m
}

// ResyncRequest asks the hub for a snapshot.
func ResyncRequest(s Scope, lastSeq uint64) *Message {
	m := s.message(KindResyncRequest)
	m.LastSeq = lastSeq
	return m
}

// ResyncSnapshot carries the full page.
func ResyncSnapshot(s Scope, snap *store.Snapshot, ackSeq uint64, digest uint32) *Message {
	m := s.message(KindResyncSnapshot)
	m.Snapshot = snap
	m.Seq = snap.Seq
	m.AckSeq = ackSeq
	m.Digest = digest
	return m
}

// Conflict reports that op was rejected with err. Seq and digest describe
// the hub page at the time of rejection.
func Conflict(s Scope, op store.Operation, err error, seq uint64, digest uint32) *Message {
	m := s.message(KindConflict)
	m.Op = &op
	m.AckSeq = op.Origin.Seq
	m.Seq = seq
	m.Digest = digest
	m.Code = errors.Code(err)
	m.Reason = err.Error()
	return m
}

// Failure reports a session-level error.
func Failure(s Scope, err error) *Message {
	m := s.message(KindError)
	m.Code = errors.Code(err)
	m.Reason = err.Error()
	return m
}

// Err rebuilds the error carried by a conflict or error message.
func (m *Message) Err() error {
	if m.Code == "" && m.Reason == "" {
		return nil
	}
	return errors.FromCode(m.Code, m.Reason)
}

// Encode serializes m.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.NewProtocolError(fmt.Sprintf("encode %s message: %v", m.Kind, err))
	}
	return data, nil
}

// Decode parses and checks one message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewProtocolError(fmt.Sprintf("decode message: %v", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the fields a kind relies on are present.
func (m *Message) Validate() error {
	if !m.Kind.valid() {
		return errors.NewProtocolError(fmt.Sprintf("unknown message kind %q", m.Kind))
	}
	switch m.Kind {
	case KindHello:
		if m.PageID == "" || m.SessionID == "" {
			return errors.NewProtocolError("hello needs a page and a session")
		}
	case KindOp:
		if m.Op == nil {
			return errors.NewProtocolError("op message carries no operation")
		}
	case KindResyncSnapshot:
		if m.Snapshot == nil {
			return errors.NewProtocolError("resync-snapshot carries no snapshot")
		}
	}
	return nil
}
