package collab

import (
	"fmt"
)

// State is the connection status of a Session.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
	// StateDisconnected means reconnect or resync attempts ran out.
	StateDisconnected
	// StatePageUnavailable means the page was deleted or never existed.
	StatePageUnavailable
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateDisconnected:
		return "disconnected"
	case StatePageUnavailable:
		return "page-unavailable"
	default:
		return "invalid"
	}
}

// Terminal reports whether the session has stopped for good.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateDisconnected || s == StatePageUnavailable
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateConnecting, StateReconnecting:
		switch next {
		case StateOpen, StateReconnecting, StateClosed, StateDisconnected, StatePageUnavailable:
			return nil
		}
	case StateOpen:
		switch next {
		case StateReconnecting, StateClosed, StateDisconnected, StatePageUnavailable:
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %v to %v", s, next)
}
