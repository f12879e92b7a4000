package collab

import "github.com/oklog/ulid/v2"

// NewSessionID returns a fresh, time-ordered session identity.
func NewSessionID() string {
	return ulid.Make().String()
}
