package store

// DefaultWatchBuffer is the channel capacity used when Subscribe is given
// a non-positive size.
const DefaultWatchBuffer = 100

// Subscribe returns a channel receiving every change after it happens.
// Slow subscribers miss changes rather than block the document.
func (s *Store) Subscribe(buffer int) <-chan Change {
	if buffer <= 0 {
		buffer = DefaultWatchBuffer
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (s *Store) Unsubscribe(ch <-chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, watcher := range s.watchers {
		if watcher == ch {
			close(watcher)
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

// notify must be called with mu held.
func (s *Store) notify(change Change) {
	for _, watcher := range s.watchers {
		select {
		case watcher <- change:
		default:
		}
	}
}
