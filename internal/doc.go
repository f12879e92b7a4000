// Package internal contains the packages behind the pagecraft command.
//
// # Package Organization
//
// Packages are layered from the document model outwards:
//
//   - element: element kinds, nesting rules, payloads and patches
//   - builder: turns untrusted descriptions into identified subtrees
//   - store: the page document, its operations, journal and snapshots
//   - dispatch: turns local editor intents into stamped operations
//   - protocol: wire messages between sessions and the hub
//   - transport: websocket and in-process connections
//   - collab: the hub (one room per page) and the client session
//   - persist: page records and snapshots in SQLite or memory
//   - render: HTML of a page document, kept current per change, and audits
//   - templates: the element template library, reloaded on file changes
//   - watcher: debounced file system monitoring
//   - server: websocket, page API and preview endpoints
//   - config, logging, errors, version: ambient support
//
// # Data Flow
//
// An editor intent goes through dispatch, which applies it to the local
// store and hands the record to the collab session. The session ships it
// to the hub room, which orders proposals per session, applies them to the
// authoritative store and broadcasts the applied record to every session
// of the page. Each store notifies subscribers such as the renderer.
//
// # Testing Strategy
//
// Each package carries table-driven unit tests with testify. Convergence
// and ordering properties are checked with gopter behind the property
// build tag:
//
//	go test -tags property ./internal/...
package internal
