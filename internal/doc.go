// Package internal contains the implementation packages of verdrift.
//
// # Package Organization
//
//   - fingerprint: extraction of the bundle hash from index.html markup
//   - monitor: drift checks, baseline storage, polling and update handlers
//   - snippet: generation of the in-page monitor script and its tag
//   - stamp: version metadata resolution and document stamping
//   - inject: head insertion and the stamping HTTP middleware
//   - server: static hosting with rebuild events over WebSocket
//   - push: client for the server's rebuild events
//   - watcher: file system monitoring with debouncing
//   - config, errors, logging, version: shared plumbing
//
// A check compares the fingerprint observed in a freshly fetched page with
// the baseline seeded at load time. Only an accepted update moves the
// baseline forward.
package internal
