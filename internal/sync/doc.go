// Package sync composes the engine into sync sessions.
//
// An Orchestrator starts one session per BeginSync call. Each session runs passes
// through the same flow:
//
//  1. Discover the item's latest version, retrying transient failures
//  2. Submit the version to the translation tracker and poll it to a terminal state
//  3. On success, load the parser runtime and hand manifest and runtime to the
//     GeometryConsumer; a runtime failure only disables parsing
//  4. Hand the Result to the ResultSink and every OnManifestReady callback
//  5. Register a push handler on the item stream (sources that support it)
//
// A version pushed later starts a new pass at step 2, superseding any job still
// polling for an older version. Failed and timed out passes are reported as an
// Outcome and never retried automatically.
//
// # Sessions
//
// A session owns its tracker and its subscription handler. Handle.Dispose cancels
// pending polls and releases the handler; in-flight upstream calls complete and
// their results are discarded. The credential of a session is kept in memory only
// and dropped with the session.
//
// # Coordinator
//
// The coordinator subpackage keeps configured watches in sync for the daemon.
package sync
