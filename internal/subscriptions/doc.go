// Package subscriptions keeps at most one live push subscription per source stream.
//
// Callers register handlers by reference on a shared subscription; every pushed
// version is fanned out to each distinct handler. Dispose and Release report an
// explicit DisposeResult, and an upstream unsubscribe failure never leaves a stale
// registry entry behind.
package subscriptions
