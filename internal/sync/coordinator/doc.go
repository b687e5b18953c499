// Package coordinator keeps the daemon's configured watches in sync.
//
// The coordinator starts one sync session per watch and then rechecks every
// watch on a jittered timer:
//
//   - A watch without a session (its credential or BeginSync failed) is started again
//   - A session whose last pass failed is disposed and replaced
//   - A session with a live push subscription is left alone
//   - A pushless session is replaced once its recheck interval has elapsed since
//     its last pass, which rediscovers the item's latest version
//
// Every new session resolves its credential again, so rotated tokens are used
// without restarting the daemon.
//
// # Usage
//
//	watches, err := coordinator.WatchesFromConfig(cfg)
//	coord := coordinator.New(coordinator.NewSessionStarter(orch), resolver, watches)
//	go coord.Start(ctx)
//	...
//	coord.Stop()
//
// Stop disposes every session the coordinator started.
package coordinator
