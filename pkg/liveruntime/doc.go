// Package liveruntime provides the contract of the livesync composition root.
//
// A Runtime owns, for one client in one session:
//   - one signaling channel, connected on Start
//   - one TimestampProvider and one RoleVerifier shared by every scope
//   - the registry of object kinds and the event scopes and synchronizers
//     created for each attached object
//
// Architecture:
//  1. The hosting application creates a Runtime with an explicit registry
//  2. Start connects the signaler and learns the local client id
//  3. Objects are attached by kind; each gets a scope and, optionally, a synchronizer
//  4. Close disposes every scope and synchronizer and closes the signaler
//
// Several runtimes can live in one process (one per simulated client in tests); none of
// them share global state.
package liveruntime
