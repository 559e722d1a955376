// Package liveevent defines the data model and the consumed contracts shared by every
// livesync component.
//
// This package defines:
//   - LiveEvent: the stamped envelope broadcast by an event scope
//   - Stamp: the (timestamp, clientId) pair used for last-writer-wins ordering
//   - TimestampProvider: the clock authority used to stamp events and bound clock skew
//   - RoleVerifier: the external authority that attests a sender's roles
//   - Role: opaque role tags checked by the verifier
//
// Ordering rules:
//  1. A greater timestamp always wins.
//  2. Equal timestamps are broken by the lexically greater client id, so every peer
//     resolves the same winner without coordination.
//
// Example usage:
//
//	evt := liveevent.LiveEvent[Cursor]{Name: "move", Data: Cursor{X: 1, Y: 2}}
//	if liveevent.IsNewer(current.Stamp(), evt.Stamp()) {
//		current = evt
//	}
//
// The interfaces use Go idioms:
//   - context.Context on the blocking verification call
//   - explicit error returns, with sentinel errors for errors.Is checks
package liveevent
