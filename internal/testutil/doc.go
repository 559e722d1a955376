// Package testutil provides in-process fakes of the livesync external collaborators:
// a signaling hub whose members can be disconnected at will, a role verifier with
// per-client latency and failure injection, and a manually advanced clock.
package testutil
