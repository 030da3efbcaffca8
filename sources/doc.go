// Package sources implements the signing key registry: the lifecycle of
// signing keys bound to signer gateway tokens, the active-key designation of
// each configuration source, and the anchor regenerations those transitions
// trigger.
package sources
