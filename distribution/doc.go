// Package distribution mirrors committed configuration artifacts (anchors,
// configuration parts) to external locations downstream servers can fetch
// from. Mirroring always happens after the local commit and is best-effort:
// a mirror failure is a warning, never a rollback.
package distribution
