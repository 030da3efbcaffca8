// Package trustanchor implements the trusted anchor registry enabling
// federation: anchors of other instances are imported through a two-phase
// preview/confirm upload so a wrong or malicious anchor is never persisted
// unseen.
package trustanchor
