// Package anchor builds the distributable configuration anchor: the signed,
// hash-addressable document telling downstream servers where to fetch trusted
// configuration and which key verifies it.
package anchor
