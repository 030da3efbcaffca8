// Package signer provides the HTTP client for the signer gateway, the
// external token/HSM service performing key custody and signing. The gateway
// is treated as untrusted and fallible: calls carry bounded timeouts and are
// never retried transparently.
package signer
