// Package httpserver exposes the administrative HTTP API of the central
// configuration service: configuration source and signing key management,
// configuration part uploads and downloads, the two-phase trusted anchor
// import, system settings, and the HA cluster status check. It also serves
// the standard health and drain endpoints.
package httpserver
