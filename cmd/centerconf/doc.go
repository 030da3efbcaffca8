// Package main (cmd/centerconf) runs the central server configuration
// management service.
//
// The service owns the configuration sources of one trust network instance:
// it manages signing keys through an external signer gateway, generates and
// serves configuration anchors, stores versioned configuration parts behind
// validate-before-commit, imports trusted anchors of federated instances,
// and reports HA cluster consistency when a cluster DSN is configured.
package main
