// Package interfaces defines the shared domain types, collaborator
// interfaces and error values of the central configuration service.
//
// The core components (signing key registry, anchor generator, configuration
// part store, trusted anchor registry, HA consistency monitor) depend only on
// the interfaces declared here, never on each other's concrete types.
package interfaces
