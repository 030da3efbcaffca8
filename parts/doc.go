// Package parts implements the configuration part store: versioned storage
// of the named, signed artifacts making up the distributed configuration
// bundle. Uploads are validated before commit so an invalid artifact is never
// distributable.
package parts
