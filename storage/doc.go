// Package storage provides the file-backed persistent store for the central
// configuration service's local state. Records are JSON documents committed
// with a temp-file-and-rename so concurrent readers never see partial writes.
package storage
