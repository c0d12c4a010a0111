// Package storage implements the durable record log the document table
// writes through to: load-all, persist, persist-tombstone
package storage

import "errors"

var (
	// ErrCorrupted indicates a corrupted log record (CRC mismatch)
	ErrCorrupted = errors.New("storage: corrupted record")

	// ErrTruncated indicates a truncated log record
	ErrTruncated = errors.New("storage: truncated record")

	// ErrLogClosed indicates an operation on a closed log
	ErrLogClosed = errors.New("storage: log closed")
)
