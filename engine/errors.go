package engine

import "errors"

var (
	// ErrNotFound is returned when an operation requires an existing
	// document id and none is present.
	//
	// This is an engine-layer sentinel; the lethe package may translate it
	// into its public error contract.
	ErrNotFound = errors.New("not found")

	// ErrSnapshotUnsupported is returned when the index collaborator does
	// not implement index.Serializer.
	ErrSnapshotUnsupported = errors.New("index does not support snapshots")

	// ErrPoolClosed is returned when a task is submitted to a closed
	// worker pool.
	ErrPoolClosed = errors.New("worker pool is closed")
)
