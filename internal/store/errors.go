package store

import "errors"

// Sentinel errors returned by Store operations. Use errors.Is to check for
// them; read operations that simply find nothing return a zero value and a
// nil error instead (see ErrNotFound's doc comment for the exception).
var (
	// ErrNotFound is returned by operations for which the caller needs to
	// distinguish "nothing there" from "the call failed" - e.g. resolving a
	// name to an entity id when the name must exist. Plain lookups
	// (FindEntities, GetRelationships, ...) return an empty slice and a nil
	// error instead.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidArgument is returned when a caller-supplied argument is
	// structurally invalid (empty required field, unencodable metadata, a
	// todo in the wrong state to start) rather than simply absent from the
	// store.
	ErrInvalidArgument = errors.New("store: invalid argument")

	// ErrCapabilityUnavailable is returned by operations that require the
	// sqlite-vec extension (semantic search, embedding generation) when the
	// store was opened without it, or when RequireVector was set and the
	// capability probe failed.
	ErrCapabilityUnavailable = errors.New("store: capability unavailable")

	// ErrStorageFailure wraps unexpected errors from the underlying SQLite
	// driver that aren't one of the above - I/O errors, lock timeouts,
	// constraint violations the caller didn't anticipate.
	ErrStorageFailure = errors.New("store: storage failure")

	// ErrParserError is returned when a registered parser fails in a way
	// the ingestion coordinator can't recover from for that file.
	ErrParserError = errors.New("store: parser error")
)
