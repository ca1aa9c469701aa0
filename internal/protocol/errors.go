// Package protocol implements the recursive capability cultivation engine for recap.
// This file defines the sentinel errors shared across the package.
package protocol

import "errors"

var (
	// ErrNotFound is returned when a generator or invocation names a
	// capability that is not in the registry.
	ErrNotFound = errors.New("capability not found")

	// ErrUnsupportedMode is returned for a composition mode outside the
	// closed sequence/parallel/conditional set.
	ErrUnsupportedMode = errors.New("unsupported composition mode")

	// ErrUnsupportedKind is returned for a modifier kind outside the
	// closed memoize/log/guard set.
	ErrUnsupportedKind = errors.New("unsupported modifier kind")

	// ErrNoSource marks a capability whose source text is unavailable.
	// Structural analysis excludes such capabilities instead of failing.
	ErrNoSource = errors.New("capability has no source")

	// ErrNotAFunction is returned when a cultivated executable is not a
	// Go function, or source text declares none.
	ErrNotAFunction = errors.New("not a function")

	// ErrImportDenied is returned when cultivated source imports a
	// package outside the configured allowlist.
	ErrImportDenied = errors.New("import not allowed")
)
