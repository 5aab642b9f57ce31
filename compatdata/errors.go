package compatdata

import "errors"

var (
	// ErrAmbiguousRoot is returned when the document root cannot be unwrapped
	// to a single feature tree.
	ErrAmbiguousRoot = errors.New("ambiguous compat data root")

	// ErrFeatureNotFound is returned when a suite names a feature that has no
	// __compat node in its group document.
	ErrFeatureNotFound = errors.New("feature not found in compat data")

	ErrNoteCollision = errors.New("conflicting notes for the same version")

	// ErrRegression is returned when a platform loses support it previously
	// had. Recording version_removed from observations is not supported.
	ErrRegression = errors.New("support regression detected; version_removed is not recorded automatically")

	// ErrOutOfOrderObservation is returned for an observation older than the
	// newest known version that contradicts the recorded history.
	ErrOutOfOrderObservation = errors.New("observation contradicts history for an older version")

	ErrInconsistentHistory = errors.New("inconsistent support history")
)
