package domain

import "errors"

// Sentinel errors shared across the persistence boundary. Store
// implementations wrap these so callers can branch without importing a
// concrete backend.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)
