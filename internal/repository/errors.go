// Package repository holds the MySQL data access for the booking core.
// The sentinel values below let services tell expected outcomes apart from
// infrastructure faults.  ErrNotFound is returned instead of sql.ErrNoRows,
// ErrNotDraft guards operations that only apply to cart applications, and
// ErrConflict signals that a write lost against existing state.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when a session tries to touch an application it
// does not own.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot proceed because of existing
// state, such as a duplicate lock row.
var ErrConflict = errors.New("conflict")

// ErrNotDraft is returned when an operation that only applies to draft
// (NEWPARTIAL1) applications is attempted on a submitted one.
var ErrNotDraft = errors.New("application is not a draft")
