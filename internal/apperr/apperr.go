// Package apperr defines the error kinds shared by storage, refresh, and
// transport layers. Callers classify failures with errors.Is.
package apperr

import "errors"

// ErrNotFound is returned when a requested project, keyword, or tracker
// does not exist (or is soft-deleted and therefore invisible).
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness invariant rejects a write,
// e.g. opening a refresh while one is already active for the project.
var ErrConflict = errors.New("conflict")

// ErrTransient is returned on store or network timeouts. The operation is
// safe to retry.
var ErrTransient = errors.New("transient failure")

// ErrDispatch is returned when a queue batch submission fails. The whole
// batch must be retried; no partial acceptance is ever reported.
var ErrDispatch = errors.New("dispatch failed")

// ErrValidation is returned for malformed input, e.g. an empty phone
// number or category name.
var ErrValidation = errors.New("invalid input")
