// Package repository defines the persistence contract used by the slot
// allocation services together with its MySQL, MongoDB and in-memory
// implementations.  The sentinel errors below are shared by every backend so
// that the service layer can tell the failure scenarios apart.
package repository

import "errors"

// ErrNotFound is returned when a participation, slot or ledger row does not
// exist.  Services translate it into a not-found error for the caller.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write loses a race: an optimistic version
// check failed, or a unique key (one slot per day and window, one completion
// per user and slot) rejected the insert.  The whole transaction is rolled
// back and the caller may retry.
var ErrConflict = errors.New("conflict")

// ErrReadOnly is returned by writes attempted inside Store.View.
var ErrReadOnly = errors.New("read-only transaction")
