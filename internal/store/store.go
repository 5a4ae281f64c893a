// Package store implements the persistence collaborators consumed by the
// bulk purchase processor: accounts, inventory and the purchase ledger.
//
// Balance and stock writes are absolute (the caller supplies the new value,
// not a delta) and conditional on the row version read alongside the value.
package store

import "errors"

// ErrVersionConflict reports that a conditional write matched no row because
// a concurrent writer moved the version stamp first.
var ErrVersionConflict = errors.New("row version conflict")
