// Package repository holds what every transaction store implementation shares:
// the sentinel errors of the store contract and the transition arguments.
package repository

import "errors"

var (
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict is returned by conditional updates when the transaction is no
	// longer in the expected status.
	ErrConflict  = errors.New("transaction status conflict")
	ErrDuplicate = errors.New("duplicate external entry id")
)

// TransitionFields are set together with the status change.
type TransitionFields struct {
	SettlementReference string
}
