package store

import "errors"

// Sentinel errors classify business-rule failures so that callers
// (internal/txn) can map them to wire <error> text
// with errors.Is instead of matching on error strings.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrOrderNotFound   = errors.New("order not found")
)
