package store

import "errors"

// ErrDuplicateNomination is returned when a (set, user) pair is
// nominated a second time; the ledger keeps at most one row per pair.
var ErrDuplicateNomination = errors.New("nomination already exists")
