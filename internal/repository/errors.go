// Package repository defines the storage error taxonomy shared between
// repository implementations and their callers. Any storage error that is not
// one of these sentinels is treated as fatal to the current run.
package repository

import "errors"

var (
	// ErrDuplicateEntry is returned on queue insert when an entry with the
	// same fingerprint already exists. The dedup ledger should have caught
	// this earlier, so callers log a warning and skip the item.
	ErrDuplicateEntry = errors.New("queue entry with this fingerprint already exists")
	// ErrEntryNotFound is returned by state transitions on unknown entries.
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrEntryAlreadyPosted is returned when marking an entry that is
	// already posted. Benign under retries, the publish log is untouched.
	ErrEntryAlreadyPosted = errors.New("queue entry already posted")
)
