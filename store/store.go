/*
Package store defines the document store contract used by the billing core.

PURPOSE:
  The billing engine treats persistence as a document-oriented key-value
  store. Every record (dues record, meter record, accounting transaction,
  credit ledger entry) is a JSON document under a hierarchical key such as
  "dues/unit-12/2026" or "txn/unit-12/20260301T120000-ab12...".

CONTRACT:
  Get:        Fetch a single document by key (ErrNotFound if absent).
  ScanPrefix: Ordered scan of every document under a key prefix. Keys are
              chosen so that lexicographic order is chronological order
              (zero-padded sequence numbers, YYYY-MM period keys).
  Apply:      Atomic multi-document batch write. This is the ONLY write
              operation: either every op in the batch lands or none do.
              There is no delete - billing records are superseded, never
              removed.

WRITE GUARDS:
  Each WriteOp can require the target document to already exist (an update
  of a record that must not have vanished) or to be absent (an insert that
  must not collide, e.g. a transaction id or credit ledger sequence). A
  failed guard aborts the whole batch.

NO READ TRANSACTIONS:
  The store makes no multi-document read consistency promise. Callers take
  a snapshot with Get/ScanPrefix, compute, and then commit through a single
  Apply. Concurrent commits for the same unit are expected to be serialized
  by the caller.

IMPLEMENTATIONS:
  - store/memory: In-memory map, for tests and development.
  - store/sqlite: Single-table SQLite store, for production.
*/
package store

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get for a missing key, and by Apply when a
	// WriteOp with RequireExists targets a missing document.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned by Apply when a WriteOp with RequireAbsent
	// targets a document that is already present.
	ErrAlreadyExists = errors.New("document already exists")
)

// GuardError reports which key failed a batch write guard.
type GuardError struct {
	Key string
	Err error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("write guard failed for %q: %v", e.Key, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// =============================================================================
// DOCUMENTS AND WRITE OPS
// =============================================================================

// Doc is a stored document.
type Doc struct {
	Key  string
	Data []byte
}

// WriteOp is a single document write inside an atomic batch.
type WriteOp struct {
	Key  string
	Data []byte

	// RequireExists aborts the batch with ErrNotFound (wrapped in a
	// GuardError) if the key is not already present. Used when incrementing
	// paid fields on a record that must not have vanished.
	RequireExists bool

	// RequireAbsent aborts the batch with ErrAlreadyExists if the key is
	// already present. Used for transaction ids and ledger sequence numbers.
	RequireAbsent bool
}

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence contract for the billing core.
type Store interface {
	// Get returns the document stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// ScanPrefix returns every document whose key starts with prefix,
	// ordered by key ascending.
	ScanPrefix(ctx context.Context, prefix string) ([]Doc, error)

	// Apply executes the batch atomically: all ops land or none do.
	// Guard failures surface as *GuardError wrapping ErrNotFound or
	// ErrAlreadyExists.
	Apply(ctx context.Context, ops []WriteOp) error
}
