/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Module packages (dues, metered) wrap these with additional context.

ERROR CATEGORIES:
  1. Configuration errors - Missing/invalid billing config. Fatal to the
     request; financial rate fields are never silently defaulted.
  2. Validation errors - Malformed caller input, stale credit snapshot, or
     a preview-total mismatch at commit time. No partial write occurs.
  3. Not-found errors - A referenced record vanished at commit time; the
     whole atomic batch aborts.
  4. Module load errors - One billing module could not load its bills.
     Surfaced as a distinct "degraded" signal, never swallowed as "no
     bills owed".

Reconciler findings are NOT errors: they are returned as Discrepancy data.
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/strata/billing-engine/store"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingPenaltyConfig is returned when a module's penalty rate or
	// grace days are absent. There is no implicit default for money fields.
	ErrMissingPenaltyConfig = errors.New("penalty config missing rate or grace days")

	// ErrInvalidAmount is returned for negative or otherwise malformed
	// payment amounts.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrPreviewMismatch is returned at commit time when the freshly
	// recomputed distribution no longer matches the caller's preview total.
	ErrPreviewMismatch = errors.New("preview total does not match recomputed distribution")

	// ErrStaleCredit is returned at commit time when the caller-supplied
	// credit balance disagrees with the ledger's folded balance.
	ErrStaleCredit = errors.New("credit balance snapshot is stale")

	// ErrNegativeCredit is returned when a write would leave the credit
	// ledger's running balance negative.
	ErrNegativeCredit = errors.New("credit balance may not go negative")

	// ErrFundsNotConserved guards the distributor's conservation invariant.
	// Seeing it means a bug, not bad input.
	ErrFundsNotConserved = errors.New("funds conservation violated")

	// ErrUnknownModule is returned when an allocation references a module no
	// registered bill source owns.
	ErrUnknownModule = errors.New("no bill source registered for module")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigError reports a missing or invalid billing configuration field.
type ConfigError struct {
	Module ModuleType
	Field  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("billing config for module %q: missing or invalid %s", e.Module, e.Field)
}

func (e *ConfigError) Unwrap() error { return ErrMissingPenaltyConfig }

// ValidationError reports malformed caller input or a failed commit-time
// check. No partial write occurs when one is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ModuleLoadError is the degraded signal: one module's bills could not be
// loaded. Callers can distinguish "no bills owed" from "bills could not be
// loaded".
type ModuleLoadError struct {
	Module ModuleType
	Err    error
}

func (e *ModuleLoadError) Error() string {
	return fmt.Sprintf("module %q could not load obligations: %v", e.Module, e.Err)
}

func (e *ModuleLoadError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// rather than a server-side failure.
func IsClientError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrPreviewMismatch) ||
		errors.Is(err, ErrStaleCredit) ||
		errors.Is(err, ErrNegativeCredit)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// IsConfigError returns true for fail-fast configuration problems.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingPenaltyConfig)
}
