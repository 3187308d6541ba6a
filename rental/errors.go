/*
errors.go - Centralized error types for the rental domain

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  Store and API packages wrap these with additional context.

ERROR CATEGORIES:
  1. Not-found errors - referenced entity does not exist
  2. Billing errors - duplicate generation, missing cadence
  3. Validation errors - malformed input

USAGE:
  if errors.Is(err, rental.ErrDuplicatePayment) {
      // another run already generated this period's record
  }

SEE ALSO:
  - store/sqlite: maps constraint violations onto these sentinels
  - api/handlers.go: maps these onto HTTP status codes
*/
package rental

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicatePayment is returned when an auto-generated payment for the
	// same contract+category+month+year already exists. This is the store
	// backing up the generator's presence check (defense in depth against
	// overlapping runs).
	ErrDuplicatePayment = errors.New("duplicate generated payment for period")

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = errors.New("contract not found")

	// ErrTenantNotFound is returned when a referenced tenant doesn't exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrApartmentNotFound is returned when a referenced apartment doesn't exist.
	ErrApartmentNotFound = errors.New("apartment not found")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidCategory is returned for an unknown payment category string.
	ErrInvalidCategory = errors.New("invalid payment category")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicatePaymentError provides details about a per-period uniqueness
// violation on generated payments.
type DuplicatePaymentError struct {
	ContractID string
	Category   PaymentCategory
	Month      int
	Year       int
}

func (e *DuplicatePaymentError) Error() string {
	return fmt.Sprintf("payment already generated: contract %s, %s, %02d/%d",
		e.ContractID, e.Category, e.Month, e.Year)
}

func (e *DuplicatePaymentError) Unwrap() error {
	return ErrDuplicatePayment
}

// ContractBillingError wraps a failure while billing a single contract.
// The generator collects these and keeps going; one bad contract must not
// block billing for the others.
type ContractBillingError struct {
	ContractID string
	Category   PaymentCategory
	At         time.Time
	Err        error
}

func (e *ContractBillingError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("contract %s: %s generation failed: %v", e.ContractID, e.Category, e.Err)
	}
	return fmt.Sprintf("contract %s: billing failed: %v", e.ContractID, e.Err)
}

func (e *ContractBillingError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrApartmentNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrDuplicatePayment)
}
