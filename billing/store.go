/*
store.go - Collaborator interfaces for the payment generator

PURPOSE:
  Defines the narrow persistence surface the generator consumes. The
  generator never sees a database; it sees these three interfaces. The
  sqlite store implements all of them, the memory store implements them
  for unit tests.

INTERFACES:
  ContractSource:  "list all contracts with active status"
  TenantDirectory: "find first tenant linked to a contract"
  PaymentLedger:   period lookup, most-recent lookup, paid-sum, insert

DESIGN:
  Accept interfaces, return structs. Each method maps to exactly one query
  the generator needs; nothing speculative. Missing rows are (nil, nil),
  matching the store convention used across the repo.

SEE ALSO:
  - generator.go: The consumer
  - store/sqlite: Production implementation
  - store/memory: Test implementation
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// ContractSource lists the contracts eligible for billing.
type ContractSource interface {
	// ListActiveContracts returns every contract with active status.
	ListActiveContracts(ctx context.Context) ([]rental.Contract, error)
}

// TenantDirectory resolves the payee reference for a contract.
type TenantDirectory interface {
	// FirstTenantRef returns the reference of the first tenant linked to the
	// contract, ordered by priority then insertion. Empty string when the
	// contract has no linked tenants.
	FirstTenantRef(ctx context.Context, contractID string) (string, error)
}

// PaymentLedger is the read-check-then-write surface over persisted payments.
type PaymentLedger interface {
	// FindPaymentForPeriod returns the payment of the given category for the
	// contract in the given calendar month, or nil when none exists. This is
	// the generator's idempotence check.
	FindPaymentForPeriod(ctx context.Context, contractID string, category rental.PaymentCategory, month, year int) (*rental.Payment, error)

	// MostRecentPayment returns the latest payment of the given category for
	// the contract, ordered by paid-on date descending, or nil when none.
	MostRecentPayment(ctx context.Context, contractID string, category rental.PaymentCategory) (*rental.Payment, error)

	// SumPaidForCategory sums the paid amounts across all payments of the
	// given category for the contract.
	SumPaidForCategory(ctx context.Context, contractID string, category rental.PaymentCategory) (decimal.Decimal, error)

	// InsertPayment persists a new payment record. Returns an error wrapping
	// rental.ErrDuplicatePayment if a generated record for the same
	// contract+category+period already exists.
	InsertPayment(ctx context.Context, p rental.Payment) error
}
