/*
Package rental defines the core domain model for the rental management engine.

PURPOSE:
  This package contains the entities shared by every other package: apartments,
  tenants, lease contracts, payment obligations, deposit refunds, and photo
  evidence. It has no dependencies on storage or HTTP; the billing and api
  packages build on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Payment: a financial obligation tied to a contract, tenant, category,
    and billing period (month/year)
  - PaymentCategory: rent, deposit, water, electricity, parking
  - Contract: a lease with per-category due-day configuration
  - Outstanding amount: the signed remainder on a payment record

SIGN CONVENTION (Outstanding):
  A freshly generated payment carries Outstanding == Expected (positive, fully
  owed). Manual payment recording updates it as money comes in. A NEGATIVE
  outstanding marks a balance that still has to be carried into the next
  period; the billing generator adds its absolute value to the next record.
  This convention is inconsistent on its face but is load-bearing in the data:
  do not normalize it without migrating existing rows.

DESIGN PRINCIPLES:
  1. Precision: money uses decimal.Decimal, never float64
  2. Explicit optionality: unset due days and deadlines are nil pointers,
     not zero values with guessed meaning
  3. Integer status codes match the persisted data (1 = active/pending)

SEE ALSO:
  - errors.go: Sentinel and structured errors
  - billing/generator.go: The recurring payment generator
  - store/sqlite: Persistence
*/
package rental

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT CATEGORIES
// =============================================================================

// PaymentCategory identifies what a payment obligation is for.
type PaymentCategory string

const (
	CategoryRent        PaymentCategory = "rent"
	CategoryDeposit     PaymentCategory = "deposit"
	CategoryWater       PaymentCategory = "water"
	CategoryElectricity PaymentCategory = "electricity"
	CategoryParking     PaymentCategory = "parking" // in the schema, never auto-generated
)

// ValidCategory reports whether s names a known payment category.
func ValidCategory(s string) bool {
	switch PaymentCategory(s) {
	case CategoryRent, CategoryDeposit, CategoryWater, CategoryElectricity, CategoryParking:
		return true
	}
	return false
}

// =============================================================================
// STATUS CODES
// =============================================================================

// Contract status codes. The data model stores plain integers; 1 means the
// lease is live and eligible for billing.
const (
	ContractInactive = 0
	ContractActive   = 1
)

// Payment status codes. The generator always creates records as pending.
const (
	PaymentPending = 1
	PaymentSettled = 2
)

// PaymentOrigin distinguishes generator output from manually recorded rows.
// The store enforces per-period uniqueness only for generated rows.
type PaymentOrigin string

const (
	OriginAuto   PaymentOrigin = "auto"
	OriginManual PaymentOrigin = "manual"
)

// NoTenantRef is the sentinel payee reference used when a contract has no
// linked tenant yet. Generated payments never carry an empty reference.
const NoTenantRef = "UNASSIGNED"

// =============================================================================
// ENTITIES
// =============================================================================

// Apartment is a physical rental unit.
type Apartment struct {
	ID            string
	Name          string
	SizeM2        decimal.Decimal
	Floor         int
	Bedrooms      int
	Bathrooms     int
	LivingRooms   int
	Kitchens      int
	WindowCount   int
	ClosetCount   int
	HasShower     bool
	InteriorColor string
	ExteriorColor string
	Address       string
	CreatedAt     time.Time
}

// Tenant is a person who can be linked to contracts. Keyed by national ID.
type Tenant struct {
	NationalID  string
	FirstName   string
	LastName    string
	SecondLast  string
	Nationality string
	BirthDate   *time.Time
	Phone       string
	Email       string
	Profession  string
	CreatedAt   time.Time
}

// Contract is a lease agreement over an apartment.
//
// Billing configuration:
//   - RentDueDay is the day of month rent falls due; 0 means unset, which
//     excludes the contract from generation entirely (no cadence known).
//   - WaterDueDay / ElectricityDueDay are optional; nil skips that category.
//   - UtilitiesIncluded suppresses water/electricity generation altogether.
//   - DepositDeadline is the last day the initial deposit may be paid; nil
//     disables deposit generation (both branches).
type Contract struct {
	ID                string
	ApartmentID       string
	SignedAt          time.Time
	StartDate         time.Time
	EndDate           time.Time
	MonthlyRent       decimal.Decimal
	InitialDeposit    decimal.Decimal
	UtilitiesIncluded bool
	IncludesCable     bool
	IncludesInternet  bool
	IncludesParking   bool
	OccupantCount     int
	PetCount          int
	RentDueDay        int
	WaterDueDay       *int
	ElectricityDueDay *int
	DepositDeadline   *time.Time
	Status            int
	Notes             string
	CreatedAt         time.Time
}

// Active reports whether the contract is eligible for billing.
func (c Contract) Active() bool { return c.Status == ContractActive }

// ContractTenant links a tenant to a contract with a priority rank.
// The lowest priority is the primary payee on generated payments.
type ContractTenant struct {
	ContractID string
	TenantRef  string
	Priority   int
	CreatedAt  time.Time
}

// Payment is a financial obligation on a contract. Created either by the
// billing generator (OriginAuto) or by manual recording (OriginManual).
type Payment struct {
	ID          string
	ContractID  string
	TenantRef   string
	Category    PaymentCategory
	PaidOn      time.Time // creation date of the record, not the due date
	DueOn       time.Time
	Expected    decimal.Decimal
	Paid        decimal.Decimal
	Outstanding decimal.Decimal // signed; see package comment
	Complete    bool
	Status      int
	Month       int // billing period
	Year        int
	Note        string
	Origin      PaymentOrigin
	CreatedAt   time.Time
}

// DepositRefund records returning (part of) a deposit at end of lease.
type DepositRefund struct {
	ID             string
	ContractID     string
	TenantRef      string
	RefundedAt     time.Time
	Deductions     string
	OriginalAmount decimal.Decimal
	RefundedAmount decimal.Decimal
	Notes          string
	PhotoID        string // receipt evidence, optional
	CreatedAt      time.Time
}

// Photo is stored evidence (payment receipts, apartment condition, ID scans).
// The payload is base64 split in two parts to fit the upstream row limits.
type Photo struct {
	ID        string
	Base64A   string
	Base64B   string
	Context   string
	CreatedAt time.Time
}

// PhotoLink attaches a photo to an owning entity (apartment, contract,
// tenant, or payment) with a free-text caption.
type PhotoLink struct {
	OwnerID string
	PhotoID string
	Caption string
}

// =============================================================================
// BILLING RUN AUDIT
// =============================================================================

// BillingRun records one pass of the payment generator, scheduled or manual.
type BillingRun struct {
	ID               string
	StartedAt        time.Time
	CompletedAt      *time.Time
	Status           string // running, completed, failed
	ContractsSeen    int
	ContractsSkipped int
	PaymentsCreated  int
	Errors           string // newline-separated per-contract error lines
	CreatedAt        time.Time
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustDecimal parses s, returning zero on malformed input. Used when scanning
// trusted store columns where a parse failure means corrupt data, not an
// actionable error.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
