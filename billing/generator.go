/*
generator.go - Recurring payment generation

PURPOSE:
  The one pass the scheduler runs each day: inspect every active contract
  and emit the periodic payment obligations that are due but not yet
  recorded. Four independent sub-passes per contract: rent, water,
  electricity, deposit.

INVARIANT (the central correctness property):
  At most one generated payment of a given category per contract per
  calendar month. Enforced by a presence check before every insert, backed
  by a store-level unique index on generated rows.

TRIGGER RULE:
  A category fires when its due day is <= yesterday's day-of-month, i.e.
  the obligation is generated one day after it fell due, never proactively.

CARRY-FORWARD:
  If the most recent prior payment of the category has a NEGATIVE
  outstanding amount, its absolute value is added to the new expected
  amount. The sign convention is historical and inconsistent on its face
  (see rental package comment); it is preserved here branch by branch,
  not normalized.

DUE-DATE CLAMPING:
  Due day is clamped to 28 so short months never produce invalid dates.
  A contract with due day 31 is billed as due the 28th every month, by
  long-standing policy; do not "fix" this.

FAILURE ISOLATION:
  Failures are contained twice over: a failing sub-pass does not stop the
  remaining sub-passes for the contract, and a failing contract does not
  stop the remaining contracts. Each insert commits independently, so
  partial progress is durable. All errors come back in the Report.

SEE ALSO:
  - store.go: Collaborator interfaces
  - api/scheduler.go: Daily cron trigger and run audit
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// maxDueDay caps generated due dates so February never overflows.
const maxDueDay = 28

// Generator produces pending payment obligations for active contracts.
type Generator struct {
	Contracts ContractSource
	Tenants   TenantDirectory
	Payments  PaymentLedger

	// Now is the clock; defaults to time.Now. Tests pin it.
	Now func() time.Time
}

// NewGenerator creates a generator over the given stores.
func NewGenerator(contracts ContractSource, tenants TenantDirectory, payments PaymentLedger) *Generator {
	return &Generator{
		Contracts: contracts,
		Tenants:   tenants,
		Payments:  payments,
		Now:       time.Now,
	}
}

// Report summarizes one generation pass.
type Report struct {
	ContractsSeen    int
	ContractsSkipped int // no rent due day configured
	PaymentsCreated  int
	Errors           []error
}

// Failed reports whether any contract or sub-pass errored.
func (r Report) Failed() bool { return len(r.Errors) > 0 }

// ErrorLines renders the collected errors one per line for audit storage.
func (r Report) ErrorLines() string {
	out := ""
	for i, err := range r.Errors {
		if i > 0 {
			out += "\n"
		}
		out += err.Error()
	}
	return out
}

// Run executes one generation pass. Only listing the contracts can fail the
// whole run; everything after that is isolated per contract and collected
// into the report.
func (g *Generator) Run(ctx context.Context) (Report, error) {
	var report Report

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	today := dateOnly(now())
	yesterday := today.AddDate(0, 0, -1)

	contracts, err := g.Contracts.ListActiveContracts(ctx)
	if err != nil {
		return report, fmt.Errorf("listing active contracts: %w", err)
	}

	for _, c := range contracts {
		report.ContractsSeen++

		// No due day means no billing cadence; skip the whole contract.
		if c.RentDueDay == 0 {
			report.ContractsSkipped++
			continue
		}

		g.billContract(ctx, c, today, yesterday, &report)
	}

	return report, nil
}

// billContract runs the four sub-passes for one contract, each isolated.
func (g *Generator) billContract(ctx context.Context, c rental.Contract, today, yesterday time.Time, report *Report) {
	tenantRef, err := g.Tenants.FirstTenantRef(ctx, c.ID)
	if err != nil {
		report.Errors = append(report.Errors, &rental.ContractBillingError{ContractID: c.ID, At: today, Err: err})
		return
	}
	if tenantRef == "" {
		tenantRef = rental.NoTenantRef
	}

	record := func(cat rental.PaymentCategory, created bool, err error) {
		switch {
		case err == nil:
			if created {
				report.PaymentsCreated++
			}
		case errors.Is(err, rental.ErrDuplicatePayment):
			// A concurrent run won the read-check-then-write race. The record
			// exists, which is the outcome we wanted.
			log.Printf("[Billing] duplicate suppressed: contract %s %s", c.ID, cat)
		default:
			report.Errors = append(report.Errors, &rental.ContractBillingError{
				ContractID: c.ID, Category: cat, At: today, Err: err,
			})
		}
	}

	created, err := g.generateRent(ctx, c, tenantRef, today, yesterday)
	record(rental.CategoryRent, created, err)

	if !c.UtilitiesIncluded {
		created, err = g.generateUtility(ctx, c, rental.CategoryWater, c.WaterDueDay, tenantRef, today, yesterday)
		record(rental.CategoryWater, created, err)

		created, err = g.generateUtility(ctx, c, rental.CategoryElectricity, c.ElectricityDueDay, tenantRef, today, yesterday)
		record(rental.CategoryElectricity, created, err)
	}

	created, err = g.generateDeposit(ctx, c, tenantRef, today)
	record(rental.CategoryDeposit, created, err)
}

// =============================================================================
// RENT
// =============================================================================

func (g *Generator) generateRent(ctx context.Context, c rental.Contract, tenantRef string, today, yesterday time.Time) (bool, error) {
	if c.RentDueDay > yesterday.Day() {
		return false, nil // not due yet
	}

	existing, err := g.Payments.FindPaymentForPeriod(ctx, c.ID, rental.CategoryRent, int(today.Month()), today.Year())
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil // already generated this month
	}

	expected := c.MonthlyRent
	prev, err := g.Payments.MostRecentPayment(ctx, c.ID, rental.CategoryRent)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Outstanding.IsNegative() {
		// Arrears carry-forward: negative outstanding marks a remaining
		// balance from the prior period.
		expected = expected.Add(prev.Outstanding.Abs())
	}

	p := g.newPayment(c.ID, tenantRef, rental.CategoryRent, today, expected)
	p.DueOn = dueDate(today, c.RentDueDay)
	p.Note = "Monthly rent generated automatically"

	if err := g.Payments.InsertPayment(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// UTILITIES (water, electricity)
// =============================================================================

// generateUtility handles water and electricity, which share one shape: the
// expected amount starts at zero (metered consumption is unknown ahead of the
// bill) plus any carried arrears.
func (g *Generator) generateUtility(ctx context.Context, c rental.Contract, cat rental.PaymentCategory, dueDay *int, tenantRef string, today, yesterday time.Time) (bool, error) {
	if dueDay == nil || *dueDay > yesterday.Day() {
		return false, nil
	}

	existing, err := g.Payments.FindPaymentForPeriod(ctx, c.ID, cat, int(today.Month()), today.Year())
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	expected := decimal.Zero
	prev, err := g.Payments.MostRecentPayment(ctx, c.ID, cat)
	if err != nil {
		return false, err
	}
	if prev != nil && prev.Outstanding.IsNegative() {
		expected = expected.Add(prev.Outstanding.Abs())
	}

	p := g.newPayment(c.ID, tenantRef, cat, today, expected)
	p.DueOn = dueDate(today, *dueDay)
	switch cat {
	case rental.CategoryWater:
		p.Note = "Water charge generated automatically"
	default:
		p.Note = "Electricity charge generated automatically"
	}

	if err := g.Payments.InsertPayment(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// DEPOSIT - two-branch policy
// =============================================================================

// generateDeposit re-surfaces the initial deposit obligation monthly until
// the deadline, then keeps chasing any remaining balance as overdue. An
// unset deadline disables both branches; that silence is documented
// behavior, not a gap to fill here.
func (g *Generator) generateDeposit(ctx context.Context, c rental.Contract, tenantRef string, today time.Time) (bool, error) {
	if c.InitialDeposit.IsZero() || c.DepositDeadline == nil {
		return false, nil
	}

	deadline := dateOnly(*c.DepositDeadline)
	// Due the 1st regardless of the deadline: the obligation re-surfaces
	// monthly until settled.
	dueOn := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	if !today.After(deadline) {
		return g.depositOnTime(ctx, c, tenantRef, today, dueOn)
	}
	return g.depositOverdue(ctx, c, tenantRef, today, dueOn)
}

func (g *Generator) depositOnTime(ctx context.Context, c rental.Contract, tenantRef string, today, dueOn time.Time) (bool, error) {
	existing, err := g.Payments.FindPaymentForPeriod(ctx, c.ID, rental.CategoryDeposit, int(today.Month()), today.Year())
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	prev, err := g.Payments.MostRecentPayment(ctx, c.ID, rental.CategoryDeposit)
	if err != nil {
		return false, err
	}

	owed := c.InitialDeposit
	if prev != nil {
		paid, err := g.Payments.SumPaidForCategory(ctx, c.ID, rental.CategoryDeposit)
		if err != nil {
			return false, err
		}
		owed = decimal.Max(c.InitialDeposit.Sub(paid), decimal.Zero)
	}
	if !owed.IsPositive() {
		return false, nil // deposit fully covered, nothing to chase
	}

	p := g.newPayment(c.ID, tenantRef, rental.CategoryDeposit, today, owed)
	p.DueOn = dueOn
	p.Note = "Initial deposit payment generated automatically"

	if err := g.Payments.InsertPayment(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Generator) depositOverdue(ctx context.Context, c rental.Contract, tenantRef string, today, dueOn time.Time) (bool, error) {
	prev, err := g.Payments.MostRecentPayment(ctx, c.ID, rental.CategoryDeposit)
	if err != nil {
		return false, err
	}
	if prev == nil || !prev.Outstanding.IsNegative() {
		return false, nil // no trailing balance to chase
	}
	pending := prev.Outstanding.Abs()

	existing, err := g.Payments.FindPaymentForPeriod(ctx, c.ID, rental.CategoryDeposit, int(today.Month()), today.Year())
	if err != nil {
		return false, err
	}
	if existing != nil || !pending.IsPositive() {
		return false, nil
	}

	p := g.newPayment(c.ID, tenantRef, rental.CategoryDeposit, today, pending)
	p.DueOn = dueOn
	p.Note = "Overdue deposit payment generated automatically"

	if err := g.Payments.InsertPayment(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// newPayment builds the common shape of every generated record: nothing paid
// yet, outstanding equals expected (fully owed), pending status.
func (g *Generator) newPayment(contractID, tenantRef string, cat rental.PaymentCategory, today time.Time, expected decimal.Decimal) rental.Payment {
	return rental.Payment{
		ID:          uuid.NewString(),
		ContractID:  contractID,
		TenantRef:   tenantRef,
		Category:    cat,
		PaidOn:      today,
		Expected:    expected,
		Paid:        decimal.Zero,
		Outstanding: expected,
		Complete:    false,
		Status:      rental.PaymentPending,
		Month:       int(today.Month()),
		Year:        today.Year(),
		Origin:      rental.OriginAuto,
	}
}

// dueDate builds the due date for the current period, clamping the day to 28.
func dueDate(today time.Time, day int) time.Time {
	if day > maxDueDay {
		day = maxDueDay
	}
	return time.Date(today.Year(), today.Month(), day, 0, 0, 0, 0, time.UTC)
}

// dateOnly truncates a timestamp to a UTC calendar date.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
