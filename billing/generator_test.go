/*
generator_test.go - Tests for the recurring payment generator

Covers the trigger rule, per-month idempotence, arrears carry-forward,
due-date clamping, the two-branch deposit policy, tenant resolution, and
failure isolation. All tests run against the in-memory store with a pinned
clock, so every date in here is deliberate.
*/
package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/billing"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/memory"
)

// =============================================================================
// HELPERS
// =============================================================================

// newGenerator pins the clock to the given date at mid-morning; the generator
// must truncate to the calendar date itself.
func newGenerator(store *memory.Store, year int, month time.Month, day int) *billing.Generator {
	g := billing.NewGenerator(store, store, store)
	g.Now = func() time.Time {
		return time.Date(year, month, day, 10, 30, 0, 0, time.UTC)
	}
	return g
}

func activeContract(id string, rentDueDay int) rental.Contract {
	return rental.Contract{
		ID:          id,
		MonthlyRent: rental.MustDecimal("1000"),
		RentDueDay:  rentDueDay,
		Status:      rental.ContractActive,
	}
}

func intp(v int) *int { return &v }

func datep(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

// priorPayment builds a settled-or-not prior record for carry-forward setups.
func priorPayment(contractID string, cat rental.PaymentCategory, year int, month time.Month, paid, outstanding string) rental.Payment {
	return rental.Payment{
		ID:          fmt.Sprintf("prior-%s-%s-%d-%d", contractID, cat, year, month),
		ContractID:  contractID,
		TenantRef:   rental.NoTenantRef,
		Category:    cat,
		PaidOn:      time.Date(year, month, 10, 0, 0, 0, 0, time.UTC),
		Expected:    rental.MustDecimal("1000"),
		Paid:        rental.MustDecimal(paid),
		Outstanding: rental.MustDecimal(outstanding),
		Status:      rental.PaymentPending,
		Month:       int(month),
		Year:        year,
		Origin:      rental.OriginManual,
	}
}

func paymentsOf(t *testing.T, store *memory.Store, cat rental.PaymentCategory) []rental.Payment {
	t.Helper()
	var out []rental.Payment
	for _, p := range store.Payments() {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// RENT
// =============================================================================

func TestRentGeneratedWhenDue(t *testing.T) {
	// GIVEN an active contract with rent due on the 5th
	store := memory.New()
	store.PutContract(activeContract("c1", 5))

	// WHEN the generator runs on June 10th (due day already passed)
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN exactly one rent obligation exists for June
	assert.Equal(t, 1, report.ContractsSeen)
	assert.Equal(t, 1, report.PaymentsCreated)
	assert.False(t, report.Failed())

	rents := paymentsOf(t, store, rental.CategoryRent)
	require.Len(t, rents, 1)
	p := rents[0]
	assert.Equal(t, "1000", p.Expected.String())
	assert.Equal(t, "1000", p.Outstanding.String())
	assert.Equal(t, "0", p.Paid.String())
	assert.False(t, p.Complete)
	assert.Equal(t, rental.PaymentPending, p.Status)
	assert.Equal(t, rental.OriginAuto, p.Origin)
	assert.Equal(t, 6, p.Month)
	assert.Equal(t, 2025, p.Year)
	assert.Equal(t, time.Date(2025, time.June, 5, 0, 0, 0, 0, time.UTC), p.DueOn)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC), p.PaidOn)
}

func TestRentNotGeneratedBeforeDueDay(t *testing.T) {
	// GIVEN rent due on the 15th
	store := memory.New()
	store.PutContract(activeContract("c1", 15))

	// WHEN the generator runs on the 10th (yesterday was the 9th)
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN nothing is generated; the obligation is not due yet
	assert.Equal(t, 0, report.PaymentsCreated)
	assert.Empty(t, store.Payments())
}

func TestRentTriggersOneDayAfterDueDay(t *testing.T) {
	// GIVEN rent due on the 10th
	store := memory.New()
	store.PutContract(activeContract("c1", 10))

	// WHEN the generator runs on the 10th itself, yesterday is the 9th
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.PaymentsCreated)

	// AND WHEN it runs on the 11th
	g = newGenerator(store, 2025, time.June, 11)
	report, err = g.Run(context.Background())
	require.NoError(t, err)

	// THEN the obligation fires (generation lags the due day by one day)
	assert.Equal(t, 1, report.PaymentsCreated)
}

func TestSecondRunIsNoOp(t *testing.T) {
	// GIVEN a contract already billed this month
	store := memory.New()
	store.PutContract(activeContract("c1", 5))

	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.Payments(), 1)

	// WHEN the generator runs again the same day
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN no second record appears
	assert.Equal(t, 0, report.PaymentsCreated)
	assert.False(t, report.Failed())
	assert.Len(t, store.Payments(), 1)
}

func TestRentCarriesForwardNegativeOutstanding(t *testing.T) {
	// GIVEN last month's rent left a -500 outstanding balance
	store := memory.New()
	store.PutContract(activeContract("c1", 5))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryRent, 2025, time.May, "500", "-500")))

	// WHEN June's rent is generated
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PaymentsCreated)

	// THEN the arrears are added on top of the monthly rent
	rents := paymentsOf(t, store, rental.CategoryRent)
	require.Len(t, rents, 2)
	june := rents[1]
	assert.Equal(t, "1500", june.Expected.String())
	assert.Equal(t, "1500", june.Outstanding.String())
}

func TestRentIgnoresPositiveOutstanding(t *testing.T) {
	// GIVEN last month's record has a POSITIVE outstanding (still owed, but
	// tracked on that record, not carried forward)
	store := memory.New()
	store.PutContract(activeContract("c1", 5))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryRent, 2025, time.May, "0", "1000")))

	// WHEN June's rent is generated
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the new expected amount is the plain monthly rent
	rents := paymentsOf(t, store, rental.CategoryRent)
	require.Len(t, rents, 2)
	assert.Equal(t, "1000", rents[1].Expected.String())
}

func TestDueDayClampedTo28(t *testing.T) {
	// GIVEN rent due on the 31st; it can only fire on the 1st of the
	// following month (the only day whose yesterday is the 31st)
	store := memory.New()
	store.PutContract(activeContract("c1", 31))

	// WHEN the generator runs on August 1st (yesterday July 31st)
	g := newGenerator(store, 2025, time.August, 1)
	report, err := g.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.PaymentsCreated)

	// THEN the due date is clamped to the 28th of the billing month
	p := store.Payments()[0]
	assert.Equal(t, time.Date(2025, time.August, 28, 0, 0, 0, 0, time.UTC), p.DueOn)
	assert.Equal(t, 8, p.Month)
}

// =============================================================================
// UTILITIES
// =============================================================================

func TestUtilitiesGeneratedAtZero(t *testing.T) {
	// GIVEN water due the 3rd and electricity due the 4th
	store := memory.New()
	c := activeContract("c1", 5)
	c.WaterDueDay = intp(3)
	c.ElectricityDueDay = intp(4)
	store.PutContract(c)

	// WHEN the generator runs on June 10th
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN rent, water, and electricity all exist; utilities start at zero
	// because the metered amount is unknown until the bill arrives
	assert.Equal(t, 3, report.PaymentsCreated)

	water := paymentsOf(t, store, rental.CategoryWater)
	require.Len(t, water, 1)
	assert.Equal(t, "0", water[0].Expected.String())
	assert.Equal(t, time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC), water[0].DueOn)

	elec := paymentsOf(t, store, rental.CategoryElectricity)
	require.Len(t, elec, 1)
	assert.Equal(t, "0", elec[0].Expected.String())
}

func TestUtilityCarriesArrears(t *testing.T) {
	// GIVEN a prior water record with -80 outstanding
	store := memory.New()
	c := activeContract("c1", 5)
	c.WaterDueDay = intp(3)
	store.PutContract(c)
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryWater, 2025, time.May, "20", "-80")))

	// WHEN June's pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the new water obligation starts at the carried 80
	water := paymentsOf(t, store, rental.CategoryWater)
	require.Len(t, water, 2)
	assert.Equal(t, "80", water[1].Expected.String())
}

func TestUtilitiesSuppressedWhenIncluded(t *testing.T) {
	// GIVEN a contract with utilities included in the rent
	store := memory.New()
	c := activeContract("c1", 5)
	c.UtilitiesIncluded = true
	c.WaterDueDay = intp(3)
	c.ElectricityDueDay = intp(4)
	store.PutContract(c)

	// WHEN the pass runs with both utility due days passed
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN only rent is generated
	assert.Equal(t, 1, report.PaymentsCreated)
	assert.Empty(t, paymentsOf(t, store, rental.CategoryWater))
	assert.Empty(t, paymentsOf(t, store, rental.CategoryElectricity))
}

func TestUtilityWithoutDueDaySkipped(t *testing.T) {
	// GIVEN a contract with no water due day configured
	store := memory.New()
	store.PutContract(activeContract("c1", 5))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN no water obligation exists
	assert.Empty(t, paymentsOf(t, store, rental.CategoryWater))
}

func TestSubPassesAreIndependent(t *testing.T) {
	// GIVEN June's rent already generated but no water record yet
	store := memory.New()
	c := activeContract("c1", 5)
	c.WaterDueDay = intp(3)
	store.PutContract(c)
	require.NoError(t, store.InsertPayment(context.Background(), rental.Payment{
		ID: "rent-june", ContractID: "c1", TenantRef: rental.NoTenantRef,
		Category: rental.CategoryRent, Month: 6, Year: 2025,
		Expected: rental.MustDecimal("1000"), Outstanding: rental.MustDecimal("1000"),
		Origin: rental.OriginAuto,
	}))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the existing rent record does not suppress the water sub-pass
	assert.Equal(t, 1, report.PaymentsCreated)
	assert.Len(t, paymentsOf(t, store, rental.CategoryWater), 1)
}

// =============================================================================
// DEPOSIT
// =============================================================================

func depositContract(deadline *time.Time) rental.Contract {
	c := activeContract("c1", 5)
	c.InitialDeposit = rental.MustDecimal("3000")
	c.DepositDeadline = deadline
	return c
}

func TestDepositFullAmountBeforeDeadline(t *testing.T) {
	// GIVEN a 3000 deposit due by June 30th with no prior deposit records
	store := memory.New()
	store.PutContract(depositContract(datep(2025, time.June, 30)))

	// WHEN the pass runs on June 10th
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the full deposit is billed, due the 1st of the month
	deposits := paymentsOf(t, store, rental.CategoryDeposit)
	require.Len(t, deposits, 1)
	p := deposits[0]
	assert.Equal(t, "3000", p.Expected.String())
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), p.DueOn)
}

func TestDepositRemainderBeforeDeadline(t *testing.T) {
	// GIVEN 1000 of the 3000 deposit already paid in a prior month
	store := memory.New()
	store.PutContract(depositContract(datep(2025, time.June, 30)))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryDeposit, 2025, time.May, "1000", "0")))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN only the remaining 2000 is billed
	deposits := paymentsOf(t, store, rental.CategoryDeposit)
	require.Len(t, deposits, 2)
	assert.Equal(t, "2000", deposits[1].Expected.String())
}

func TestDepositFullyPaidNothingBilled(t *testing.T) {
	// GIVEN the deposit fully covered across prior payments
	store := memory.New()
	store.PutContract(depositContract(datep(2025, time.June, 30)))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryDeposit, 2025, time.April, "1500", "0")))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryDeposit, 2025, time.May, "1500", "0")))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN no new deposit obligation appears
	assert.Len(t, paymentsOf(t, store, rental.CategoryDeposit), 2)
}

func TestDepositOverdueChasesTrailingBalance(t *testing.T) {
	// GIVEN the deadline passed in May and the last deposit record carries
	// a -1200 outstanding balance
	store := memory.New()
	store.PutContract(depositContract(datep(2025, time.May, 31)))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryDeposit, 2025, time.May, "1800", "-1200")))

	// WHEN the pass runs in June
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN an overdue obligation for exactly the trailing 1200 appears
	deposits := paymentsOf(t, store, rental.CategoryDeposit)
	require.Len(t, deposits, 2)
	p := deposits[1]
	assert.Equal(t, "1200", p.Expected.String())
	assert.Contains(t, p.Note, "Overdue")
}

func TestDepositOverdueRequiresNegativeBalance(t *testing.T) {
	// GIVEN the deadline passed but the last record has no negative balance
	store := memory.New()
	store.PutContract(depositContract(datep(2025, time.May, 31)))
	require.NoError(t, store.InsertPayment(context.Background(),
		priorPayment("c1", rental.CategoryDeposit, 2025, time.May, "3000", "0")))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN nothing new is billed
	assert.Len(t, paymentsOf(t, store, rental.CategoryDeposit), 1)
}

func TestDepositWithoutDeadlineNeverBilled(t *testing.T) {
	// GIVEN a deposit amount but no deadline configured
	store := memory.New()
	store.PutContract(depositContract(nil))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN both deposit branches stay silent; only rent is generated
	assert.Equal(t, 1, report.PaymentsCreated)
	assert.Empty(t, paymentsOf(t, store, rental.CategoryDeposit))
	assert.False(t, report.Failed())
}

// =============================================================================
// CONTRACT SELECTION AND TENANT RESOLUTION
// =============================================================================

func TestContractWithoutRentDueDaySkippedEntirely(t *testing.T) {
	// GIVEN a contract with no rent due day but a water due day
	store := memory.New()
	c := activeContract("c1", 0)
	c.WaterDueDay = intp(3)
	store.PutContract(c)

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the whole contract is skipped, water included
	assert.Equal(t, 1, report.ContractsSkipped)
	assert.Empty(t, store.Payments())
}

func TestInactiveContractNotBilled(t *testing.T) {
	// GIVEN a terminated contract
	store := memory.New()
	c := activeContract("c1", 5)
	c.Status = rental.ContractInactive
	store.PutContract(c)

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the contract is never seen
	assert.Equal(t, 0, report.ContractsSeen)
	assert.Empty(t, store.Payments())
}

func TestSentinelTenantRefWhenUnlinked(t *testing.T) {
	// GIVEN a contract with no linked tenants
	store := memory.New()
	store.PutContract(activeContract("c1", 5))

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the generated payment carries the sentinel reference
	require.Len(t, store.Payments(), 1)
	assert.Equal(t, rental.NoTenantRef, store.Payments()[0].TenantRef)
}

func TestPrimaryTenantPickedByPriority(t *testing.T) {
	// GIVEN two linked tenants with priorities 2 and 1
	store := memory.New()
	store.PutContract(activeContract("c1", 5))
	store.LinkTenant(rental.ContractTenant{ContractID: "c1", TenantRef: "ID-B", Priority: 2})
	store.LinkTenant(rental.ContractTenant{ContractID: "c1", TenantRef: "ID-A", Priority: 1})

	// WHEN the pass runs
	g := newGenerator(store, 2025, time.June, 10)
	_, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the lowest-priority link is the payee
	require.Len(t, store.Payments(), 1)
	assert.Equal(t, "ID-A", store.Payments()[0].TenantRef)
}

// =============================================================================
// FAILURE ISOLATION
// =============================================================================

// failingLedger wraps the memory store and fails inserts for one contract.
type failingLedger struct {
	*memory.Store
	failContract string
}

func (f *failingLedger) InsertPayment(ctx context.Context, p rental.Payment) error {
	if p.ContractID == f.failContract {
		return errors.New("disk full")
	}
	return f.Store.InsertPayment(ctx, p)
}

func TestOneFailingContractDoesNotBlockOthers(t *testing.T) {
	// GIVEN two billable contracts where inserts for the first always fail
	store := memory.New()
	store.PutContract(activeContract("bad", 5))
	store.PutContract(activeContract("good", 5))
	ledger := &failingLedger{Store: store, failContract: "bad"}

	g := billing.NewGenerator(store, store, ledger)
	g.Now = func() time.Time { return time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC) }

	// WHEN the pass runs
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the healthy contract is billed and the failure is reported
	assert.Equal(t, 1, report.PaymentsCreated)
	assert.True(t, report.Failed())
	require.Len(t, report.Errors, 1)

	var billErr *rental.ContractBillingError
	require.ErrorAs(t, report.Errors[0], &billErr)
	assert.Equal(t, "bad", billErr.ContractID)
	assert.Equal(t, rental.CategoryRent, billErr.Category)

	require.Len(t, store.Payments(), 1)
	assert.Equal(t, "good", store.Payments()[0].ContractID)
}

// duplicateLedger simulates losing the read-check-then-write race: the
// presence check sees nothing, the insert hits the unique index.
type duplicateLedger struct {
	*memory.Store
}

func (d *duplicateLedger) FindPaymentForPeriod(ctx context.Context, contractID string, cat rental.PaymentCategory, month, year int) (*rental.Payment, error) {
	return nil, nil
}

func (d *duplicateLedger) InsertPayment(ctx context.Context, p rental.Payment) error {
	return &rental.DuplicatePaymentError{
		ContractID: p.ContractID, Category: p.Category, Month: p.Month, Year: p.Year,
	}
}

func TestDuplicateInsertIsNotAnError(t *testing.T) {
	// GIVEN a ledger where every insert loses the race to a concurrent run
	store := memory.New()
	store.PutContract(activeContract("c1", 5))
	ledger := &duplicateLedger{Store: store}

	g := billing.NewGenerator(store, store, ledger)
	g.Now = func() time.Time { return time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC) }

	// WHEN the pass runs
	report, err := g.Run(context.Background())
	require.NoError(t, err)

	// THEN the duplicates are suppressed, not reported as failures
	assert.False(t, report.Failed())
	assert.Equal(t, 0, report.PaymentsCreated)
}

// =============================================================================
// REPORT
// =============================================================================

func TestReportErrorLines(t *testing.T) {
	report := billing.Report{Errors: []error{
		errors.New("first"),
		errors.New("second"),
	}}
	assert.Equal(t, "first\nsecond", report.ErrorLines())
	assert.True(t, report.Failed())

	assert.Equal(t, "", billing.Report{}.ErrorLines())
}
