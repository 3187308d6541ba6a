/*
scheduler.go - Daily billing scheduler

PURPOSE:
  Triggers the payment generator once a day on a cron schedule and records
  every pass (scheduled or manual) as a billing run for audit and UI display.

DESIGN:
  - robfig/cron drives the daily trigger; the default spec fires at 12:24
    local time, matching the historical operational window
  - Each pass creates a run record up front (status "running"), then updates
    it with counts and per-contract error lines when the pass finishes
  - RunNow is shared by the cron callback and the manual API trigger, so
    both paths produce identical audit records
  - Overlapping passes are harmless: the generator's presence check plus
    the store's unique index make the second writer a no-op

CONFIGURATION:
  - Spec:    cron expression (default "24 12 * * *")
  - Enabled: whether the cron trigger is active (default true); RunNow
    still works when disabled

USAGE:
  scheduler := NewBillingScheduler(store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - billing/generator.go: The pass being scheduled
  - handlers.go: RunBilling endpoint (manual trigger)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/warp/rental-engine/billing"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/sqlite"
)

// DefaultCronSpec fires the daily pass at 12:24.
const DefaultCronSpec = "24 12 * * *"

// BillingScheduler triggers the payment generator on a daily cron schedule.
type BillingScheduler struct {
	Store     *sqlite.Store
	Generator *billing.Generator
	Spec      string
	Enabled   bool

	cron *cron.Cron
	mu   sync.Mutex
}

// NewBillingScheduler creates a scheduler over the given store.
func NewBillingScheduler(store *sqlite.Store) *BillingScheduler {
	return &BillingScheduler{
		Store:     store,
		Generator: billing.NewGenerator(store, store, store),
		Spec:      DefaultCronSpec,
		Enabled:   true,
	}
}

// Start registers the cron entry and begins scheduling.
func (bs *BillingScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		log.Println("[Billing] Scheduler disabled, not starting")
		return
	}

	bs.cron = cron.New()
	_, err := bs.cron.AddFunc(bs.Spec, func() {
		if _, _, err := bs.RunNow(context.Background()); err != nil {
			log.Printf("[Billing] Scheduled run failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("[Billing] Invalid cron spec %q: %v", bs.Spec, err)
		return
	}

	bs.cron.Start()
	log.Printf("[Billing] Scheduler started with spec %q", bs.Spec)
}

// Stop halts the cron scheduler, waiting for an in-flight pass to finish.
func (bs *BillingScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.cron != nil {
		<-bs.cron.Stop().Done()
		bs.cron = nil
		log.Println("[Billing] Scheduler stopped")
	}
}

// RunNow executes one generation pass immediately and records it. Used by
// both the cron trigger and the manual API endpoint.
func (bs *BillingScheduler) RunNow(ctx context.Context) (rental.BillingRun, billing.Report, error) {
	started := time.Now().UTC()
	run := rental.BillingRun{
		ID:        uuid.NewString(),
		StartedAt: started,
		Status:    "running",
		CreatedAt: started,
	}
	if err := bs.Store.SaveBillingRun(ctx, run); err != nil {
		return run, billing.Report{}, err
	}

	log.Printf("[Billing] Run %s started", run.ID)

	report, err := bs.Generator.Run(ctx)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.ContractsSeen = report.ContractsSeen
	run.ContractsSkipped = report.ContractsSkipped
	run.PaymentsCreated = report.PaymentsCreated
	run.Errors = report.ErrorLines()

	if err != nil {
		run.Status = "failed"
		run.Errors = err.Error()
	} else {
		// Per-contract errors do not fail the run; partial progress is
		// durable and the failed sub-passes retry on the next pass.
		run.Status = "completed"
	}

	if saveErr := bs.Store.SaveBillingRun(ctx, run); saveErr != nil {
		log.Printf("[Billing] Failed to update run record %s: %v", run.ID, saveErr)
	}

	log.Printf("[Billing] Run %s %s: %d seen, %d skipped, %d created, %d errors",
		run.ID, run.Status, report.ContractsSeen, report.ContractsSkipped,
		report.PaymentsCreated, len(report.Errors))

	return run, report, err
}
