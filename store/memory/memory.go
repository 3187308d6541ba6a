// Package memory provides in-memory implementations of the billing
// collaborator interfaces (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store holds contracts, tenant links, and payments in maps. It implements
// billing.ContractSource, billing.TenantDirectory, and billing.PaymentLedger.
type Store struct {
	mu        sync.RWMutex
	contracts map[string]rental.Contract
	links     map[string][]rental.ContractTenant // by contract ID, insertion order
	payments  []rental.Payment
}

func New() *Store {
	return &Store{
		contracts: make(map[string]rental.Contract),
		links:     make(map[string][]rental.ContractTenant),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// PutContract adds or replaces a contract.
func (m *Store) PutContract(c rental.Contract) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[c.ID] = c
}

// LinkTenant appends a tenant link for a contract.
func (m *Store) LinkTenant(link rental.ContractTenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.ContractID] = append(m.links[link.ContractID], link)
}

// Payments returns a copy of all stored payments, insertion order.
func (m *Store) Payments() []rental.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rental.Payment, len(m.payments))
	copy(out, m.payments)
	return out
}

// =============================================================================
// billing.ContractSource
// =============================================================================

func (m *Store) ListActiveContracts(_ context.Context) ([]rental.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []rental.Contract
	for _, c := range m.contracts {
		if c.Active() {
			out = append(out, c)
		}
	}
	// Map iteration order is random; keep runs deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// billing.TenantDirectory
// =============================================================================

func (m *Store) FirstTenantRef(_ context.Context, contractID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := m.links[contractID]
	if len(links) == 0 {
		return "", nil
	}
	best := links[0]
	for _, l := range links[1:] {
		if l.Priority < best.Priority {
			best = l
		}
	}
	return best.TenantRef, nil
}

// =============================================================================
// billing.PaymentLedger
// =============================================================================

func (m *Store) FindPaymentForPeriod(_ context.Context, contractID string, category rental.PaymentCategory, month, year int) (*rental.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.payments {
		p := m.payments[i]
		if p.ContractID == contractID && p.Category == category && p.Month == month && p.Year == year {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Store) MostRecentPayment(_ context.Context, contractID string, category rental.PaymentCategory) (*rental.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *rental.Payment
	for i := range m.payments {
		p := m.payments[i]
		if p.ContractID != contractID || p.Category != category {
			continue
		}
		if found == nil || p.PaidOn.After(found.PaidOn) {
			found = &p
		}
	}
	return found, nil
}

func (m *Store) SumPaidForCategory(_ context.Context, contractID string, category rental.PaymentCategory) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, p := range m.payments {
		if p.ContractID == contractID && p.Category == category {
			sum = sum.Add(p.Paid)
		}
	}
	return sum, nil
}

func (m *Store) InsertPayment(_ context.Context, p rental.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Origin == rental.OriginAuto {
		for _, existing := range m.payments {
			if existing.Origin == rental.OriginAuto &&
				existing.ContractID == p.ContractID &&
				existing.Category == p.Category &&
				existing.Month == p.Month && existing.Year == p.Year {
				return &rental.DuplicatePaymentError{
					ContractID: p.ContractID, Category: p.Category, Month: p.Month, Year: p.Year,
				}
			}
		}
	}
	m.payments = append(m.payments, p)
	return nil
}
