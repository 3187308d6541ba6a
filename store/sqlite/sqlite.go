/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements persistence for every rental entity (apartments, tenants,
  contracts, tenant links, payments, photos, deposit refunds, billing runs)
  using SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.ContractSource:  ListActiveContracts
  billing.TenantDirectory: FirstTenantRef
  billing.PaymentLedger:   FindPaymentForPeriod, MostRecentPayment,
                           SumPaidForCategory, InsertPayment

KEY TABLES:
  contracts:         Lease agreements with per-category due-day config
  payments:          Payment obligations (generated and manual)
  contract_tenants:  Tenant links with priority rank
  billing_runs:      Audit trail of generator passes
  photos + 4 link tables, deposit_refunds, apartments, tenants

INDEXES:
  - idx_payments_contract_category: most-recent and per-contract queries
  - idx_unique_generated_period: AT MOST ONE generated payment per
    contract+category+month. The store-level backstop for the generator's
    presence check; two overlapping runs cannot both insert.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.

SEE ALSO:
  - billing/store.go: Interface definitions the generator consumes
  - store/memory: In-memory implementation for unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Apartments (physical units)
	CREATE TABLE IF NOT EXISTS apartments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		size_m2 TEXT NOT NULL DEFAULT '0',
		floor INTEGER DEFAULT 0,
		bedrooms INTEGER DEFAULT 0,
		bathrooms INTEGER DEFAULT 0,
		living_rooms INTEGER DEFAULT 0,
		kitchens INTEGER DEFAULT 0,
		window_count INTEGER DEFAULT 0,
		closet_count INTEGER DEFAULT 0,
		has_shower BOOLEAN DEFAULT FALSE,
		interior_color TEXT,
		exterior_color TEXT,
		address TEXT,
		created_at TEXT NOT NULL
	);

	-- Tenants (keyed by national ID)
	CREATE TABLE IF NOT EXISTS tenants (
		national_id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT,
		second_last TEXT,
		nationality TEXT,
		birth_date TEXT,
		phone TEXT,
		email TEXT,
		profession TEXT,
		created_at TEXT NOT NULL
	);

	-- Contracts (leases)
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		apartment_id TEXT REFERENCES apartments(id) ON DELETE SET NULL,
		signed_at TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		monthly_rent TEXT NOT NULL DEFAULT '0',
		initial_deposit TEXT NOT NULL DEFAULT '0',
		utilities_included BOOLEAN DEFAULT FALSE,
		includes_cable BOOLEAN DEFAULT FALSE,
		includes_internet BOOLEAN DEFAULT FALSE,
		includes_parking BOOLEAN DEFAULT FALSE,
		occupant_count INTEGER DEFAULT 0,
		pet_count INTEGER DEFAULT 0,
		rent_due_day INTEGER DEFAULT 0,
		water_due_day INTEGER,
		electricity_due_day INTEGER,
		deposit_deadline TEXT,
		status INTEGER NOT NULL DEFAULT 1,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_apartment
		ON contracts(apartment_id);
	CREATE INDEX IF NOT EXISTS idx_contracts_status
		ON contracts(status);

	-- Tenant links (many-to-many with priority rank)
	CREATE TABLE IF NOT EXISTS contract_tenants (
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		tenant_ref TEXT NOT NULL REFERENCES tenants(national_id) ON DELETE CASCADE,
		priority INTEGER DEFAULT 0,
		created_at TEXT NOT NULL,
		PRIMARY KEY (contract_id, tenant_ref)
	);

	-- Payments (generated and manually recorded)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		tenant_ref TEXT NOT NULL,
		category TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		due_on TEXT NOT NULL,
		expected TEXT NOT NULL DEFAULT '0',
		paid TEXT NOT NULL DEFAULT '0',
		outstanding TEXT NOT NULL DEFAULT '0',
		complete BOOLEAN DEFAULT FALSE,
		status INTEGER NOT NULL DEFAULT 1,
		period_month INTEGER NOT NULL,
		period_year INTEGER NOT NULL,
		note TEXT,
		origin TEXT NOT NULL DEFAULT 'manual',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_contract_category
		ON payments(contract_id, category, paid_on DESC);
	CREATE INDEX IF NOT EXISTS idx_payments_tenant
		ON payments(tenant_ref);
	CREATE INDEX IF NOT EXISTS idx_payments_period
		ON payments(contract_id, category, period_year, period_month);

	-- CRITICAL: at most one GENERATED payment per contract+category+month.
	-- Manual records stay unconstrained; partial payments are legitimate.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_generated_period
		ON payments(contract_id, category, period_month, period_year)
		WHERE origin = 'auto';

	-- Photos (base64 evidence) and link tables
	CREATE TABLE IF NOT EXISTS photos (
		id TEXT PRIMARY KEY,
		base64_a TEXT,
		base64_b TEXT,
		context TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS apartment_photos (
		owner_id TEXT NOT NULL REFERENCES apartments(id) ON DELETE CASCADE,
		photo_id TEXT NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
		caption TEXT,
		PRIMARY KEY (owner_id, photo_id)
	);
	CREATE TABLE IF NOT EXISTS contract_photos (
		owner_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		photo_id TEXT NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
		caption TEXT,
		PRIMARY KEY (owner_id, photo_id)
	);
	CREATE TABLE IF NOT EXISTS tenant_photos (
		owner_id TEXT NOT NULL REFERENCES tenants(national_id) ON DELETE CASCADE,
		photo_id TEXT NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
		caption TEXT,
		PRIMARY KEY (owner_id, photo_id)
	);
	CREATE TABLE IF NOT EXISTS payment_photos (
		owner_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		photo_id TEXT NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
		caption TEXT,
		PRIMARY KEY (owner_id, photo_id)
	);

	-- Deposit refunds
	CREATE TABLE IF NOT EXISTS deposit_refunds (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		tenant_ref TEXT NOT NULL REFERENCES tenants(national_id) ON DELETE CASCADE,
		refunded_at TEXT NOT NULL,
		deductions TEXT,
		original_amount TEXT NOT NULL DEFAULT '0',
		refunded_amount TEXT NOT NULL DEFAULT '0',
		notes TEXT,
		photo_id TEXT REFERENCES photos(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refunds_contract
		ON deposit_refunds(contract_id);
	CREATE INDEX IF NOT EXISTS idx_refunds_tenant
		ON deposit_refunds(tenant_ref);

	-- Billing runs (generator audit trail)
	CREATE TABLE IF NOT EXISTS billing_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		contracts_seen INTEGER DEFAULT 0,
		contracts_skipped INTEGER DEFAULT 0,
		payments_created INTEGER DEFAULT 0,
		errors TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_billing_runs_started
		ON billing_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// APARTMENT STORE
// =============================================================================

// SaveApartment inserts or updates an apartment.
func (s *Store) SaveApartment(ctx context.Context, a rental.Apartment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO apartments (id, name, size_m2, floor, bedrooms, bathrooms,
			living_rooms, kitchens, window_count, closet_count, has_shower,
			interior_color, exterior_color, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			size_m2 = excluded.size_m2,
			floor = excluded.floor,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			living_rooms = excluded.living_rooms,
			kitchens = excluded.kitchens,
			window_count = excluded.window_count,
			closet_count = excluded.closet_count,
			has_shower = excluded.has_shower,
			interior_color = excluded.interior_color,
			exterior_color = excluded.exterior_color,
			address = excluded.address
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, a.SizeM2.String(), a.Floor, a.Bedrooms, a.Bathrooms,
		a.LivingRooms, a.Kitchens, a.WindowCount, a.ClosetCount, a.HasShower,
		a.InteriorColor, a.ExteriorColor, a.Address,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

const apartmentColumns = `id, name, size_m2, floor, bedrooms, bathrooms,
	living_rooms, kitchens, window_count, closet_count, has_shower,
	interior_color, exterior_color, address, created_at`

// GetApartment retrieves an apartment by ID. Returns nil when missing.
func (s *Store) GetApartment(ctx context.Context, id string) (*rental.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+apartmentColumns+" FROM apartments WHERE id = ?", id)
	a, err := scanApartment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListApartments returns all apartments ordered by name.
func (s *Store) ListApartments(ctx context.Context) ([]rental.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryApartments(ctx,
		"SELECT "+apartmentColumns+" FROM apartments ORDER BY name")
}

// SearchApartments matches the text against name and address.
func (s *Store) SearchApartments(ctx context.Context, text string) ([]rental.Apartment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + text + "%"
	return s.queryApartments(ctx,
		"SELECT "+apartmentColumns+" FROM apartments WHERE name LIKE ? OR address LIKE ? ORDER BY name",
		like, like)
}

// DeleteApartment removes an apartment.
func (s *Store) DeleteApartment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM apartments WHERE id = ?", id)
	return err
}

func (s *Store) queryApartments(ctx context.Context, query string, args ...any) ([]rental.Apartment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apartments []rental.Apartment
	for rows.Next() {
		a, err := scanApartment(rows)
		if err != nil {
			return nil, err
		}
		apartments = append(apartments, *a)
	}
	return apartments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApartment(row rowScanner) (*rental.Apartment, error) {
	var (
		a                                     rental.Apartment
		sizeM2, createdAt                     string
		interiorColor, exteriorColor, address sql.NullString
	)

	err := row.Scan(&a.ID, &a.Name, &sizeM2, &a.Floor, &a.Bedrooms, &a.Bathrooms,
		&a.LivingRooms, &a.Kitchens, &a.WindowCount, &a.ClosetCount, &a.HasShower,
		&interiorColor, &exteriorColor, &address, &createdAt)
	if err != nil {
		return nil, err
	}

	a.SizeM2 = rental.MustDecimal(sizeM2)
	a.InteriorColor = interiorColor.String
	a.ExteriorColor = exteriorColor.String
	a.Address = address.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// =============================================================================
// TENANT STORE
// =============================================================================

// SaveTenant inserts or updates a tenant.
func (s *Store) SaveTenant(ctx context.Context, t rental.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO tenants (national_id, first_name, last_name, second_last,
			nationality, birth_date, phone, email, profession, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(national_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			second_last = excluded.second_last,
			nationality = excluded.nationality,
			birth_date = excluded.birth_date,
			phone = excluded.phone,
			email = excluded.email,
			profession = excluded.profession
	`

	_, err := s.db.ExecContext(ctx, query,
		t.NationalID, t.FirstName, t.LastName, t.SecondLast,
		t.Nationality, timePtrString(t.BirthDate), t.Phone, t.Email, t.Profession,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

const tenantColumns = `national_id, first_name, last_name, second_last,
	nationality, birth_date, phone, email, profession, created_at`

// GetTenant retrieves a tenant by national ID. Returns nil when missing.
func (s *Store) GetTenant(ctx context.Context, nationalID string) (*rental.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE national_id = ?", nationalID)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTenants returns all tenants ordered by name.
func (s *Store) ListTenants(ctx context.Context) ([]rental.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTenants(ctx,
		"SELECT "+tenantColumns+" FROM tenants ORDER BY first_name, last_name")
}

// SearchTenants matches the text against names and national ID.
func (s *Store) SearchTenants(ctx context.Context, text string) ([]rental.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + text + "%"
	return s.queryTenants(ctx,
		`SELECT `+tenantColumns+` FROM tenants
		 WHERE national_id LIKE ? OR first_name LIKE ? OR last_name LIKE ?
		 ORDER BY first_name`,
		like, like, like)
}

// DeleteTenant removes a tenant.
func (s *Store) DeleteTenant(ctx context.Context, nationalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM tenants WHERE national_id = ?", nationalID)
	return err
}

func (s *Store) queryTenants(ctx context.Context, query string, args ...any) ([]rental.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []rental.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func scanTenant(row rowScanner) (*rental.Tenant, error) {
	var (
		t                                            rental.Tenant
		lastName, secondLast, nationality, birthDate sql.NullString
		phone, email, profession                     sql.NullString
		createdAt                                    string
	)

	err := row.Scan(&t.NationalID, &t.FirstName, &lastName, &secondLast,
		&nationality, &birthDate, &phone, &email, &profession, &createdAt)
	if err != nil {
		return nil, err
	}

	t.LastName = lastName.String
	t.SecondLast = secondLast.String
	t.Nationality = nationality.String
	t.Phone = phone.String
	t.Email = email.String
	t.Profession = profession.String
	t.BirthDate = parseTimePtr(birthDate)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

// =============================================================================
// CONTRACT STORE
// =============================================================================

// SaveContract inserts or updates a contract.
func (s *Store) SaveContract(ctx context.Context, c rental.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO contracts (id, apartment_id, signed_at, start_date, end_date,
			monthly_rent, initial_deposit, utilities_included, includes_cable,
			includes_internet, includes_parking, occupant_count, pet_count,
			rent_due_day, water_due_day, electricity_due_day, deposit_deadline,
			status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			apartment_id = excluded.apartment_id,
			signed_at = excluded.signed_at,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			monthly_rent = excluded.monthly_rent,
			initial_deposit = excluded.initial_deposit,
			utilities_included = excluded.utilities_included,
			includes_cable = excluded.includes_cable,
			includes_internet = excluded.includes_internet,
			includes_parking = excluded.includes_parking,
			occupant_count = excluded.occupant_count,
			pet_count = excluded.pet_count,
			rent_due_day = excluded.rent_due_day,
			water_due_day = excluded.water_due_day,
			electricity_due_day = excluded.electricity_due_day,
			deposit_deadline = excluded.deposit_deadline,
			status = excluded.status,
			notes = excluded.notes
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, nullString(c.ApartmentID),
		c.SignedAt.Format(time.RFC3339),
		c.StartDate.Format(time.RFC3339),
		c.EndDate.Format(time.RFC3339),
		c.MonthlyRent.String(), c.InitialDeposit.String(),
		c.UtilitiesIncluded, c.IncludesCable, c.IncludesInternet, c.IncludesParking,
		c.OccupantCount, c.PetCount,
		c.RentDueDay, intPtr(c.WaterDueDay), intPtr(c.ElectricityDueDay),
		timePtrString(c.DepositDeadline),
		c.Status, c.Notes,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

const contractColumns = `id, apartment_id, signed_at, start_date, end_date,
	monthly_rent, initial_deposit, utilities_included, includes_cable,
	includes_internet, includes_parking, occupant_count, pet_count,
	rent_due_day, water_due_day, electricity_due_day, deposit_deadline,
	status, notes, created_at`

// GetContract retrieves a contract by ID. Returns nil when missing.
func (s *Store) GetContract(ctx context.Context, id string) (*rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE id = ?", id)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListContracts returns all contracts, newest first.
func (s *Store) ListContracts(ctx context.Context) ([]rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryContracts(ctx,
		"SELECT "+contractColumns+" FROM contracts ORDER BY created_at DESC")
}

// ListActiveContracts returns all contracts with active status.
// Part of billing.ContractSource.
func (s *Store) ListActiveContracts(ctx context.Context) ([]rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryContracts(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE status = ? ORDER BY created_at",
		rental.ContractActive)
}

// ContractsByApartment returns all contracts for an apartment, newest first.
func (s *Store) ContractsByApartment(ctx context.Context, apartmentID string) ([]rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryContracts(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE apartment_id = ? ORDER BY created_at DESC",
		apartmentID)
}

// ActiveContractByApartment returns the active contract for an apartment,
// or nil when the unit is vacant.
func (s *Store) ActiveContractByApartment(ctx context.Context, apartmentID string) (*rental.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+contractColumns+" FROM contracts WHERE apartment_id = ? AND status = ? LIMIT 1",
		apartmentID, rental.ContractActive)
	c, err := scanContract(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateContractStatus changes only the status code.
func (s *Store) UpdateContractStatus(ctx context.Context, id string, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE contracts SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rental.ErrContractNotFound
	}
	return nil
}

// DeleteContract removes a contract and, via cascade, its links and payments.
func (s *Store) DeleteContract(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM contracts WHERE id = ?", id)
	return err
}

func (s *Store) queryContracts(ctx context.Context, query string, args ...any) ([]rental.Contract, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []rental.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

func scanContract(row rowScanner) (*rental.Contract, error) {
	var (
		c                              rental.Contract
		apartmentID, notes             sql.NullString
		signedAt, startDate, endDate   string
		monthlyRent, initialDeposit    string
		waterDueDay, electricityDueDay sql.NullInt64
		depositDeadline                sql.NullString
		createdAt                      string
	)

	err := row.Scan(&c.ID, &apartmentID, &signedAt, &startDate, &endDate,
		&monthlyRent, &initialDeposit, &c.UtilitiesIncluded, &c.IncludesCable,
		&c.IncludesInternet, &c.IncludesParking, &c.OccupantCount, &c.PetCount,
		&c.RentDueDay, &waterDueDay, &electricityDueDay, &depositDeadline,
		&c.Status, &notes, &createdAt)
	if err != nil {
		return nil, err
	}

	c.ApartmentID = apartmentID.String
	c.Notes = notes.String
	c.SignedAt, _ = time.Parse(time.RFC3339, signedAt)
	c.StartDate, _ = time.Parse(time.RFC3339, startDate)
	c.EndDate, _ = time.Parse(time.RFC3339, endDate)
	c.MonthlyRent = rental.MustDecimal(monthlyRent)
	c.InitialDeposit = rental.MustDecimal(initialDeposit)
	if waterDueDay.Valid {
		d := int(waterDueDay.Int64)
		c.WaterDueDay = &d
	}
	if electricityDueDay.Valid {
		d := int(electricityDueDay.Int64)
		c.ElectricityDueDay = &d
	}
	c.DepositDeadline = parseTimePtr(depositDeadline)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// =============================================================================
// CONTRACT-TENANT LINKS
// =============================================================================

// SaveContractTenant links a tenant to a contract (or updates the priority).
func (s *Store) SaveContractTenant(ctx context.Context, link rental.ContractTenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO contract_tenants (contract_id, tenant_ref, priority, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contract_id, tenant_ref) DO UPDATE SET
			priority = excluded.priority
	`

	_, err := s.db.ExecContext(ctx, query,
		link.ContractID, link.TenantRef, link.Priority,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// TenantsForContract returns the links for a contract, priority order.
func (s *Store) TenantsForContract(ctx context.Context, contractID string) ([]rental.ContractTenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLinks(ctx, `
		SELECT contract_id, tenant_ref, priority, created_at
		FROM contract_tenants
		WHERE contract_id = ?
		ORDER BY priority ASC, created_at ASC`,
		contractID)
}

// ContractsForTenant returns the links for a tenant.
func (s *Store) ContractsForTenant(ctx context.Context, tenantRef string) ([]rental.ContractTenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLinks(ctx, `
		SELECT contract_id, tenant_ref, priority, created_at
		FROM contract_tenants
		WHERE tenant_ref = ?
		ORDER BY created_at DESC`,
		tenantRef)
}

// DeleteContractTenant removes a link.
func (s *Store) DeleteContractTenant(ctx context.Context, contractID, tenantRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM contract_tenants WHERE contract_id = ? AND tenant_ref = ?",
		contractID, tenantRef)
	return err
}

// FirstTenantRef returns the payee reference for a contract: first link by
// priority, then insertion. Empty when the contract has no tenants.
// Part of billing.TenantDirectory.
func (s *Store) FirstTenantRef(ctx context.Context, contractID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ref string
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_ref FROM contract_tenants
		WHERE contract_id = ?
		ORDER BY priority ASC, created_at ASC
		LIMIT 1`,
		contractID,
	).Scan(&ref)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *Store) queryLinks(ctx context.Context, query string, args ...any) ([]rental.ContractTenant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []rental.ContractTenant
	for rows.Next() {
		var l rental.ContractTenant
		var createdAt string
		if err := rows.Scan(&l.ContractID, &l.TenantRef, &l.Priority, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// =============================================================================
// PAYMENT STORE (billing.PaymentLedger + CRUD)
// =============================================================================

const paymentColumns = `id, contract_id, tenant_ref, category, paid_on, due_on,
	expected, paid, outstanding, complete, status, period_month, period_year,
	note, origin, created_at`

// InsertPayment persists a new payment record. Generated rows hit the
// per-period unique index; a violation comes back as ErrDuplicatePayment.
func (s *Store) InsertPayment(ctx context.Context, p rental.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.ContractID, p.TenantRef, string(p.Category),
		p.PaidOn.Format(time.RFC3339), p.DueOn.Format(time.RFC3339),
		p.Expected.String(), p.Paid.String(), p.Outstanding.String(),
		p.Complete, p.Status, p.Month, p.Year, p.Note, string(p.Origin),
		time.Now().UTC().Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return &rental.DuplicatePaymentError{
				ContractID: p.ContractID, Category: p.Category,
				Month: p.Month, Year: p.Year,
			}
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment overwrites the mutable fields of a payment record (manual
// payment recording: paid amount, outstanding, completion, status, note).
func (s *Store) UpdatePayment(ctx context.Context, p rental.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE payments SET
			tenant_ref = ?, category = ?, paid_on = ?, due_on = ?,
			expected = ?, paid = ?, outstanding = ?, complete = ?,
			status = ?, period_month = ?, period_year = ?, note = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		p.TenantRef, string(p.Category),
		p.PaidOn.Format(time.RFC3339), p.DueOn.Format(time.RFC3339),
		p.Expected.String(), p.Paid.String(), p.Outstanding.String(),
		p.Complete, p.Status, p.Month, p.Year, p.Note,
		p.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rental.ErrPaymentNotFound
	}
	return nil
}

// GetPayment retrieves a payment by ID. Returns nil when missing.
func (s *Store) GetPayment(ctx context.Context, id string) (*rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPayments returns all payments, newest first.
func (s *Store) ListPayments(ctx context.Context) ([]rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments ORDER BY paid_on DESC, created_at DESC")
}

// PaymentsByContract returns a contract's payments, newest first.
func (s *Store) PaymentsByContract(ctx context.Context, contractID string) ([]rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE contract_id = ? ORDER BY paid_on DESC, created_at DESC",
		contractID)
}

// PaymentsByTenant returns a tenant's payments, newest first.
func (s *Store) PaymentsByTenant(ctx context.Context, tenantRef string) ([]rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE tenant_ref = ? ORDER BY paid_on DESC, created_at DESC",
		tenantRef)
}

// PaymentsByCategory returns all payments of one category.
func (s *Store) PaymentsByCategory(ctx context.Context, category rental.PaymentCategory) ([]rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE category = ? ORDER BY paid_on DESC, created_at DESC",
		string(category))
}

// DeletePayment removes a payment record.
func (s *Store) DeletePayment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	return err
}

// FindPaymentForPeriod returns the payment of a category for a contract in
// a calendar month, or nil. Part of billing.PaymentLedger (the generator's
// idempotence check).
func (s *Store) FindPaymentForPeriod(ctx context.Context, contractID string, category rental.PaymentCategory, month, year int) (*rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = ? AND category = ? AND period_month = ? AND period_year = ?
		LIMIT 1`,
		contractID, string(category), month, year)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MostRecentPayment returns the latest payment of a category for a contract,
// ordered by paid-on date descending, or nil. Part of billing.PaymentLedger.
func (s *Store) MostRecentPayment(ctx context.Context, contractID string, category rental.PaymentCategory) (*rental.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = ? AND category = ?
		ORDER BY paid_on DESC, created_at DESC
		LIMIT 1`,
		contractID, string(category))
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SumPaidForCategory sums paid amounts across all payments of a category for
// a contract. Part of billing.PaymentLedger.
//
// Decimal columns are TEXT, so the sum happens in Go rather than trusting
// SQLite float arithmetic with money.
func (s *Store) SumPaidForCategory(ctx context.Context, contractID string, category rental.PaymentCategory) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT paid FROM payments WHERE contract_id = ? AND category = ?",
		contractID, string(category))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var paid string
		if err := rows.Scan(&paid); err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(rental.MustDecimal(paid))
	}
	return sum, rows.Err()
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]rental.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []rental.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (*rental.Payment, error) {
	var (
		p                           rental.Payment
		category, origin            string
		paidOn, dueOn, createdAt    string
		expected, paid, outstanding string
		note                        sql.NullString
	)

	err := row.Scan(&p.ID, &p.ContractID, &p.TenantRef, &category,
		&paidOn, &dueOn, &expected, &paid, &outstanding,
		&p.Complete, &p.Status, &p.Month, &p.Year, &note, &origin, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Category = rental.PaymentCategory(category)
	p.Origin = rental.PaymentOrigin(origin)
	p.PaidOn, _ = time.Parse(time.RFC3339, paidOn)
	p.DueOn, _ = time.Parse(time.RFC3339, dueOn)
	p.Expected = rental.MustDecimal(expected)
	p.Paid = rental.MustDecimal(paid)
	p.Outstanding = rental.MustDecimal(outstanding)
	p.Note = note.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// =============================================================================
// PHOTO STORE
// =============================================================================

// PhotoOwner selects which entity a photo is attached to.
type PhotoOwner string

const (
	PhotoOwnerApartment PhotoOwner = "apartment"
	PhotoOwnerContract  PhotoOwner = "contract"
	PhotoOwnerTenant    PhotoOwner = "tenant"
	PhotoOwnerPayment   PhotoOwner = "payment"
)

// linkTable maps an owner kind to its link table. The table name always
// comes from this fixed set, never from user input.
func linkTable(owner PhotoOwner) (string, error) {
	switch owner {
	case PhotoOwnerApartment:
		return "apartment_photos", nil
	case PhotoOwnerContract:
		return "contract_photos", nil
	case PhotoOwnerTenant:
		return "tenant_photos", nil
	case PhotoOwnerPayment:
		return "payment_photos", nil
	}
	return "", fmt.Errorf("unknown photo owner kind: %q", owner)
}

// SavePhoto inserts a photo record.
func (s *Store) SavePhoto(ctx context.Context, p rental.Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (id, base64_a, base64_b, context, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Base64A, p.Base64B, p.Context,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetPhoto retrieves a photo by ID. Returns nil when missing.
func (s *Store) GetPhoto(ctx context.Context, id string) (*rental.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, base64_a, base64_b, context, created_at FROM photos WHERE id = ?", id)
	p, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SearchPhotosByContext matches the text against the context field.
func (s *Store) SearchPhotosByContext(ctx context.Context, text string) ([]rental.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPhotos(ctx,
		"SELECT id, base64_a, base64_b, context, created_at FROM photos WHERE context LIKE ? ORDER BY created_at DESC",
		"%"+text+"%")
}

// DeletePhoto removes a photo and, via cascade, its links.
func (s *Store) DeletePhoto(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM photos WHERE id = ?", id)
	return err
}

// AttachPhoto links an existing photo to an owning entity.
func (s *Store) AttachPhoto(ctx context.Context, owner PhotoOwner, ownerID, photoID, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := linkTable(owner)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ` + table + ` (owner_id, photo_id, caption)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id, photo_id) DO UPDATE SET
			caption = excluded.caption
	`
	_, err = s.db.ExecContext(ctx, query, ownerID, photoID, caption)
	return err
}

// PhotosFor returns the photos attached to an owning entity.
func (s *Store) PhotosFor(ctx context.Context, owner PhotoOwner, ownerID string) ([]rental.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, err := linkTable(owner)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT p.id, p.base64_a, p.base64_b, p.context, p.created_at
		FROM photos p
		JOIN ` + table + ` l ON l.photo_id = p.id
		WHERE l.owner_id = ?
		ORDER BY p.created_at ASC
	`
	return s.queryPhotos(ctx, query, ownerID)
}

// DetachPhoto removes a photo link without deleting the photo itself.
func (s *Store) DetachPhoto(ctx context.Context, owner PhotoOwner, ownerID, photoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := linkTable(owner)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE owner_id = ? AND photo_id = ?",
		ownerID, photoID)
	return err
}

func (s *Store) queryPhotos(ctx context.Context, query string, args ...any) ([]rental.Photo, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []rental.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, *p)
	}
	return photos, rows.Err()
}

func scanPhoto(row rowScanner) (*rental.Photo, error) {
	var (
		p                      rental.Photo
		base64A, base64B, pctx sql.NullString
		createdAt              string
	)

	err := row.Scan(&p.ID, &base64A, &base64B, &pctx, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Base64A = base64A.String
	p.Base64B = base64B.String
	p.Context = pctx.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// =============================================================================
// DEPOSIT REFUND STORE
// =============================================================================

const refundColumns = `id, contract_id, tenant_ref, refunded_at, deductions,
	original_amount, refunded_amount, notes, photo_id, created_at`

// SaveRefund inserts or updates a deposit refund.
func (s *Store) SaveRefund(ctx context.Context, r rental.DepositRefund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO deposit_refunds (` + refundColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			refunded_at = excluded.refunded_at,
			deductions = excluded.deductions,
			original_amount = excluded.original_amount,
			refunded_amount = excluded.refunded_amount,
			notes = excluded.notes,
			photo_id = excluded.photo_id
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ContractID, r.TenantRef,
		r.RefundedAt.Format(time.RFC3339),
		r.Deductions, r.OriginalAmount.String(), r.RefundedAmount.String(),
		r.Notes, nullString(r.PhotoID),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetRefund retrieves a refund by ID. Returns nil when missing.
func (s *Store) GetRefund(ctx context.Context, id string) (*rental.DepositRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+refundColumns+" FROM deposit_refunds WHERE id = ?", id)
	r, err := scanRefund(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRefunds returns all refunds, newest first.
func (s *Store) ListRefunds(ctx context.Context) ([]rental.DepositRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRefunds(ctx,
		"SELECT "+refundColumns+" FROM deposit_refunds ORDER BY refunded_at DESC")
}

// RefundsByContract returns refunds for a contract, newest first.
func (s *Store) RefundsByContract(ctx context.Context, contractID string) ([]rental.DepositRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRefunds(ctx,
		"SELECT "+refundColumns+" FROM deposit_refunds WHERE contract_id = ? ORDER BY refunded_at DESC",
		contractID)
}

// RefundsByTenant returns refunds for a tenant, newest first.
func (s *Store) RefundsByTenant(ctx context.Context, tenantRef string) ([]rental.DepositRefund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRefunds(ctx,
		"SELECT "+refundColumns+" FROM deposit_refunds WHERE tenant_ref = ? ORDER BY refunded_at DESC",
		tenantRef)
}

// DeleteRefund removes a refund record.
func (s *Store) DeleteRefund(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM deposit_refunds WHERE id = ?", id)
	return err
}

func (s *Store) queryRefunds(ctx context.Context, query string, args ...any) ([]rental.DepositRefund, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []rental.DepositRefund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *r)
	}
	return refunds, rows.Err()
}

func scanRefund(row rowScanner) (*rental.DepositRefund, error) {
	var (
		r                              rental.DepositRefund
		refundedAt, createdAt          string
		originalAmount, refundedAmount string
		deductions, notes, photoID     sql.NullString
	)

	err := row.Scan(&r.ID, &r.ContractID, &r.TenantRef, &refundedAt,
		&deductions, &originalAmount, &refundedAmount, &notes, &photoID, &createdAt)
	if err != nil {
		return nil, err
	}

	r.RefundedAt, _ = time.Parse(time.RFC3339, refundedAt)
	r.Deductions = deductions.String
	r.OriginalAmount = rental.MustDecimal(originalAmount)
	r.RefundedAmount = rental.MustDecimal(refundedAmount)
	r.Notes = notes.String
	r.PhotoID = photoID.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &r, nil
}

// =============================================================================
// BILLING RUNS STORE
// =============================================================================

// SaveBillingRun inserts or updates a generator run record.
func (s *Store) SaveBillingRun(ctx context.Context, r rental.BillingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO billing_runs (id, started_at, completed_at, status,
			contracts_seen, contracts_skipped, payments_created, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			status = excluded.status,
			contracts_seen = excluded.contracts_seen,
			contracts_skipped = excluded.contracts_skipped,
			payments_created = excluded.payments_created,
			errors = excluded.errors
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.StartedAt.Format(time.RFC3339), timePtrString(r.CompletedAt),
		r.Status, r.ContractsSeen, r.ContractsSkipped, r.PaymentsCreated,
		r.Errors, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListBillingRuns returns run history, newest first, optionally filtered
// by status.
func (s *Store) ListBillingRuns(ctx context.Context, status string) ([]rental.BillingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, started_at, completed_at, status, contracts_seen,
		       contracts_skipped, payments_created, errors, created_at
		FROM billing_runs
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []rental.BillingRun
	for rows.Next() {
		var (
			r                    rental.BillingRun
			startedAt, createdAt string
			completedAt, errsCol sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &completedAt, &r.Status,
			&r.ContractsSeen, &r.ContractsSkipped, &r.PaymentsCreated,
			&errsCol, &createdAt); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		r.Errors = errsCol.String
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"payment_photos", "tenant_photos", "contract_photos", "apartment_photos",
		"deposit_refunds", "payments", "contract_tenants", "contracts",
		"tenants", "apartments", "photos", "billing_runs",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func intPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func timePtrString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
