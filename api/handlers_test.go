/*
handlers_test.go - HTTP flow tests for the API

Runs requests through the real router against an in-memory SQLite store,
covering the referential checks on manual payments, contract lifecycle,
photo links, and the billing trigger endpoint.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/sqlite"
)

// newTestRouter wires a fresh in-memory store behind the real router. The
// scheduler is created but never started; RunNow still works for the
// billing endpoint.
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	scheduler := NewBillingScheduler(store)
	scheduler.Enabled = false
	return NewRouter(NewHandler(store, scheduler))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

// =============================================================================
// APARTMENTS
// =============================================================================

func TestApartmentCRUD(t *testing.T) {
	router := newTestRouter(t)

	// Create
	rec := doJSON(t, router, http.MethodPost, "/api/apartments", map[string]any{
		"name":     "Unit 3B",
		"size_m2":  "62.5",
		"bedrooms": 2,
		"address":  "12 Elm Street",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created ApartmentDTO
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "62.5", created.SizeM2)

	// Get
	rec = doJSON(t, router, http.MethodGet, "/api/apartments/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Update
	rec = doJSON(t, router, http.MethodPut, "/api/apartments/"+created.ID, map[string]any{
		"name":     "Unit 3B renovated",
		"bedrooms": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated ApartmentDTO
	decodeBody(t, rec, &updated)
	assert.Equal(t, "Unit 3B renovated", updated.Name)
	assert.Equal(t, 3, updated.Bedrooms)

	// Search
	rec = doJSON(t, router, http.MethodGet, "/api/apartments/search?q=Elm", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Delete, then 404
	rec = doJSON(t, router, http.MethodDelete, "/api/apartments/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/api/apartments/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApartmentValidation(t *testing.T) {
	router := newTestRouter(t)

	// Missing required name
	rec := doJSON(t, router, http.MethodPost, "/api/apartments", map[string]any{
		"address": "nameless",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONTRACT LIFECYCLE
// =============================================================================

func createContract(t *testing.T, router http.Handler, body map[string]any) ContractDTO {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/contracts", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto ContractDTO
	decodeBody(t, rec, &dto)
	return dto
}

func TestContractLifecycle(t *testing.T) {
	router := newTestRouter(t)

	// Contract referencing a missing apartment is rejected
	rec := doJSON(t, router, http.MethodPost, "/api/contracts", map[string]any{
		"apartment_id": "ghost",
		"signed_at":    "2025-01-15",
		"monthly_rent": "850",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Create apartment, then contract
	rec = doJSON(t, router, http.MethodPost, "/api/apartments", map[string]any{"name": "Unit 1A"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var apt ApartmentDTO
	decodeBody(t, rec, &apt)

	contract := createContract(t, router, map[string]any{
		"apartment_id":     apt.ID,
		"signed_at":        "2025-01-15",
		"monthly_rent":     "850",
		"initial_deposit":  "1700",
		"rent_due_day":     5,
		"deposit_deadline": "2025-06-30",
	})
	assert.Equal(t, rental.ContractActive, contract.Status)
	assert.Equal(t, "850", contract.MonthlyRent)
	assert.Equal(t, "2025-06-30", contract.DepositDeadline)

	// The apartment now has an active contract
	rec = doJSON(t, router, http.MethodGet, "/api/apartments/"+apt.ID+"/contracts/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Linking an unknown tenant fails
	rec = doJSON(t, router, http.MethodPost, "/api/contracts/"+contract.ID+"/tenants", map[string]any{
		"tenant_ref": "0-0000-0000",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Register the tenant, then link
	rec = doJSON(t, router, http.MethodPost, "/api/tenants", map[string]any{
		"national_id": "0-0000-0000",
		"first_name":  "Ana",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/contracts/"+contract.ID+"/tenants", map[string]any{
		"tenant_ref": "0-0000-0000",
		"priority":   1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Terminate
	rec = doJSON(t, router, http.MethodPost, "/api/contracts/"+contract.ID+"/status", map[string]any{
		"status": rental.ContractInactive,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The apartment is vacant again
	rec = doJSON(t, router, http.MethodGet, "/api/apartments/"+apt.ID+"/contracts/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// MANUAL PAYMENTS
// =============================================================================

func TestManualPaymentReferentialChecks(t *testing.T) {
	router := newTestRouter(t)

	// Unknown contract
	rec := doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"contract_id": "ghost",
		"tenant_ref":  "0-0000-0000",
		"category":    "rent",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	contract := createContract(t, router, map[string]any{
		"signed_at":    "2025-01-15",
		"monthly_rent": "850",
		"rent_due_day": 5,
	})

	// Unknown tenant
	rec = doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"contract_id": contract.ID,
		"tenant_ref":  "0-0000-0000",
		"category":    "rent",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The sentinel reference is accepted without a tenant lookup
	rec = doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"contract_id": contract.ID,
		"tenant_ref":  rental.NoTenantRef,
		"category":    "rent",
		"expected":    "850",
		"paid":        "850",
		"complete":    true,
		"status":      rental.PaymentSettled,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p PaymentDTO
	decodeBody(t, rec, &p)
	assert.Equal(t, "manual", p.Origin)
	assert.Equal(t, rental.NoTenantRef, p.TenantRef)

	// Unknown category
	rec = doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"contract_id": contract.ID,
		"tenant_ref":  rental.NoTenantRef,
		"category":    "gas",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentSettlement(t *testing.T) {
	router := newTestRouter(t)
	contract := createContract(t, router, map[string]any{
		"signed_at":    "2025-01-15",
		"monthly_rent": "850",
		"rent_due_day": 5,
	})

	rec := doJSON(t, router, http.MethodPost, "/api/payments", map[string]any{
		"contract_id": contract.ID,
		"tenant_ref":  rental.NoTenantRef,
		"category":    "rent",
		"expected":    "850",
		"outstanding": "850",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var p PaymentDTO
	decodeBody(t, rec, &p)

	// Settle it
	complete := true
	status := rental.PaymentSettled
	rec = doJSON(t, router, http.MethodPut, "/api/payments/"+p.ID, map[string]any{
		"paid":        "850",
		"outstanding": "0",
		"complete":    complete,
		"status":      status,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var settled PaymentDTO
	decodeBody(t, rec, &settled)
	assert.Equal(t, "850", settled.Paid)
	assert.Equal(t, "0", settled.Outstanding)
	assert.True(t, settled.Complete)
	assert.Equal(t, rental.PaymentSettled, settled.Status)
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestRefundDefaultsOriginalToDeposit(t *testing.T) {
	router := newTestRouter(t)
	contract := createContract(t, router, map[string]any{
		"signed_at":       "2025-01-15",
		"monthly_rent":    "850",
		"initial_deposit": "1700",
		"rent_due_day":    5,
	})
	rec := doJSON(t, router, http.MethodPost, "/api/tenants", map[string]any{
		"national_id": "0-0000-0000",
		"first_name":  "Ana",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/refunds", map[string]any{
		"contract_id":     contract.ID,
		"tenant_ref":      "0-0000-0000",
		"refunded_amount": "1500",
		"deductions":      "cleaning",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var refund RefundDTO
	decodeBody(t, rec, &refund)
	assert.Equal(t, "1700", refund.OriginalAmount)
	assert.Equal(t, "1500", refund.RefundedAmount)
}

// =============================================================================
// PHOTOS
// =============================================================================

func TestPhotoAttachFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/apartments", map[string]any{"name": "Unit 2C"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var apt ApartmentDTO
	decodeBody(t, rec, &apt)

	rec = doJSON(t, router, http.MethodPost, "/api/photos", map[string]any{
		"base64_a": "aGVsbG8=",
		"context":  "entry hallway before move-in",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var photo PhotoDTO
	decodeBody(t, rec, &photo)

	// Attach to the apartment
	rec = doJSON(t, router, http.MethodPost, "/api/photos/"+photo.ID+"/links", map[string]any{
		"owner_kind": "apartment",
		"owner_id":   apt.ID,
		"caption":    "hallway",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Listed under the apartment
	rec = doJSON(t, router, http.MethodGet, "/api/photos/of/apartment/"+apt.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var photos []PhotoDTO
	decodeBody(t, rec, &photos)
	require.Len(t, photos, 1)
	assert.Equal(t, photo.ID, photos[0].ID)

	// Context search finds it
	rec = doJSON(t, router, http.MethodGet, "/api/photos/search?q=hallway", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &photos)
	require.Len(t, photos, 1)

	// Detach leaves the photo itself in place
	rec = doJSON(t, router, http.MethodDelete,
		fmt.Sprintf("/api/photos/%s/links/apartment/%s", photo.ID, apt.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/api/photos/"+photo.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// BILLING ENDPOINT
// =============================================================================

func TestBillingRunEndpoint(t *testing.T) {
	router := newTestRouter(t)

	// A contract due on the 1st fires on any day of the month
	createContract(t, router, map[string]any{
		"signed_at":    "2025-01-15",
		"monthly_rent": "850",
		"rent_due_day": 1,
	})

	rec := doJSON(t, router, http.MethodPost, "/api/billing/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report BillingReportDTO
	decodeBody(t, rec, &report)
	assert.Equal(t, "completed", report.Status)
	assert.Equal(t, 1, report.ContractsSeen)
	assert.Equal(t, 1, report.PaymentsCreated)
	assert.Empty(t, report.Errors)

	// A second trigger the same day creates nothing new
	rec = doJSON(t, router, http.MethodPost, "/api/billing/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &report)
	assert.Equal(t, 0, report.PaymentsCreated)

	// Both passes are on the audit trail
	rec = doJSON(t, router, http.MethodGet, "/api/billing/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []BillingRunDTO
	decodeBody(t, rec, &runs)
	assert.Len(t, runs, 2)
}
