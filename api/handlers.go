/*
handlers.go - HTTP API handlers for the rental management engine

PURPOSE:
  Exposes the rental engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Apartments:
    GET    /api/apartments               List all apartments
    POST   /api/apartments               Create apartment
    GET    /api/apartments/search        Search by name/address (?q=)
    GET    /api/apartments/{id}          Get apartment
    PUT    /api/apartments/{id}          Update apartment
    DELETE /api/apartments/{id}          Delete apartment
    GET    /api/apartments/{id}/contracts        Contract history
    GET    /api/apartments/{id}/contracts/active Active contract (vacancy check)

  Tenants:
    GET    /api/tenants                  List all tenants
    POST   /api/tenants                  Create tenant
    GET    /api/tenants/search           Search by name/ID (?q=)
    GET    /api/tenants/{ref}            Get tenant
    PUT    /api/tenants/{ref}            Update tenant
    DELETE /api/tenants/{ref}            Delete tenant
    GET    /api/tenants/{ref}/contracts  Contracts the tenant is linked to
    GET    /api/tenants/{ref}/payments   Payment history

  Contracts:
    GET    /api/contracts                List all contracts
    POST   /api/contracts                Create contract
    GET    /api/contracts/{id}           Get contract
    PUT    /api/contracts/{id}           Update contract
    DELETE /api/contracts/{id}           Delete contract
    POST   /api/contracts/{id}/status    Change status (activate/terminate)
    GET    /api/contracts/{id}/tenants   List tenant links
    POST   /api/contracts/{id}/tenants   Link a tenant
    DELETE /api/contracts/{id}/tenants/{ref}  Unlink a tenant
    GET    /api/contracts/{id}/payments  Payment history

  Payments:
    GET    /api/payments                 List (optional ?category=)
    POST   /api/payments                 Record manual payment
    GET    /api/payments/{id}            Get payment
    PUT    /api/payments/{id}            Update payment (settle)
    DELETE /api/payments/{id}            Delete payment

  Refunds:
    GET    /api/refunds                  List (optional ?contract= ?tenant=)
    POST   /api/refunds                  Record deposit refund
    GET    /api/refunds/{id}             Get refund
    PUT    /api/refunds/{id}             Update refund
    DELETE /api/refunds/{id}             Delete refund

  Photos:
    POST   /api/photos                   Store photo
    GET    /api/photos/search            Search by context (?q=)
    GET    /api/photos/{id}              Get photo
    DELETE /api/photos/{id}              Delete photo
    POST   /api/photos/{id}/links        Attach to an entity
    DELETE /api/photos/{id}/links/{kind}/{ownerID}  Detach
    GET    /api/photos/of/{kind}/{ownerID}          Photos of an entity

  Billing:
    POST   /api/billing/run              Trigger a generation pass now
    GET    /api/billing/runs             Run audit history (?status=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate generated payment)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Daily billing trigger
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Billing *BillingScheduler
}

// NewHandler creates a new handler with the given store and scheduler.
func NewHandler(store *sqlite.Store, billing *BillingScheduler) *Handler {
	return &Handler{Store: store, Billing: billing}
}

// =============================================================================
// APARTMENT HANDLERS
// =============================================================================

// ListApartments returns all apartments.
func (h *Handler) ListApartments(w http.ResponseWriter, r *http.Request) {
	apartments, err := h.Store.ListApartments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list apartments", err)
		return
	}

	dtos := make([]ApartmentDTO, len(apartments))
	for i, a := range apartments {
		dtos[i] = toApartmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateApartment creates a new apartment.
func (h *Handler) CreateApartment(w http.ResponseWriter, r *http.Request) {
	var req ApartmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	size, err := parseAmount(req.SizeM2)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid size_m2", err)
		return
	}

	a := apartmentFromRequest(uuid.NewString(), req, size)
	if err := h.Store.SaveApartment(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create apartment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toApartmentDTO(a))
}

// GetApartment returns a single apartment.
func (h *Handler) GetApartment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.Store.GetApartment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get apartment", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Apartment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toApartmentDTO(*a))
}

// UpdateApartment overwrites an existing apartment.
func (h *Handler) UpdateApartment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.Store.GetApartment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get apartment", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Apartment not found", nil)
		return
	}

	var req ApartmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	size, err := parseAmount(req.SizeM2)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid size_m2", err)
		return
	}

	a := apartmentFromRequest(id, req, size)
	a.CreatedAt = existing.CreatedAt
	if err := h.Store.SaveApartment(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update apartment", err)
		return
	}
	writeJSON(w, http.StatusOK, toApartmentDTO(a))
}

// DeleteApartment removes an apartment.
func (h *Handler) DeleteApartment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteApartment(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete apartment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchApartments searches apartments by name or address.
func (h *Handler) SearchApartments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameter q", nil)
		return
	}

	apartments, err := h.Store.SearchApartments(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Search failed", err)
		return
	}

	dtos := make([]ApartmentDTO, len(apartments))
	for i, a := range apartments {
		dtos[i] = toApartmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApartmentContracts returns the contract history of an apartment.
func (h *Handler) ApartmentContracts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	contracts, err := h.Store.ContractsByApartment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApartmentActiveContract returns the active contract of an apartment, 404
// when the unit is vacant.
func (h *Handler) ApartmentActiveContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.Store.ActiveContractByApartment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "No active contract for apartment", nil)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

func apartmentFromRequest(id string, req ApartmentRequest, size decimal.Decimal) rental.Apartment {
	return rental.Apartment{
		ID:            id,
		Name:          req.Name,
		SizeM2:        size,
		Floor:         req.Floor,
		Bedrooms:      req.Bedrooms,
		Bathrooms:     req.Bathrooms,
		LivingRooms:   req.LivingRooms,
		Kitchens:      req.Kitchens,
		WindowCount:   req.WindowCount,
		ClosetCount:   req.ClosetCount,
		HasShower:     req.HasShower,
		InteriorColor: req.InteriorColor,
		ExteriorColor: req.ExteriorColor,
		Address:       req.Address,
		CreatedAt:     time.Now().UTC(),
	}
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// ListTenants returns all tenants.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Store.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tenants", err)
		return
	}

	dtos := make([]TenantDTO, len(tenants))
	for i, t := range tenants {
		dtos[i] = toTenantDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTenant registers a new tenant.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req TenantRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := tenantFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tenant", err)
		return
	}

	if err := h.Store.SaveTenant(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create tenant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantDTO(t))
}

// GetTenant returns a single tenant by national ID.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	t, err := h.Store.GetTenant(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tenant", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tenant not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(*t))
}

// UpdateTenant overwrites an existing tenant.
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	existing, err := h.Store.GetTenant(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tenant", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Tenant not found", nil)
		return
	}

	var req TenantRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.NationalID = ref // the path wins over the body

	t, err := tenantFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tenant", err)
		return
	}
	t.CreatedAt = existing.CreatedAt

	if err := h.Store.SaveTenant(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(t))
}

// DeleteTenant removes a tenant.
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	if err := h.Store.DeleteTenant(r.Context(), ref); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchTenants searches tenants by name or national ID.
func (h *Handler) SearchTenants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameter q", nil)
		return
	}

	tenants, err := h.Store.SearchTenants(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Search failed", err)
		return
	}

	dtos := make([]TenantDTO, len(tenants))
	for i, t := range tenants {
		dtos[i] = toTenantDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TenantContracts returns the contracts a tenant is linked to.
func (h *Handler) TenantContracts(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	links, err := h.Store.ContractsForTenant(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractTenantDTO, len(links))
	for i, l := range links {
		dtos[i] = toContractTenantDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TenantPayments returns a tenant's payment history.
func (h *Handler) TenantPayments(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	payments, err := h.Store.PaymentsByTenant(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

func tenantFromRequest(req TenantRequest) (rental.Tenant, error) {
	birth, err := parseDatePtr(req.BirthDate)
	if err != nil {
		return rental.Tenant{}, err
	}
	return rental.Tenant{
		NationalID:  req.NationalID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		SecondLast:  req.SecondLast,
		Nationality: req.Nationality,
		BirthDate:   birth,
		Phone:       req.Phone,
		Email:       req.Email,
		Profession:  req.Profession,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns all contracts.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.Store.ListContracts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract creates a new lease contract.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req ContractRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.contractFromRequest(r, uuid.NewString(), req)
	if err != nil {
		if rental.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Apartment not found", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid contract", err)
		return
	}

	if err := h.Store.SaveContract(r.Context(), *c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(*c))
}

// GetContract returns a single contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// UpdateContract overwrites an existing contract.
func (h *Handler) UpdateContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	var req ContractRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.contractFromRequest(r, id, req)
	if err != nil {
		if rental.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Apartment not found", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid contract", err)
		return
	}
	c.CreatedAt = existing.CreatedAt

	if err := h.Store.SaveContract(r.Context(), *c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// DeleteContract removes a contract.
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteContract(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete contract", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateContractStatus activates or terminates a contract.
func (h *Handler) UpdateContractStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ContractStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.Store.UpdateContractStatus(r.Context(), id, req.Status)
	if err == rental.ErrContractNotFound {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

// ContractTenants lists the tenant links of a contract.
func (h *Handler) ContractTenants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	links, err := h.Store.TenantsForContract(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tenants", err)
		return
	}

	dtos := make([]ContractTenantDTO, len(links))
	for i, l := range links {
		dtos[i] = toContractTenantDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LinkTenant attaches a tenant to a contract. Both sides must exist.
func (h *Handler) LinkTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LinkTenantRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	t, err := h.Store.GetTenant(r.Context(), req.TenantRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tenant", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tenant not found", nil)
		return
	}

	link := rental.ContractTenant{
		ContractID: id,
		TenantRef:  req.TenantRef,
		Priority:   req.Priority,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveContractTenant(r.Context(), link); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to link tenant", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractTenantDTO(link))
}

// UnlinkTenant removes a tenant link from a contract.
func (h *Handler) UnlinkTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref := chi.URLParam(r, "ref")

	if err := h.Store.DeleteContractTenant(r.Context(), id, ref); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to unlink tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContractPayments returns a contract's payment history.
func (h *Handler) ContractPayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	payments, err := h.Store.PaymentsByContract(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// contractFromRequest maps a request to a contract entity. Returns
// ErrApartmentNotFound when a referenced apartment does not exist.
func (h *Handler) contractFromRequest(r *http.Request, id string, req ContractRequest) (*rental.Contract, error) {
	if req.ApartmentID != "" {
		a, err := h.Store.GetApartment(r.Context(), req.ApartmentID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, rental.ErrApartmentNotFound
		}
	}

	signedAt, err := parseDate(req.SignedAt)
	if err != nil {
		return nil, err
	}
	rent, err := parseAmount(req.MonthlyRent)
	if err != nil {
		return nil, err
	}
	deposit, err := parseAmount(req.InitialDeposit)
	if err != nil {
		return nil, err
	}
	deadline, err := parseDatePtr(req.DepositDeadline)
	if err != nil {
		return nil, err
	}

	c := rental.Contract{
		ID:                id,
		ApartmentID:       req.ApartmentID,
		SignedAt:          signedAt,
		MonthlyRent:       rent,
		InitialDeposit:    deposit,
		UtilitiesIncluded: req.UtilitiesIncluded,
		IncludesCable:     req.IncludesCable,
		IncludesInternet:  req.IncludesInternet,
		IncludesParking:   req.IncludesParking,
		OccupantCount:     req.OccupantCount,
		PetCount:          req.PetCount,
		RentDueDay:        req.RentDueDay,
		WaterDueDay:       req.WaterDueDay,
		ElectricityDueDay: req.ElectricityDueDay,
		DepositDeadline:   deadline,
		Status:            rental.ContractActive,
		Notes:             req.Notes,
		CreatedAt:         time.Now().UTC(),
	}
	if req.Status != nil {
		c.Status = *req.Status
	}
	if req.StartDate != "" {
		if c.StartDate, err = parseDate(req.StartDate); err != nil {
			return nil, err
		}
	}
	if req.EndDate != "" {
		if c.EndDate, err = parseDate(req.EndDate); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments, optionally filtered by category.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	var (
		payments []rental.Payment
		err      error
	)
	if category != "" {
		if !rental.ValidCategory(category) {
			writeError(w, http.StatusBadRequest, "Invalid payment category", rental.ErrInvalidCategory)
			return
		}
		payments, err = h.Store.PaymentsByCategory(r.Context(), rental.PaymentCategory(category))
	} else {
		payments, err = h.Store.ListPayments(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// CreatePayment records a manual payment. The referenced contract and tenant
// must exist; the sentinel tenant reference is accepted without lookup.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !rental.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "Invalid payment category", rental.ErrInvalidCategory)
		return
	}

	c, err := h.Store.GetContract(r.Context(), req.ContractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	if req.TenantRef != rental.NoTenantRef {
		t, err := h.Store.GetTenant(r.Context(), req.TenantRef)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to get tenant", err)
			return
		}
		if t == nil {
			writeError(w, http.StatusNotFound, "Tenant not found", nil)
			return
		}
	}

	p, err := paymentFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	}

	if err := h.Store.InsertPayment(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// UpdatePayment settles or adjusts an existing payment.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	var req PaymentUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p := *existing
	if req.Paid != "" {
		if p.Paid, err = parseAmount(req.Paid); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid amount", err)
			return
		}
	}
	if req.Outstanding != "" {
		if p.Outstanding, err = parseAmount(req.Outstanding); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid outstanding amount", err)
			return
		}
	}
	if req.Complete != nil {
		p.Complete = *req.Complete
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.Note != nil {
		p.Note = *req.Note
	}

	if err := h.Store.UpdatePayment(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// DeletePayment removes a payment record.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeletePayment(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func paymentFromRequest(req PaymentRequest) (rental.Payment, error) {
	now := time.Now().UTC()
	paidOn := now
	var err error
	if req.PaidOn != "" {
		if paidOn, err = parseDate(req.PaidOn); err != nil {
			return rental.Payment{}, err
		}
	}
	dueOn := paidOn
	if req.DueOn != "" {
		if dueOn, err = parseDate(req.DueOn); err != nil {
			return rental.Payment{}, err
		}
	}

	expected, err := parseAmount(req.Expected)
	if err != nil {
		return rental.Payment{}, err
	}
	paid, err := parseAmount(req.Paid)
	if err != nil {
		return rental.Payment{}, err
	}
	outstanding, err := parseAmount(req.Outstanding)
	if err != nil {
		return rental.Payment{}, err
	}

	month, year := req.Month, req.Year
	if month == 0 {
		month = int(paidOn.Month())
	}
	if year == 0 {
		year = paidOn.Year()
	}
	status := req.Status
	if status == 0 {
		status = rental.PaymentPending
	}

	return rental.Payment{
		ID:          uuid.NewString(),
		ContractID:  req.ContractID,
		TenantRef:   req.TenantRef,
		Category:    rental.PaymentCategory(req.Category),
		PaidOn:      paidOn,
		DueOn:       dueOn,
		Expected:    expected,
		Paid:        paid,
		Outstanding: outstanding,
		Complete:    req.Complete,
		Status:      status,
		Month:       month,
		Year:        year,
		Note:        req.Note,
		Origin:      rental.OriginManual,
		CreatedAt:   now,
	}, nil
}

func toPaymentDTOs(payments []rental.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

// =============================================================================
// REFUND HANDLERS
// =============================================================================

// ListRefunds returns refunds, optionally filtered by contract or tenant.
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	var (
		refunds []rental.DepositRefund
		err     error
	)
	switch {
	case r.URL.Query().Get("contract") != "":
		refunds, err = h.Store.RefundsByContract(r.Context(), r.URL.Query().Get("contract"))
	case r.URL.Query().Get("tenant") != "":
		refunds, err = h.Store.RefundsByTenant(r.Context(), r.URL.Query().Get("tenant"))
	default:
		refunds, err = h.Store.ListRefunds(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list refunds", err)
		return
	}

	dtos := make([]RefundDTO, len(refunds))
	for i, rf := range refunds {
		dtos[i] = toRefundDTO(rf)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRefund records a deposit refund. Contract and tenant must exist.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.Store.GetContract(r.Context(), req.ContractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	t, err := h.Store.GetTenant(r.Context(), req.TenantRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get tenant", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Tenant not found", nil)
		return
	}

	refund, err := refundFromRequest(uuid.NewString(), req, c)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid refund", err)
		return
	}

	if err := h.Store.SaveRefund(r.Context(), refund); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record refund", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundDTO(refund))
}

// GetRefund returns a single refund.
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rf, err := h.Store.GetRefund(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get refund", err)
		return
	}
	if rf == nil {
		writeError(w, http.StatusNotFound, "Refund not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRefundDTO(*rf))
}

// UpdateRefund overwrites an existing refund record.
func (h *Handler) UpdateRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.Store.GetRefund(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get refund", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Refund not found", nil)
		return
	}

	var req RefundRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	req.ContractID = existing.ContractID
	req.TenantRef = existing.TenantRef

	refund, err := refundFromRequest(id, req, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid refund", err)
		return
	}
	refund.CreatedAt = existing.CreatedAt
	if refund.OriginalAmount.IsZero() {
		refund.OriginalAmount = existing.OriginalAmount
	}

	if err := h.Store.SaveRefund(r.Context(), refund); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update refund", err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundDTO(refund))
}

// DeleteRefund removes a refund record.
func (h *Handler) DeleteRefund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteRefund(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete refund", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refundFromRequest maps a request to a refund. When the contract is given
// and no original amount was provided, the contract's initial deposit is
// used as the original amount.
func refundFromRequest(id string, req RefundRequest, c *rental.Contract) (rental.DepositRefund, error) {
	refundedAt := time.Now().UTC()
	var err error
	if req.RefundedAt != "" {
		if refundedAt, err = parseDate(req.RefundedAt); err != nil {
			return rental.DepositRefund{}, err
		}
	}

	original, err := parseAmount(req.OriginalAmount)
	if err != nil {
		return rental.DepositRefund{}, err
	}
	if original.IsZero() && c != nil {
		original = c.InitialDeposit
	}
	refunded, err := parseAmount(req.RefundedAmount)
	if err != nil {
		return rental.DepositRefund{}, err
	}

	return rental.DepositRefund{
		ID:             id,
		ContractID:     req.ContractID,
		TenantRef:      req.TenantRef,
		RefundedAt:     refundedAt,
		Deductions:     req.Deductions,
		OriginalAmount: original,
		RefundedAmount: refunded,
		Notes:          req.Notes,
		PhotoID:        req.PhotoID,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// =============================================================================
// PHOTO HANDLERS
// =============================================================================

// CreatePhoto stores a photo.
func (h *Handler) CreatePhoto(w http.ResponseWriter, r *http.Request) {
	var req PhotoRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p := rental.Photo{
		ID:        uuid.NewString(),
		Base64A:   req.Base64A,
		Base64B:   req.Base64B,
		Context:   req.Context,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SavePhoto(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store photo", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPhotoDTO(p))
}

// GetPhoto returns a single photo.
func (h *Handler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get photo", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Photo not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPhotoDTO(*p))
}

// DeletePhoto removes a photo and its links.
func (h *Handler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeletePhoto(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete photo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchPhotos searches photos by context text.
func (h *Handler) SearchPhotos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "Missing query parameter q", nil)
		return
	}

	photos, err := h.Store.SearchPhotosByContext(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Search failed", err)
		return
	}

	dtos := make([]PhotoDTO, len(photos))
	for i, p := range photos {
		dtos[i] = toPhotoDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AttachPhoto links a photo to an owning entity.
func (h *Handler) AttachPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AttachPhotoRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.Store.GetPhoto(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get photo", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Photo not found", nil)
		return
	}

	owner := sqlite.PhotoOwner(req.OwnerKind)
	if err := h.Store.AttachPhoto(r.Context(), owner, req.OwnerID, id, req.Caption); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to attach photo", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"photo_id":   id,
		"owner_kind": req.OwnerKind,
		"owner_id":   req.OwnerID,
	})
}

// DetachPhoto removes a photo link.
func (h *Handler) DetachPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")
	ownerID := chi.URLParam(r, "ownerID")

	if err := h.Store.DetachPhoto(r.Context(), sqlite.PhotoOwner(kind), ownerID, id); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to detach photo", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PhotosOf returns the photos attached to an entity.
func (h *Handler) PhotosOf(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	ownerID := chi.URLParam(r, "ownerID")

	photos, err := h.Store.PhotosFor(r.Context(), sqlite.PhotoOwner(kind), ownerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to list photos", err)
		return
	}

	dtos := make([]PhotoDTO, len(photos))
	for i, p := range photos {
		dtos[i] = toPhotoDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// RunBilling triggers an immediate generation pass and returns the report.
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	run, report, err := h.Billing.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Billing run failed", err)
		return
	}

	dto := BillingReportDTO{
		RunID:            run.ID,
		Status:           run.Status,
		ContractsSeen:    report.ContractsSeen,
		ContractsSkipped: report.ContractsSkipped,
		PaymentsCreated:  report.PaymentsCreated,
	}
	for _, e := range report.Errors {
		dto.Errors = append(dto.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListBillingRuns returns the run audit history.
func (h *Handler) ListBillingRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	runs, err := h.Store.ListBillingRuns(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list billing runs", err)
		return
	}

	dtos := make([]BillingRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toBillingRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate decodes the JSON body into dst and runs struct
// validation, writing the error response itself. Returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
