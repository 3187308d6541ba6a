/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Apartments:  ApartmentDTO, ApartmentRequest
  Tenants:     TenantDTO, TenantRequest
  Contracts:   ContractDTO, ContractRequest, LinkTenantRequest,
               ContractStatusRequest
  Payments:    PaymentDTO, PaymentRequest, PaymentUpdateRequest
  Refunds:     RefundDTO, RefundRequest
  Photos:      PhotoDTO, PhotoRequest, AttachPhotoRequest
  Billing:     BillingReportDTO, BillingRunDTO

DATE FORMAT:
  Date fields travel as "2006-01-02". Timestamps as RFC3339.

MONEY FORMAT:
  Amounts travel as decimal strings ("850.00"), never JSON floats.

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run them
  through the shared validate instance before touching the store.

SEE ALSO:
  - handlers.go: Uses these types
  - rental/types.go: Domain entities these map onto
*/
package api

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/rental-engine/rental"
)

// validate is shared by all handlers; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New()

const dateLayout = "2006-01-02"

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// APARTMENTS
// =============================================================================

// ApartmentDTO represents an apartment in API responses.
type ApartmentDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SizeM2        string `json:"size_m2"`
	Floor         int    `json:"floor"`
	Bedrooms      int    `json:"bedrooms"`
	Bathrooms     int    `json:"bathrooms"`
	LivingRooms   int    `json:"living_rooms"`
	Kitchens      int    `json:"kitchens"`
	WindowCount   int    `json:"window_count"`
	ClosetCount   int    `json:"closet_count"`
	HasShower     bool   `json:"has_shower"`
	InteriorColor string `json:"interior_color,omitempty"`
	ExteriorColor string `json:"exterior_color,omitempty"`
	Address       string `json:"address,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// ApartmentRequest creates or updates an apartment.
type ApartmentRequest struct {
	Name          string `json:"name" validate:"required"`
	SizeM2        string `json:"size_m2,omitempty"`
	Floor         int    `json:"floor,omitempty"`
	Bedrooms      int    `json:"bedrooms,omitempty" validate:"gte=0"`
	Bathrooms     int    `json:"bathrooms,omitempty" validate:"gte=0"`
	LivingRooms   int    `json:"living_rooms,omitempty" validate:"gte=0"`
	Kitchens      int    `json:"kitchens,omitempty" validate:"gte=0"`
	WindowCount   int    `json:"window_count,omitempty" validate:"gte=0"`
	ClosetCount   int    `json:"closet_count,omitempty" validate:"gte=0"`
	HasShower     bool   `json:"has_shower,omitempty"`
	InteriorColor string `json:"interior_color,omitempty"`
	ExteriorColor string `json:"exterior_color,omitempty"`
	Address       string `json:"address,omitempty"`
}

func toApartmentDTO(a rental.Apartment) ApartmentDTO {
	return ApartmentDTO{
		ID:            a.ID,
		Name:          a.Name,
		SizeM2:        a.SizeM2.String(),
		Floor:         a.Floor,
		Bedrooms:      a.Bedrooms,
		Bathrooms:     a.Bathrooms,
		LivingRooms:   a.LivingRooms,
		Kitchens:      a.Kitchens,
		WindowCount:   a.WindowCount,
		ClosetCount:   a.ClosetCount,
		HasShower:     a.HasShower,
		InteriorColor: a.InteriorColor,
		ExteriorColor: a.ExteriorColor,
		Address:       a.Address,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TENANTS
// =============================================================================

// TenantDTO represents a tenant in API responses.
type TenantDTO struct {
	NationalID  string `json:"national_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name,omitempty"`
	SecondLast  string `json:"second_last,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	BirthDate   string `json:"birth_date,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Profession  string `json:"profession,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// TenantRequest creates or updates a tenant.
type TenantRequest struct {
	NationalID  string `json:"national_id" validate:"required"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name,omitempty"`
	SecondLast  string `json:"second_last,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	BirthDate   string `json:"birth_date,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Profession  string `json:"profession,omitempty"`
}

func toTenantDTO(t rental.Tenant) TenantDTO {
	dto := TenantDTO{
		NationalID:  t.NationalID,
		FirstName:   t.FirstName,
		LastName:    t.LastName,
		SecondLast:  t.SecondLast,
		Nationality: t.Nationality,
		Phone:       t.Phone,
		Email:       t.Email,
		Profession:  t.Profession,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if t.BirthDate != nil {
		dto.BirthDate = t.BirthDate.Format(dateLayout)
	}
	return dto
}

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractDTO represents a lease contract in API responses.
type ContractDTO struct {
	ID                string `json:"id"`
	ApartmentID       string `json:"apartment_id,omitempty"`
	SignedAt          string `json:"signed_at"`
	StartDate         string `json:"start_date,omitempty"`
	EndDate           string `json:"end_date,omitempty"`
	MonthlyRent       string `json:"monthly_rent"`
	InitialDeposit    string `json:"initial_deposit"`
	UtilitiesIncluded bool   `json:"utilities_included"`
	IncludesCable     bool   `json:"includes_cable"`
	IncludesInternet  bool   `json:"includes_internet"`
	IncludesParking   bool   `json:"includes_parking"`
	OccupantCount     int    `json:"occupant_count"`
	PetCount          int    `json:"pet_count"`
	RentDueDay        int    `json:"rent_due_day"`
	WaterDueDay       *int   `json:"water_due_day,omitempty"`
	ElectricityDueDay *int   `json:"electricity_due_day,omitempty"`
	DepositDeadline   string `json:"deposit_deadline,omitempty"`
	Status            int    `json:"status"`
	Notes             string `json:"notes,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// ContractRequest creates or updates a contract.
type ContractRequest struct {
	ApartmentID       string `json:"apartment_id,omitempty"`
	SignedAt          string `json:"signed_at" validate:"required"`
	StartDate         string `json:"start_date,omitempty"`
	EndDate           string `json:"end_date,omitempty"`
	MonthlyRent       string `json:"monthly_rent" validate:"required"`
	InitialDeposit    string `json:"initial_deposit,omitempty"`
	UtilitiesIncluded bool   `json:"utilities_included,omitempty"`
	IncludesCable     bool   `json:"includes_cable,omitempty"`
	IncludesInternet  bool   `json:"includes_internet,omitempty"`
	IncludesParking   bool   `json:"includes_parking,omitempty"`
	OccupantCount     int    `json:"occupant_count,omitempty" validate:"gte=0"`
	PetCount          int    `json:"pet_count,omitempty" validate:"gte=0"`
	RentDueDay        int    `json:"rent_due_day,omitempty" validate:"gte=0,lte=31"`
	WaterDueDay       *int   `json:"water_due_day,omitempty" validate:"omitempty,gte=1,lte=31"`
	ElectricityDueDay *int   `json:"electricity_due_day,omitempty" validate:"omitempty,gte=1,lte=31"`
	DepositDeadline   string `json:"deposit_deadline,omitempty"`
	Status            *int   `json:"status,omitempty" validate:"omitempty,gte=0,lte=1"`
	Notes             string `json:"notes,omitempty"`
}

// ContractStatusRequest changes only a contract's status code.
type ContractStatusRequest struct {
	Status int `json:"status" validate:"gte=0,lte=1"`
}

// LinkTenantRequest attaches a tenant to a contract.
type LinkTenantRequest struct {
	TenantRef string `json:"tenant_ref" validate:"required"`
	Priority  int    `json:"priority,omitempty" validate:"gte=0"`
}

// ContractTenantDTO represents a tenant link in API responses.
type ContractTenantDTO struct {
	ContractID string `json:"contract_id"`
	TenantRef  string `json:"tenant_ref"`
	Priority   int    `json:"priority"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func toContractDTO(c rental.Contract) ContractDTO {
	dto := ContractDTO{
		ID:                c.ID,
		ApartmentID:       c.ApartmentID,
		SignedAt:          c.SignedAt.Format(dateLayout),
		MonthlyRent:       c.MonthlyRent.String(),
		InitialDeposit:    c.InitialDeposit.String(),
		UtilitiesIncluded: c.UtilitiesIncluded,
		IncludesCable:     c.IncludesCable,
		IncludesInternet:  c.IncludesInternet,
		IncludesParking:   c.IncludesParking,
		OccupantCount:     c.OccupantCount,
		PetCount:          c.PetCount,
		RentDueDay:        c.RentDueDay,
		WaterDueDay:       c.WaterDueDay,
		ElectricityDueDay: c.ElectricityDueDay,
		Status:            c.Status,
		Notes:             c.Notes,
		CreatedAt:         c.CreatedAt.Format(time.RFC3339),
	}
	if !c.StartDate.IsZero() {
		dto.StartDate = c.StartDate.Format(dateLayout)
	}
	if !c.EndDate.IsZero() {
		dto.EndDate = c.EndDate.Format(dateLayout)
	}
	if c.DepositDeadline != nil {
		dto.DepositDeadline = c.DepositDeadline.Format(dateLayout)
	}
	return dto
}

func toContractTenantDTO(l rental.ContractTenant) ContractTenantDTO {
	return ContractTenantDTO{
		ContractID: l.ContractID,
		TenantRef:  l.TenantRef,
		Priority:   l.Priority,
		CreatedAt:  l.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a payment obligation in API responses.
type PaymentDTO struct {
	ID          string `json:"id"`
	ContractID  string `json:"contract_id"`
	TenantRef   string `json:"tenant_ref"`
	Category    string `json:"category"`
	PaidOn      string `json:"paid_on"`
	DueOn       string `json:"due_on"`
	Expected    string `json:"expected"`
	Paid        string `json:"paid"`
	Outstanding string `json:"outstanding"`
	Complete    bool   `json:"complete"`
	Status      int    `json:"status"`
	Month       int    `json:"month"`
	Year        int    `json:"year"`
	Note        string `json:"note,omitempty"`
	Origin      string `json:"origin"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// PaymentRequest records a manual payment against a contract.
type PaymentRequest struct {
	ContractID  string `json:"contract_id" validate:"required"`
	TenantRef   string `json:"tenant_ref" validate:"required"`
	Category    string `json:"category" validate:"required"`
	PaidOn      string `json:"paid_on,omitempty"`
	DueOn       string `json:"due_on,omitempty"`
	Expected    string `json:"expected,omitempty"`
	Paid        string `json:"paid,omitempty"`
	Outstanding string `json:"outstanding,omitempty"`
	Complete    bool   `json:"complete,omitempty"`
	Status      int    `json:"status,omitempty" validate:"omitempty,gte=1,lte=2"`
	Month       int    `json:"month,omitempty" validate:"omitempty,gte=1,lte=12"`
	Year        int    `json:"year,omitempty" validate:"omitempty,gte=2000"`
	Note        string `json:"note,omitempty"`
}

// PaymentUpdateRequest overwrites the mutable fields of a payment (typically
// settling a generated obligation).
type PaymentUpdateRequest struct {
	Paid        string  `json:"paid,omitempty"`
	Outstanding string  `json:"outstanding,omitempty"`
	Complete    *bool   `json:"complete,omitempty"`
	Status      *int    `json:"status,omitempty" validate:"omitempty,gte=1,lte=2"`
	Note        *string `json:"note,omitempty"`
}

func toPaymentDTO(p rental.Payment) PaymentDTO {
	return PaymentDTO{
		ID:          p.ID,
		ContractID:  p.ContractID,
		TenantRef:   p.TenantRef,
		Category:    string(p.Category),
		PaidOn:      p.PaidOn.Format(dateLayout),
		DueOn:       p.DueOn.Format(dateLayout),
		Expected:    p.Expected.String(),
		Paid:        p.Paid.String(),
		Outstanding: p.Outstanding.String(),
		Complete:    p.Complete,
		Status:      p.Status,
		Month:       p.Month,
		Year:        p.Year,
		Note:        p.Note,
		Origin:      string(p.Origin),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// DEPOSIT REFUNDS
// =============================================================================

// RefundDTO represents a deposit refund in API responses.
type RefundDTO struct {
	ID             string `json:"id"`
	ContractID     string `json:"contract_id"`
	TenantRef      string `json:"tenant_ref"`
	RefundedAt     string `json:"refunded_at"`
	Deductions     string `json:"deductions,omitempty"`
	OriginalAmount string `json:"original_amount"`
	RefundedAmount string `json:"refunded_amount"`
	Notes          string `json:"notes,omitempty"`
	PhotoID        string `json:"photo_id,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// RefundRequest records a deposit refund.
type RefundRequest struct {
	ContractID     string `json:"contract_id" validate:"required"`
	TenantRef      string `json:"tenant_ref" validate:"required"`
	RefundedAt     string `json:"refunded_at,omitempty"`
	Deductions     string `json:"deductions,omitempty"`
	OriginalAmount string `json:"original_amount,omitempty"`
	RefundedAmount string `json:"refunded_amount" validate:"required"`
	Notes          string `json:"notes,omitempty"`
	PhotoID        string `json:"photo_id,omitempty"`
}

func toRefundDTO(r rental.DepositRefund) RefundDTO {
	return RefundDTO{
		ID:             r.ID,
		ContractID:     r.ContractID,
		TenantRef:      r.TenantRef,
		RefundedAt:     r.RefundedAt.Format(dateLayout),
		Deductions:     r.Deductions,
		OriginalAmount: r.OriginalAmount.String(),
		RefundedAmount: r.RefundedAmount.String(),
		Notes:          r.Notes,
		PhotoID:        r.PhotoID,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PHOTOS
// =============================================================================

// PhotoDTO represents stored photo evidence in API responses.
type PhotoDTO struct {
	ID        string `json:"id"`
	Base64A   string `json:"base64_a,omitempty"`
	Base64B   string `json:"base64_b,omitempty"`
	Context   string `json:"context,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// PhotoRequest stores a new photo.
type PhotoRequest struct {
	Base64A string `json:"base64_a" validate:"required"`
	Base64B string `json:"base64_b,omitempty"`
	Context string `json:"context,omitempty"`
}

// AttachPhotoRequest links a photo to an owning entity.
type AttachPhotoRequest struct {
	OwnerKind string `json:"owner_kind" validate:"required,oneof=apartment contract tenant payment"`
	OwnerID   string `json:"owner_id" validate:"required"`
	Caption   string `json:"caption,omitempty"`
}

func toPhotoDTO(p rental.Photo) PhotoDTO {
	return PhotoDTO{
		ID:        p.ID,
		Base64A:   p.Base64A,
		Base64B:   p.Base64B,
		Context:   p.Context,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// BILLING
// =============================================================================

// BillingReportDTO summarizes a single generation pass.
type BillingReportDTO struct {
	RunID            string   `json:"run_id"`
	Status           string   `json:"status"`
	ContractsSeen    int      `json:"contracts_seen"`
	ContractsSkipped int      `json:"contracts_skipped"`
	PaymentsCreated  int      `json:"payments_created"`
	Errors           []string `json:"errors,omitempty"`
}

// BillingRunDTO represents a stored run record.
type BillingRunDTO struct {
	ID               string `json:"id"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
	Status           string `json:"status"`
	ContractsSeen    int    `json:"contracts_seen"`
	ContractsSkipped int    `json:"contracts_skipped"`
	PaymentsCreated  int    `json:"payments_created"`
	Errors           string `json:"errors,omitempty"`
}

func toBillingRunDTO(r rental.BillingRun) BillingRunDTO {
	dto := BillingRunDTO{
		ID:               r.ID,
		StartedAt:        r.StartedAt.Format(time.RFC3339),
		Status:           r.Status,
		ContractsSeen:    r.ContractsSeen,
		ContractsSkipped: r.ContractsSkipped,
		PaymentsCreated:  r.PaymentsCreated,
		Errors:           r.Errors,
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parseDate parses a "2006-01-02" date field.
func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// parseDatePtr parses an optional date field. Empty means unset.
func parseDatePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseAmount parses a decimal amount field. Empty means zero.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}
