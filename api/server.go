/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/apartments/*   Apartment management
  /api/tenants/*      Tenant management
  /api/contracts/*    Contracts, tenant links, status changes
  /api/payments/*     Payment records
  /api/refunds/*      Deposit refunds
  /api/photos/*       Photo evidence and links
  /api/billing/*      Generator trigger and run audit
  /api/reset          Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Apartment routes
		r.Route("/apartments", func(r chi.Router) {
			r.Get("/", h.ListApartments)
			r.Post("/", h.CreateApartment)
			r.Get("/search", h.SearchApartments)
			r.Get("/{id}", h.GetApartment)
			r.Put("/{id}", h.UpdateApartment)
			r.Delete("/{id}", h.DeleteApartment)
			r.Get("/{id}/contracts", h.ApartmentContracts)
			r.Get("/{id}/contracts/active", h.ApartmentActiveContract)
		})

		// Tenant routes
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)
			r.Get("/search", h.SearchTenants)
			r.Get("/{ref}", h.GetTenant)
			r.Put("/{ref}", h.UpdateTenant)
			r.Delete("/{ref}", h.DeleteTenant)
			r.Get("/{ref}/contracts", h.TenantContracts)
			r.Get("/{ref}/payments", h.TenantPayments)
		})

		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Put("/{id}", h.UpdateContract)
			r.Delete("/{id}", h.DeleteContract)
			r.Post("/{id}/status", h.UpdateContractStatus)
			r.Get("/{id}/tenants", h.ContractTenants)
			r.Post("/{id}/tenants", h.LinkTenant)
			r.Delete("/{id}/tenants/{ref}", h.UnlinkTenant)
			r.Get("/{id}/payments", h.ContractPayments)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Put("/{id}", h.UpdatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		// Refund routes
		r.Route("/refunds", func(r chi.Router) {
			r.Get("/", h.ListRefunds)
			r.Post("/", h.CreateRefund)
			r.Get("/{id}", h.GetRefund)
			r.Put("/{id}", h.UpdateRefund)
			r.Delete("/{id}", h.DeleteRefund)
		})

		// Photo routes
		r.Route("/photos", func(r chi.Router) {
			r.Post("/", h.CreatePhoto)
			r.Get("/search", h.SearchPhotos)
			r.Get("/of/{kind}/{ownerID}", h.PhotosOf)
			r.Get("/{id}", h.GetPhoto)
			r.Delete("/{id}", h.DeletePhoto)
			r.Post("/{id}/links", h.AttachPhoto)
			r.Delete("/{id}/links/{kind}/{ownerID}", h.DetachPhoto)
		})

		// Billing routes
		r.Route("/billing", func(r chi.Router) {
			r.Post("/run", h.RunBilling)
			r.Get("/runs", h.ListBillingRuns)
		})

		// Dev-only reset
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}
