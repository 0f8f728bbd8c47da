package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Logging(h.logger),
		Recovery(),
	)

	// Jobs
	mux.Handle("GET /api/v1/jobs", chain(http.HandlerFunc(h.ListJobs)))
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.PostJob)))
	mux.Handle("GET /api/v1/jobs/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("DELETE /api/v1/jobs/{id}", chain(http.HandlerFunc(h.EraseJob)))
	mux.Handle("POST /api/v1/jobs/{id}/claim", chain(http.HandlerFunc(h.ClaimJob)))
	mux.Handle("DELETE /api/v1/jobs/{id}/claim", chain(http.HandlerFunc(h.UnclaimJob)))
	mux.Handle("GET /api/v1/jobs/{id}/logbook", chain(http.HandlerFunc(h.GetLogbook)))

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))
	mux.Handle("POST /api/v1/flows/validate", chain(http.HandlerFunc(h.ValidateFlow)))
}
