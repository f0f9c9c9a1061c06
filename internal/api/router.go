package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/fees"
	"github.com/hotelops/reconciler/internal/folio"
	"github.com/hotelops/reconciler/internal/ingestion"
	"github.com/hotelops/reconciler/internal/reconciliation"
)

// Services are the domain services the HTTP layer delegates to.
type Services struct {
	Ingestion      *ingestion.Service
	Reconciliation *reconciliation.Service
	Folios         *folio.Service
	Fees           *fees.Service
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(svc Services, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		ingestion: svc.Ingestion,
		recon:     svc.Reconciliation,
		folios:    svc.Folios,
		fees:      svc.Fees,
		log:       log,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireTenant)

		// Settlement imports.
		r.Post("/settlements/imports", h.UploadSettlement)
		r.Get("/settlements/imports", h.ListImports)
		r.Get("/settlements/imports/{id}", h.GetImport)
		r.Get("/settlements/imports/{id}/records", h.ListSettlementRecords)
		r.Post("/settlements/imports/{id}/match", h.MatchImport)
		r.Post("/settlements/records/{id}/confirm", h.ConfirmSettlementMatch)
		r.Post("/settlements/records/{id}/unlink", h.UnlinkSettlement)

		// Reconciliation records.
		r.Post("/reconciliation/records", h.RecordExternal)
		r.Get("/reconciliation/records", h.ListReconciliationRecords)
		r.Get("/reconciliation/records/{id}", h.GetReconciliationRecord)
		r.Post("/reconciliation/records/{id}/match", h.MatchRecord)
		r.Post("/reconciliation/records/{id}/unmatch", h.UnmatchRecord)
		r.Get("/reconciliation/records/{id}/audit", h.ReconciliationAudit)
		r.Post("/reconciliation/bulk-match", h.BulkMatch)
		r.Post("/reconciliation/auto-match", h.AutoMatch)
		r.Get("/reconciliation/suggestions", h.Suggestions)
		r.Get("/payments", h.ListPayments)

		// Folios.
		r.Post("/folios", h.OpenFolio)
		r.Post("/folios/numbers", h.GenerateFolioNumber)
		r.Post("/folios/transfer", h.TransferCharge)
		r.Post("/folios/split", h.SplitCharge)
		r.Post("/folios/merge", h.MergeFolios)
		r.Get("/folios/{id}", h.GetFolio)
		r.Get("/folios/{id}/transactions", h.ListFolioTransactions)
		r.Post("/folios/{id}/charges", h.PostCharge)
		r.Post("/folios/{id}/payments", h.RecordPayment)
		r.Post("/folios/{id}/close", h.CloseFolio)
		r.Post("/folios/{id}/post-checkout-payments", h.RecordPostCheckoutPayment)
		r.Get("/bookings/{id}/balance", h.BookingBalance)

		// Platform fees.
		r.Post("/fees/record", h.RecordFee)
		r.Post("/fees/waive", h.WaiveFees)
		r.Get("/fees/entries", h.ListFeeEntries)
		r.Get("/fees/configs", h.ListFeeConfigs)
		r.Post("/fees/configs", h.UpsertFeeConfig)
		r.Post("/fees/bill", h.MarkFeesBilled)
		r.Post("/fees/settle", h.MarkFeesSettled)
		r.Put("/fees/tenant", h.UpsertTenant)
	})

	return r
}
