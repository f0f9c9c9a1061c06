package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/fees"
	"github.com/hotelops/reconciler/internal/folio"
	"github.com/hotelops/reconciler/internal/repository"
)

// --- folios ---

func (h *Handlers) OpenFolio(w http.ResponseWriter, r *http.Request) {
	var req folio.OpenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	f, err := h.folios.OpenFolio(r.Context(), callerFrom(r.Context()).TenantID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, f)
}

func (h *Handlers) GenerateFolioNumber(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BookingID string           `json:"booking_id"`
		FolioType domain.FolioType `json:"folio_type"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	number, err := h.folios.GenerateFolioNumber(r.Context(), callerFrom(r.Context()).TenantID, body.BookingID, body.FolioType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"folio_number": number})
}

func (h *Handlers) GetFolio(w http.ResponseWriter, r *http.Request) {
	f, err := h.folios.GetFolio(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

func (h *Handlers) ListFolioTransactions(w http.ResponseWriter, r *http.Request) {
	lines, err := h.folios.ListTransactions(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": lines})
}

func (h *Handlers) PostCharge(w http.ResponseWriter, r *http.Request) {
	var req folio.ChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	f, line, err := h.folios.PostCharge(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"folio":       f,
		"transaction": line,
		"balance":     f.Balance,
	})
}

func (h *Handlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req folio.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	f, p, err := h.folios.RecordPayment(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"folio":   f,
		"payment": p,
		"balance": f.Balance,
	})
}

func (h *Handlers) CloseFolio(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	f, err := h.folios.CloseFolio(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"), body.Force)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

func (h *Handlers) TransferCharge(w http.ResponseWriter, r *http.Request) {
	var req folio.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.folios.TransferCharge(r.Context(), callerFrom(r.Context()).TenantID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (h *Handlers) SplitCharge(w http.ResponseWriter, r *http.Request) {
	var req folio.SplitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.folios.SplitCharge(r.Context(), callerFrom(r.Context()).TenantID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (h *Handlers) MergeFolios(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceFolioID string `json:"source_folio_id"`
		TargetFolioID string `json:"target_folio_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.folios.MergeFolios(r.Context(), callerFrom(r.Context()).TenantID, body.SourceFolioID, body.TargetFolioID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (h *Handlers) RecordPostCheckoutPayment(w http.ResponseWriter, r *http.Request) {
	var req folio.PostCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	entry, err := h.folios.RecordPostCheckoutPayment(r.Context(), c.TenantID, chi.URLParam(r, "id"), c.ActorID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) BookingBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.folios.BookingBalance(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bal)
}

// --- platform fees ---

func (h *Handlers) RecordFee(w http.ResponseWriter, r *http.Request) {
	var req fees.RecordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.fees.Record(r.Context(), callerFrom(r.Context()).TenantID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) WaiveFees(w http.ResponseWriter, r *http.Request) {
	var req fees.WaiveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	res, err := h.fees.Waive(r.Context(), c.TenantID, c.ActorID, c.Role, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListFeeEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.fees.ListEntries(r.Context(), repository.FeeEntryFilter{
		TenantID:     callerFrom(r.Context()).TenantID,
		Status:       domain.FeeStatus(q.Get("status")),
		BillingCycle: q.Get("billing_cycle"),
		Limit:        parseIntDefault(q.Get("limit"), 0),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handlers) ListFeeConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.fees.ListConfigs(r.Context(), callerFrom(r.Context()).TenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
}

func (h *Handlers) UpsertFeeConfig(w http.ResponseWriter, r *http.Request) {
	var req fees.ConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cfg, err := h.fees.UpsertConfig(r.Context(), callerFrom(r.Context()).TenantID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) MarkFeesBilled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BillingCycle string `json:"billing_cycle"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	n, err := h.fees.MarkBilled(r.Context(), callerFrom(r.Context()).TenantID, body.BillingCycle)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"billed_count": n, "billing_cycle": body.BillingCycle})
}

func (h *Handlers) MarkFeesSettled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ledger_ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	n, err := h.fees.MarkSettled(r.Context(), callerFrom(r.Context()).TenantID, body.IDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"settled_count": n})
}

// UpsertTenant updates the calling tenant's trial window. Platform admins only.
func (h *Handlers) UpsertTenant(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	if c.Role != fees.RolePlatformAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "updating tenants requires role "+fees.RolePlatformAdmin)
		return
	}
	var body struct {
		Name         string     `json:"name"`
		TrialDays    int        `json:"trial_days"`
		TrialEndDate *time.Time `json:"trial_end_date,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	t, err := h.fees.UpsertTenant(r.Context(), domain.Tenant{
		ID:           c.TenantID,
		Name:         body.Name,
		TrialDays:    body.TrialDays,
		TrialEndDate: body.TrialEndDate,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}
