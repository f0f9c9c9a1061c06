package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/fees"
	"github.com/hotelops/reconciler/internal/folio"
	"github.com/hotelops/reconciler/internal/ingestion"
	"github.com/hotelops/reconciler/internal/reconciliation"
	"github.com/hotelops/reconciler/internal/repository"
)

const maxUploadBytes = 32 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	ingestion *ingestion.Service
	recon     *reconciliation.Service
	folios    *folio.Service
	fees      *fees.Service
	log       *zap.Logger
}

// --- helpers ---

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Status: "error", Code: code, Message: msg})
}

// writeServiceError maps a domain error onto its HTTP status and code.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrFolioClosed):
		writeError(w, http.StatusConflict, "folio_closed", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- settlement imports ---

type uploadBody struct {
	FileName       string               `json:"file_name"`
	FileContent    string               `json:"file_content"`
	ProviderName   string               `json:"provider_name"`
	SettlementDate string               `json:"settlement_date"`
	ColumnMapping  domain.ColumnMapping `json:"column_mapping"`
}

// UploadSettlement accepts either a JSON body or a multipart form with a
// "file" part; in the multipart case column_mapping is a JSON object string.
func (h *Handlers) UploadSettlement(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	var body uploadBody

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "invalid multipart form: "+err.Error())
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "file field is required: "+err.Error())
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			h.writeServiceError(w, r, fmt.Errorf("read upload: %w", err))
			return
		}
		body.FileName = header.Filename
		body.FileContent = string(data)
		body.ProviderName = r.FormValue("provider_name")
		body.SettlementDate = r.FormValue("settlement_date")
		if raw := r.FormValue("column_mapping"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &body.ColumnMapping); err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "column_mapping must be a JSON object: "+err.Error())
				return
			}
		}
	} else if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	date := parseTime(body.SettlementDate)
	if date == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "settlement_date must be YYYY-MM-DD or RFC3339")
		return
	}

	res, err := h.ingestion.Upload(r.Context(), ingestion.UploadRequest{
		TenantID:       c.TenantID,
		FileName:       body.FileName,
		FileContent:    body.FileContent,
		ProviderName:   body.ProviderName,
		SettlementDate: *date,
		ColumnMapping:  body.ColumnMapping,
		UploadedBy:     c.ActorID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, res)
}

func (h *Handlers) ListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ImportFilter{
		TenantID: callerFrom(r.Context()).TenantID,
		Provider: q.Get("provider"),
		Status:   q.Get("status"),
		From:     parseTime(q.Get("from")),
		To:       parseTime(q.Get("to")),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}

	imports, total, err := h.ingestion.ListImports(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"imports": imports,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := h.ingestion.GetImport(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, imp)
}

func (h *Handlers) ListSettlementRecords(w http.ResponseWriter, r *http.Request) {
	onlyUnmatched, _ := strconv.ParseBool(r.URL.Query().Get("unmatched"))
	records, err := h.ingestion.ListRecords(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"), onlyUnmatched)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}

func (h *Handlers) MatchImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AutoMatch bool `json:"auto_match"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	res, err := h.recon.MatchImport(r.Context(), c.TenantID, chi.URLParam(r, "id"), body.AutoMatch, c.ActorID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ConfirmSettlementMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentID string `json:"payment_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	rec, err := h.recon.ConfirmMatch(r.Context(), c.TenantID, chi.URLParam(r, "id"), body.PaymentID, c.ActorID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) UnlinkSettlement(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	rec, err := h.recon.UnlinkSettlement(r.Context(), c.TenantID, chi.URLParam(r, "id"), c.ActorID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// --- reconciliation records ---

func (h *Handlers) RecordExternal(w http.ResponseWriter, r *http.Request) {
	var in reconciliation.ExternalTransaction
	if err := decodeJSON(r, &in); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	rec, created, err := h.recon.RecordExternal(r.Context(), c.TenantID, c.ActorID, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, rec)
}

func (h *Handlers) ListReconciliationRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := domain.ReconciliationStatus(q.Get("status"))
	records, err := h.recon.ListRecords(r.Context(), callerFrom(r.Context()).TenantID, status, parseIntDefault(q.Get("limit"), 100))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}

func (h *Handlers) GetReconciliationRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.recon.GetRecord(r.Context(), callerFrom(r.Context()).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) MatchRecord(w http.ResponseWriter, r *http.Request) {
	var req reconciliation.MatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	req.RecordID = chi.URLParam(r, "id")
	c := callerFrom(r.Context())
	rec, err := h.recon.Match(r.Context(), c.TenantID, c.ActorID, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) UnmatchRecord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExpectedVersion int `json:"expected_version"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	rec, err := h.recon.Unmatch(r.Context(), c.TenantID, c.ActorID, chi.URLParam(r, "id"), body.ExpectedVersion)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) ReconciliationAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := callerFrom(r.Context()).TenantID
	id := chi.URLParam(r, "id")
	if _, err := h.recon.GetRecord(r.Context(), tenantID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	events, err := h.recon.AuditTrail(r.Context(), tenantID, reconciliation.EntityReconciliationRecord, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handlers) BulkMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []reconciliation.MatchRequest `json:"items"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	c := callerFrom(r.Context())
	res, err := h.recon.BulkMatch(r.Context(), c.TenantID, c.ActorID, body.Items)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) AutoMatch(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	res, err := h.recon.AutoMatch(r.Context(), c.TenantID, c.ActorID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.recon.Suggest(r.Context(), callerFrom(r.Context()).TenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// ListPayments returns internal payments so staff can pick a match candidate.
func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payments, err := h.recon.ListPayments(r.Context(), repository.PaymentFilter{
		TenantID:  callerFrom(r.Context()).TenantID,
		BookingID: q.Get("booking_id"),
		FolioID:   q.Get("folio_id"),
		Limit:     parseIntDefault(q.Get("limit"), 100),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"payments": payments, "count": len(payments)})
}
