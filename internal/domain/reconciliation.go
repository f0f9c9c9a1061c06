package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconUnmatched ReconciliationStatus = "unmatched"
	ReconMatched   ReconciliationStatus = "matched"
	ReconPartial   ReconciliationStatus = "partial"
	ReconOverpaid  ReconciliationStatus = "overpaid"
)

type ReconciliationSource string

const (
	SourceAPI ReconciliationSource = "api"
	SourceCSV ReconciliationSource = "csv"
)

// ReconciliationRecord correlates one externally reported transaction with an
// internal payment. Status is matched exactly when InternalTxnID and
// ReconciledAt are both set.
type ReconciliationRecord struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenant_id"`
	Reference       string               `json:"reference"`
	Amount          decimal.Decimal      `json:"amount"`
	ExpectedAmount  decimal.NullDecimal  `json:"expected_amount"`
	Status          ReconciliationStatus `json:"status"`
	InternalTxnID   string               `json:"internal_txn_id,omitempty"`
	MatchedBy       string               `json:"matched_by,omitempty"`
	ReconciledAt    *time.Time           `json:"reconciled_at,omitempty"`
	Source          ReconciliationSource `json:"source"`
	TransactionDate time.Time            `json:"transaction_date"`
	RawPayload      json.RawMessage      `json:"raw_payload,omitempty"`
	Version         int                  `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// InitialStatus derives the pre-match status from the provider's expected
// amount, if one was reported.
func (r *ReconciliationRecord) InitialStatus() ReconciliationStatus {
	if !r.ExpectedAmount.Valid {
		return ReconUnmatched
	}
	switch r.Amount.Cmp(r.ExpectedAmount.Decimal) {
	case -1:
		return ReconPartial
	case 1:
		return ReconOverpaid
	default:
		return ReconUnmatched
	}
}

type ReferenceConfidence string

const (
	ReferenceHigh   ReferenceConfidence = "high"
	ReferenceMedium ReferenceConfidence = "medium"
	ReferenceLow    ReferenceConfidence = "low"
)

// AuditEvent is an append-only record of a state transition.
type AuditEvent struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	BeforeRef  string    `json:"before_ref,omitempty"`
	AfterRef   string    `json:"after_ref,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
