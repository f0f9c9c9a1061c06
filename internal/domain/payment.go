package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentCaptured PaymentStatus = "captured"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentVoided   PaymentStatus = "voided"
)

// Payment is an internally recorded guest payment. It is the candidate side of
// settlement and reconciliation matching.
type Payment struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	BookingID         string          `json:"booking_id,omitempty"`
	FolioID           string          `json:"folio_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	RRN               string          `json:"rrn,omitempty"`
	TerminalID        string          `json:"terminal_id,omitempty"`
	ApprovalCode      string          `json:"approval_code,omitempty"`
	Status            PaymentStatus   `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}
