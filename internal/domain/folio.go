package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FolioType string

const (
	FolioRoom        FolioType = "room"
	FolioIncidentals FolioType = "incidentals"
	FolioCorporate   FolioType = "corporate"
	FolioGroup       FolioType = "group"
	FolioMiniBar     FolioType = "mini_bar"
	FolioSpa         FolioType = "spa"
	FolioRestaurant  FolioType = "restaurant"
)

// Prefix is the short code used in human-readable folio numbers.
func (t FolioType) Prefix() string {
	switch t {
	case FolioRoom:
		return "RM"
	case FolioIncidentals:
		return "IN"
	case FolioCorporate:
		return "CO"
	case FolioGroup:
		return "GR"
	case FolioMiniBar:
		return "MB"
	case FolioSpa:
		return "SP"
	case FolioRestaurant:
		return "RS"
	default:
		return ""
	}
}

func (t FolioType) Valid() bool {
	return t.Prefix() != ""
}

type FolioStatus string

const (
	FolioOpen   FolioStatus = "open"
	FolioClosed FolioStatus = "closed"
)

// Folio is a billable container tied to a booking.
type Folio struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	BookingID     string          `json:"booking_id"`
	FolioNumber   string          `json:"folio_number"`
	FolioType     FolioType       `json:"folio_type"`
	IsPrimary     bool            `json:"is_primary"`
	ParentFolioID string          `json:"parent_folio_id,omitempty"`
	Status        FolioStatus     `json:"status"`
	TotalCharges  decimal.Decimal `json:"total_charges"`
	TotalPayments decimal.Decimal `json:"total_payments"`
	Balance       decimal.Decimal `json:"balance"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

func (f *Folio) IsOpen() bool {
	return f.Status == FolioOpen
}

// SetTotals replaces the running totals and recomputes the balance.
func (f *Folio) SetTotals(charges, payments decimal.Decimal) {
	f.TotalCharges = charges
	f.TotalPayments = payments
	f.Balance = charges.Sub(payments)
}

type TransactionKind string

const (
	KindCharge      TransactionKind = "charge"
	KindPayment     TransactionKind = "payment"
	KindTransferOut TransactionKind = "transfer_out"
	KindTransferIn  TransactionKind = "transfer_in"
	KindSplitOut    TransactionKind = "split_out"
	KindSplitIn     TransactionKind = "split_in"
)

// ChargeSign is +1 for lines that add to total charges, -1 for lines that
// remove from them and 0 for payments.
func (k TransactionKind) ChargeSign() int {
	switch k {
	case KindCharge, KindTransferIn, KindSplitIn:
		return 1
	case KindTransferOut, KindSplitOut:
		return -1
	default:
		return 0
	}
}

// IsChargeLike reports whether a line can be the source of a transfer or split.
func (k TransactionKind) IsChargeLike() bool {
	return k.ChargeSign() > 0
}

// FolioTransaction is one line on a folio. Lines are never edited; transfers
// and splits only advance TransferredAmount on the original line.
type FolioTransaction struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id"`
	FolioID             string          `json:"folio_id"`
	Kind                TransactionKind `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	TransferredAmount   decimal.Decimal `json:"transferred_amount"`
	Description         string          `json:"description"`
	ReferenceType       string          `json:"reference_type,omitempty"`
	ReferenceID         string          `json:"reference_id,omitempty"`
	Department          string          `json:"department,omitempty"`
	LinkedTransactionID string          `json:"linked_transaction_id,omitempty"`
	MergedFromFolioID   string          `json:"merged_from_folio_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Remaining is the part of a charge that has not been moved to another folio.
func (t *FolioTransaction) Remaining() decimal.Decimal {
	return t.Amount.Sub(t.TransferredAmount)
}

type PostCheckoutReason string

const (
	ReasonLatePayment    PostCheckoutReason = "late_payment"
	ReasonCorrection     PostCheckoutReason = "correction"
	ReasonAdjustment     PostCheckoutReason = "adjustment"
	ReasonRefundReversal PostCheckoutReason = "refund_reversal"
)

func (r PostCheckoutReason) Valid() bool {
	switch r {
	case ReasonLatePayment, ReasonCorrection, ReasonAdjustment, ReasonRefundReversal:
		return true
	}
	return false
}

// PostCheckoutLedgerEntry records a payment received after its folio closed.
type PostCheckoutLedgerEntry struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	FolioID    string             `json:"folio_id"`
	BookingID  string             `json:"booking_id"`
	GuestID    string             `json:"guest_id,omitempty"`
	PaymentID  string             `json:"payment_id"`
	Amount     decimal.Decimal    `json:"amount"`
	Reason     PostCheckoutReason `json:"reason"`
	Notes      string             `json:"notes,omitempty"`
	RecordedBy string             `json:"recorded_by"`
	CreatedAt  time.Time          `json:"created_at"`
}
