package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FeeType string

const (
	FeePercentage FeeType = "percentage"
	FeeFlat       FeeType = "flat"
)

type FeeMode string

const (
	FeeInclusive FeeMode = "inclusive"
	FeeExclusive FeeMode = "exclusive"
)

type FeePayer string

const (
	PayerGuest    FeePayer = "guest"
	PayerProperty FeePayer = "property"
)

type FeeStatus string

const (
	FeePending FeeStatus = "pending"
	FeeBilled  FeeStatus = "billed"
	FeeSettled FeeStatus = "settled"
	FeeWaived  FeeStatus = "waived"
)

// Waivable reports whether an entry in this status may still be waived.
func (s FeeStatus) Waivable() bool {
	return s == FeePending || s == FeeBilled
}

// FeePolicy is the part of a fee configuration the fee formula depends on.
type FeePolicy struct {
	Rate  decimal.Decimal `json:"rate"`
	Type  FeeType         `json:"fee_type"`
	Mode  FeeMode         `json:"mode"`
	Payer FeePayer        `json:"payer"`
}

// FeeConfig is a tenant's fee policy for one service category. An empty
// ServiceCategory is the tenant default.
type FeeConfig struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ServiceCategory string    `json:"service_category"`
	Policy          FeePolicy `json:"policy"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Tenant carries the trial window used for fee exemption.
type Tenant struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	TrialDays    int        `json:"trial_days"`
	TrialEndDate *time.Time `json:"trial_end_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TrialEndsAt prefers the explicit trial end date and falls back to
// created_at + trial_days. The zero time means no trial.
func (t *Tenant) TrialEndsAt() time.Time {
	if t.TrialEndDate != nil {
		return *t.TrialEndDate
	}
	if t.TrialDays > 0 {
		return t.CreatedAt.AddDate(0, 0, t.TrialDays)
	}
	return time.Time{}
}

func (t *Tenant) InTrial(now time.Time) bool {
	end := t.TrialEndsAt()
	return !end.IsZero() && now.Before(end)
}

// FeeMetadata is the structured context stored with a fee entry.
type FeeMetadata struct {
	ServiceCategory string `json:"service_category,omitempty"`
	PaymentLocation string `json:"payment_location,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	ChargedAmount   string `json:"charged_amount,omitempty"`
}

// PlatformFeeLedgerEntry is one platform commission computation.
type PlatformFeeLedgerEntry struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	Rate          decimal.Decimal `json:"rate"`
	FeeType       FeeType         `json:"fee_type"`
	Mode          FeeMode         `json:"mode"`
	Payer         FeePayer        `json:"payer"`
	BillingCycle  string          `json:"billing_cycle"`
	Status        FeeStatus       `json:"status"`
	Metadata      FeeMetadata     `json:"metadata"`
	WaivedBy      string          `json:"waived_by,omitempty"`
	WaivedReason  string          `json:"waived_reason,omitempty"`
	ApprovalNotes string          `json:"approval_notes,omitempty"`
	WaivedAt      *time.Time      `json:"waived_at,omitempty"`
	BilledAt      *time.Time      `json:"billed_at,omitempty"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
