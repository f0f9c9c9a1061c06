package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

// SettlementImport is one uploaded provider settlement file.
type SettlementImport struct {
	ID               string       `json:"id"`
	TenantID         string       `json:"tenant_id"`
	FileName         string       `json:"file_name"`
	FileSize         int64        `json:"file_size"`
	FileHash         string       `json:"file_hash"`
	ProviderName     string       `json:"provider_name"`
	SettlementDate   time.Time    `json:"settlement_date"`
	UploadedBy       string       `json:"uploaded_by"`
	TotalRecords     int          `json:"total_records"`
	FailedRecords    int          `json:"failed_records"`
	MatchedRecords   int          `json:"matched_records"`
	UnmatchedRecords int          `json:"unmatched_records"`
	Status           ImportStatus `json:"status"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

type MatchConfidence string

const (
	ConfidenceExact    MatchConfidence = "exact"
	ConfidenceProbable MatchConfidence = "probable"
	ConfidenceManual   MatchConfidence = "manual"
)

// SettlementRecord is one parsed row of a settlement file. LedgerEntryID holds
// the internal payment it was matched to.
type SettlementRecord struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	ImportID        string            `json:"import_id"`
	Amount          decimal.Decimal   `json:"amount"`
	TransactionDate time.Time         `json:"transaction_date"`
	STAN            string            `json:"stan,omitempty"`
	RRN             string            `json:"rrn,omitempty"`
	TerminalID      string            `json:"terminal_id,omitempty"`
	ApprovalCode    string            `json:"approval_code,omitempty"`
	CardType        string            `json:"card_type,omitempty"`
	CardLast4       string            `json:"card_last4,omitempty"`
	MerchantName    string            `json:"merchant_name,omitempty"`
	RawData         map[string]string `json:"raw_data"`
	LedgerEntryID   string            `json:"ledger_entry_id,omitempty"`
	MatchedAt       *time.Time        `json:"matched_at,omitempty"`
	MatchConfidence MatchConfidence   `json:"match_confidence,omitempty"`
	MatchScore      int               `json:"match_score,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (r *SettlementRecord) IsMatched() bool {
	return r.LedgerEntryID != ""
}

// Logical settlement columns a provider file can be mapped onto.
const (
	FieldAmount       = "amount"
	FieldDate         = "date"
	FieldSTAN         = "stan"
	FieldRRN          = "rrn"
	FieldTerminalID   = "terminal_id"
	FieldApprovalCode = "approval_code"
	FieldCardType     = "card_type"
	FieldCardLast4    = "card_last4"
	FieldMerchantName = "merchant_name"
)

// MappingFields lists every logical field accepted in a ColumnMapping.
var MappingFields = []string{
	FieldAmount, FieldDate, FieldSTAN, FieldRRN, FieldTerminalID,
	FieldApprovalCode, FieldCardType, FieldCardLast4, FieldMerchantName,
}

// ColumnMapping maps logical fields to the provider file's column headers.
type ColumnMapping map[string]string

// Validate checks that only known logical fields are mapped and that the
// amount column is present.
func (m ColumnMapping) Validate() error {
	if len(m) == 0 {
		return Validationf("column mapping is required")
	}
	known := make(map[string]bool, len(MappingFields))
	for _, f := range MappingFields {
		known[f] = true
	}
	for field, header := range m {
		if !known[field] {
			return Validationf("unknown mapping field %q", field)
		}
		if header == "" {
			return Validationf("mapping field %q has an empty column header", field)
		}
	}
	if m[FieldAmount] == "" {
		return Validationf("column mapping must include %q", FieldAmount)
	}
	return nil
}
