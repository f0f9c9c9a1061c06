package ingestion

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/money"
)

// paymentsFile is the JSON export of internally recorded payments used to seed
// the matcher's candidate pool.
type paymentsFile struct {
	TenantID string         `json:"tenant_id"`
	Payments []paymentEntry `json:"payments"`
}

type paymentEntry struct {
	ID                string `json:"id"`
	BookingID         string `json:"booking_id"`
	FolioID           string `json:"folio_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Method            string `json:"method"`
	ProviderReference string `json:"provider_reference"`
	RRN               string `json:"rrn"`
	TerminalID        string `json:"terminal_id"`
	ApprovalCode      string `json:"approval_code"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`
}

// ParsePaymentsJSON decodes a payments export. tenantID overrides the tenant in
// the file when set.
func ParsePaymentsJSON(data []byte, tenantID string) ([]domain.Payment, error) {
	var file paymentsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, domain.Validationf("decode payments file: %v", err)
	}
	if tenantID == "" {
		tenantID = file.TenantID
	}
	if tenantID == "" {
		return nil, domain.Validationf("payments file has no tenant_id")
	}

	payments := make([]domain.Payment, 0, len(file.Payments))
	for i, entry := range file.Payments {
		amount, err := money.Parse(entry.Amount)
		if err != nil {
			return nil, domain.Validationf("payment %d: %v", i, err)
		}

		createdAt, err := time.Parse(time.RFC3339, entry.CreatedAt)
		if err != nil {
			createdAt, err = time.Parse("2006-01-02 15:04:05", entry.CreatedAt)
			if err != nil {
				return nil, domain.Validationf("payment %d created_at: %v", i, err)
			}
		}

		currency := strings.ToUpper(entry.Currency)
		if currency == "" {
			currency = "USD"
		}
		rounded, err := money.Round(amount, currency)
		if err != nil {
			return nil, domain.Validationf("payment %d: %v", i, err)
		}

		status := domain.PaymentStatus(entry.Status)
		if status == "" {
			status = domain.PaymentCaptured
		}
		id := entry.ID
		if id == "" {
			id = uuid.NewString()
		}

		payments = append(payments, domain.Payment{
			ID:                id,
			TenantID:          tenantID,
			BookingID:         entry.BookingID,
			FolioID:           entry.FolioID,
			Amount:            rounded,
			Currency:          currency,
			Method:            orDefault(entry.Method, "card"),
			ProviderReference: entry.ProviderReference,
			RRN:               entry.RRN,
			TerminalID:        entry.TerminalID,
			ApprovalCode:      entry.ApprovalCode,
			Status:            status,
			CreatedAt:         createdAt.UTC(),
		})
	}
	return payments, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
