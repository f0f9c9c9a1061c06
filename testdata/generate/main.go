// Command generate writes deterministic demo data: a payments export used to
// seed the store and two provider settlement files to upload against it.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

const tenantID = "hotel-demo"

type payment struct {
	ID                string `json:"id"`
	BookingID         string `json:"booking_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Method            string `json:"method"`
	ProviderReference string `json:"provider_reference"`
	RRN               string `json:"rrn"`
	TerminalID        string `json:"terminal_id"`
	ApprovalCode      string `json:"approval_code"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`

	provider string
	at       time.Time
	amount   decimal.Decimal
}

type paymentsFile struct {
	TenantID string    `json:"tenant_id"`
	Payments []payment `json:"payments"`
}

func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	// Payments between 2026-03-02 and 2026-03-15.
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	terminals := []string{"T-LOBBY-1", "T-LOBBY-2", "T-SPA-1", "T-BAR-1"}
	providers := []string{"acme", "northbank"}

	var payments []payment
	for i := 1; i <= 120; i++ {
		at := start.AddDate(0, 0, rng.Intn(14)).Add(time.Duration(rng.Intn(24*60)) * time.Minute)
		// Amounts between 20.00 and 900.00.
		amount := decimal.New(int64(2000+rng.Intn(88000)), -2)
		status := "captured"
		if rng.Float64() < 0.05 {
			status = "refunded"
		}
		payments = append(payments, payment{
			ID:                fmt.Sprintf("PAY-%04d", i),
			BookingID:         fmt.Sprintf("BK-%04d", 1+rng.Intn(60)),
			Amount:            amount.StringFixed(2),
			Currency:          "USD",
			Method:            "card",
			ProviderReference: fmt.Sprintf("%06d", 100000+i),
			RRN:               fmt.Sprintf("R%011d", 40000000000+int64(i)*7),
			TerminalID:        terminals[rng.Intn(len(terminals))],
			ApprovalCode:      fmt.Sprintf("%06d", rng.Intn(1000000)),
			Status:            status,
			CreatedAt:         at.Format(time.RFC3339),
			provider:          providers[rng.Intn(len(providers))],
			at:                at,
			amount:            amount,
		})
	}

	writeJSONFile(filepath.Join(baseDir, "payments.json"), paymentsFile{TenantID: tenantID, Payments: payments})
	fmt.Printf("Generated %d payments -> payments.json\n", len(payments))

	generateAcmeCSV(rng, payments, baseDir)
	generateNorthbankCSV(rng, payments, baseDir)

	fmt.Println("Test data generation complete.")
}

// generateAcmeCSV writes a settlement file that carries STAN and RRN.
func generateAcmeCSV(rng *rand.Rand, payments []payment, baseDir string) {
	w, closeFn := newCSV(filepath.Join(baseDir, "settlement_acme.csv"))
	defer closeFn()

	w.Write([]string{"Amount", "Txn Date", "STAN", "RRN", "Terminal", "Card Type", "Last4"})
	count := 0
	for i, p := range captured(payments, "acme") {
		roll := rng.Float64()
		// 8% missing.
		if roll > 0.92 {
			continue
		}
		amount := p.amount
		// 4% amount mismatch of up to 0.99.
		if roll > 0.88 {
			amount = amount.Add(decimal.New(int64(1+rng.Intn(99)), -2))
		}
		stan := p.ProviderReference
		// First two rows are orphans with unknown references.
		if i < 2 {
			stan = fmt.Sprintf("9%05d", i+1)
		}
		w.Write([]string{
			amount.StringFixed(2),
			p.at.Format("2006-01-02"),
			stan,
			p.RRN,
			p.TerminalID,
			"VISA",
			fmt.Sprintf("%04d", rng.Intn(10000)),
		})
		count++
	}
	// One malformed row counts as failed on upload.
	w.Write([]string{"n/a", "2026-03-10", "000000", "", "", "", ""})
	fmt.Printf("Generated %d acme settlement rows -> settlement_acme.csv\n", count)
}

// generateNorthbankCSV writes a settlement file with thousands separators,
// day-first dates and approval codes instead of STAN.
func generateNorthbankCSV(rng *rand.Rand, payments []payment, baseDir string) {
	w, closeFn := newCSV(filepath.Join(baseDir, "settlement_northbank.csv"))
	defer closeFn()

	w.Write([]string{"Value Date", "Gross Amount", "Auth Code", "Retrieval Ref", "Merchant"})
	count := 0
	for _, p := range captured(payments, "northbank") {
		if rng.Float64() > 0.9 {
			continue
		}
		w.Write([]string{
			p.at.Format("02/01/2006"),
			"$" + p.amount.StringFixed(2),
			p.ApprovalCode,
			p.RRN,
			"Harbour View Hotel, Main St",
		})
		count++
	}
	fmt.Printf("Generated %d northbank settlement rows -> settlement_northbank.csv\n", count)
}

func captured(payments []payment, provider string) []payment {
	var out []payment
	for _, p := range payments {
		if p.provider == provider && p.Status == "captured" {
			out = append(out, p)
		}
	}
	return out
}

func newCSV(path string) (*csv.Writer, func()) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	w := csv.NewWriter(f)
	return w, func() {
		w.Flush()
		if err := w.Error(); err != nil {
			panic(err)
		}
		f.Close()
	}
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "./testdata"} {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "testdata"
}
