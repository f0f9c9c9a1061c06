package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/money"
)

// RowFailure describes one data row that could not be turned into a record.
type RowFailure struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ParseResult is the outcome of parsing one settlement file. Records carry no
// identifiers yet; the upload service assigns them.
type ParseResult struct {
	Records          []domain.SettlementRecord
	TotalRecords     int
	ProcessedRecords int
	FailedRecords    int
	Failures         []RowFailure
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02/01/2006 15:04",
}

// ParseSettlementCSV parses a provider settlement file using the given column
// mapping. The first non-blank row is the header. Rows with an unusable amount
// are counted as failed and skipped; the batch itself only fails when the file
// is empty or the mapping does not fit the header.
func ParseSettlementCSV(content string, mapping domain.ColumnMapping, settlementDate time.Time) (*ParseResult, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(content, "\ufeff")))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var header []string
	for header == nil {
		row, err := reader.Read()
		if err == io.EOF {
			return nil, domain.ErrEmptyFile
		}
		if err != nil {
			return nil, domain.Validationf("read header: %v", err)
		}
		if !blankRow(row) {
			header = trimAll(row)
		}
	}

	// A mapping that does not fit the header only matters once a data row
	// exists; a header-only file is reported as empty.
	columns, mappingErr := resolveColumns(header, mapping)

	result := &ParseResult{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("read settlement file: %w", err)
			}
			result.TotalRecords++
			result.FailedRecords++
			result.Failures = append(result.Failures, RowFailure{Line: perr.Line, Reason: perr.Err.Error()})
			continue
		}
		if blankRow(row) {
			continue
		}
		if mappingErr != nil {
			return nil, mappingErr
		}
		result.TotalRecords++
		line, _ := reader.FieldPos(0)

		rec, reason := buildRecord(header, row, columns, settlementDate)
		if reason != "" {
			result.FailedRecords++
			result.Failures = append(result.Failures, RowFailure{Line: line, Reason: reason})
			continue
		}
		result.Records = append(result.Records, *rec)
		result.ProcessedRecords++
	}

	if result.TotalRecords == 0 {
		return nil, domain.ErrEmptyFile
	}
	return result, nil
}

// resolveColumns maps each logical field to its column index. Header lookup
// ignores case and surrounding whitespace.
func resolveColumns(header []string, mapping domain.ColumnMapping) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	columns := make(map[string]int, len(mapping))
	for field, col := range mapping {
		i, ok := index[strings.ToLower(strings.TrimSpace(col))]
		if !ok {
			return nil, domain.Validationf("mapped column %q for field %q not found in header", col, field)
		}
		columns[field] = i
	}
	return columns, nil
}

func buildRecord(header, row []string, columns map[string]int, settlementDate time.Time) (*domain.SettlementRecord, string) {
	value := func(field string) string {
		i, ok := columns[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rawAmount := value(domain.FieldAmount)
	if rawAmount == "" {
		return nil, "amount is empty"
	}
	amount, err := money.Parse(rawAmount)
	if err != nil {
		return nil, err.Error()
	}
	if !amount.IsPositive() {
		return nil, fmt.Sprintf("amount %s must be positive", amount)
	}

	raw := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(row) {
			raw[h] = row[i]
		} else {
			raw[h] = ""
		}
	}

	return &domain.SettlementRecord{
		Amount:          money.Round2(amount),
		TransactionDate: parseDate(value(domain.FieldDate), settlementDate),
		STAN:            value(domain.FieldSTAN),
		RRN:             value(domain.FieldRRN),
		TerminalID:      value(domain.FieldTerminalID),
		ApprovalCode:    value(domain.FieldApprovalCode),
		CardType:        value(domain.FieldCardType),
		CardLast4:       value(domain.FieldCardLast4),
		MerchantName:    value(domain.FieldMerchantName),
		RawData:         raw,
	}, ""
}

// parseDate falls back to the settlement date when the value is missing or in
// no known layout.
func parseDate(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
