package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
)

type SettlementRepo struct {
	db DBTX
}

func NewSettlementRepo(db DBTX) *SettlementRepo {
	return &SettlementRepo{db: db}
}

const importColumns = `id, tenant_id, file_name, file_size, file_hash, provider_name, settlement_date,
	uploaded_by, total_records, failed_records, matched_records, unmatched_records, status,
	error_message, created_at, completed_at`

const recordColumns = `id, tenant_id, import_id, amount, transaction_date, stan, rrn, terminal_id,
	approval_code, card_type, card_last4, merchant_name, raw_data, ledger_entry_id, matched_at,
	match_confidence, match_score, created_at`

// FindCompletedImportByHash returns a completed import of identical content for
// the tenant, or nil when none exists (idempotency check).
func (r *SettlementRepo) FindCompletedImportByHash(ctx context.Context, tenantID, hash string) (*domain.SettlementImport, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+importColumns+" FROM settlement_imports WHERE tenant_id = ? AND file_hash = ? AND status = ? ORDER BY created_at LIMIT 1",
		tenantID, hash, string(domain.ImportCompleted),
	)
	imp, err := scanImport(row)
	if notFound(err) {
		return nil, nil
	}
	return imp, err
}

func (r *SettlementRepo) InsertImport(ctx context.Context, imp *domain.SettlementImport) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlement_imports (`+importColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		imp.ID, imp.TenantID, imp.FileName, imp.FileSize, imp.FileHash, imp.ProviderName,
		formatTime(imp.SettlementDate), imp.UploadedBy, imp.TotalRecords, imp.FailedRecords,
		imp.MatchedRecords, imp.UnmatchedRecords, string(imp.Status), imp.ErrorMessage,
		formatTime(imp.CreatedAt), formatNullableTime(imp.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert import: %w", err)
	}
	return nil
}

// FinishImport moves a processing import to completed or failed. Imports that
// already left the processing state are not touched.
func (r *SettlementRepo) FinishImport(ctx context.Context, imp *domain.SettlementImport) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_imports
		SET status = ?, total_records = ?, failed_records = ?, unmatched_records = ?,
			error_message = ?, completed_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(imp.Status), imp.TotalRecords, imp.FailedRecords, imp.UnmatchedRecords,
		imp.ErrorMessage, formatNullableTime(imp.CompletedAt),
		imp.TenantID, imp.ID, string(domain.ImportProcessing),
	)
	if err != nil {
		return fmt.Errorf("finish import: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.InvalidStatef("import %s is no longer processing", imp.ID)
	}
	return nil
}

// UpdateMatchCounts refreshes the matcher-owned counters of an import.
func (r *SettlementRepo) UpdateMatchCounts(ctx context.Context, tenantID, importID string, matched, unmatched int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE settlement_imports SET matched_records = ?, unmatched_records = ? WHERE tenant_id = ? AND id = ?",
		matched, unmatched, tenantID, importID,
	)
	if err != nil {
		return fmt.Errorf("update match counts: %w", err)
	}
	return nil
}

func (r *SettlementRepo) GetImport(ctx context.Context, tenantID, id string) (*domain.SettlementImport, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+importColumns+" FROM settlement_imports WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	imp, err := scanImport(row)
	if notFound(err) {
		return nil, domain.NotFoundf("settlement import %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	return imp, nil
}

type ImportFilter struct {
	TenantID string
	Provider string
	Status   string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

func (r *SettlementRepo) ListImports(ctx context.Context, f ImportFilter) ([]domain.SettlementImport, int, error) {
	where, args := buildImportWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settlement_imports"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count imports: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT " + importColumns + " FROM settlement_imports" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var imports []domain.SettlementImport
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, 0, err
		}
		imports = append(imports, *imp)
	}
	return imports, total, rows.Err()
}

func buildImportWhere(f ImportFilter) (string, []any) {
	clauses := []string{"tenant_id = ?"}
	args := []any{f.TenantID}

	if f.Provider != "" {
		clauses = append(clauses, "provider_name = ?")
		args = append(args, f.Provider)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		clauses = append(clauses, "settlement_date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "settlement_date <= ?")
		args = append(args, formatTime(*f.To))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *SettlementRepo) InsertRecords(ctx context.Context, records []domain.SettlementRecord) (int, error) {
	inserted := 0
	for i := range records {
		rec := &records[i]
		raw, err := json.Marshal(rec.RawData)
		if err != nil {
			return inserted, fmt.Errorf("encode raw row %d: %w", i, err)
		}
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO settlement_records (`+recordColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			rec.ID, rec.TenantID, rec.ImportID, rec.Amount.String(), formatTime(rec.TransactionDate),
			rec.STAN, rec.RRN, rec.TerminalID, rec.ApprovalCode, rec.CardType, rec.CardLast4,
			rec.MerchantName, string(raw), nullableString(rec.LedgerEntryID),
			formatNullableTime(rec.MatchedAt), string(rec.MatchConfidence), rec.MatchScore,
			formatTime(rec.CreatedAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert record %d: %w", i, err)
		}
		inserted++
	}
	return inserted, nil
}

func (r *SettlementRepo) GetRecord(ctx context.Context, tenantID, id string) (*domain.SettlementRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM settlement_records WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	rec, err := scanSettlementRecord(row)
	if notFound(err) {
		return nil, domain.NotFoundf("settlement record %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement record: %w", err)
	}
	return rec, nil
}

// ListRecordsByImport returns the records of one import in file order. With
// onlyUnmatched set, records already linked to a payment are skipped.
func (r *SettlementRepo) ListRecordsByImport(ctx context.Context, tenantID, importID string, onlyUnmatched bool) ([]domain.SettlementRecord, error) {
	q := "SELECT " + recordColumns + " FROM settlement_records WHERE tenant_id = ? AND import_id = ?"
	if onlyUnmatched {
		q += " AND ledger_entry_id IS NULL"
	}
	q += " ORDER BY rowid"

	rows, err := r.db.QueryContext(ctx, q, tenantID, importID)
	if err != nil {
		return nil, fmt.Errorf("list settlement records: %w", err)
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlementRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountMatches returns matched and unmatched record counts for an import.
func (r *SettlementRepo) CountMatches(ctx context.Context, tenantID, importID string) (matched, unmatched int, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN ledger_entry_id IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ledger_entry_id IS NULL THEN 1 ELSE 0 END), 0)
		FROM settlement_records WHERE tenant_id = ? AND import_id = ?`,
		tenantID, importID,
	).Scan(&matched, &unmatched)
	if err != nil {
		return 0, 0, fmt.Errorf("count matches: %w", err)
	}
	return matched, unmatched, nil
}

// SetMatch links a record to a payment. It only succeeds on a record that is
// still unmatched.
func (r *SettlementRepo) SetMatch(ctx context.Context, tenantID, recordID, paymentID string, confidence domain.MatchConfidence, score int, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlement_records
		SET ledger_entry_id = ?, matched_at = ?, match_confidence = ?, match_score = ?
		WHERE tenant_id = ? AND id = ? AND ledger_entry_id IS NULL`,
		paymentID, formatTime(at), string(confidence), score, tenantID, recordID,
	)
	if err != nil {
		return fmt.Errorf("set match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: settlement record %s is already matched", domain.ErrConflict, recordID)
	}
	return nil
}

func (r *SettlementRepo) ClearMatch(ctx context.Context, tenantID, recordID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE settlement_records
		SET ledger_entry_id = NULL, matched_at = NULL, match_confidence = '', match_score = 0
		WHERE tenant_id = ? AND id = ?`,
		tenantID, recordID,
	)
	if err != nil {
		return fmt.Errorf("clear match: %w", err)
	}
	return nil
}

// PaymentClaimed reports whether any settlement record already points at the
// payment.
func (r *SettlementRepo) PaymentClaimed(ctx context.Context, tenantID, paymentID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM settlement_records WHERE tenant_id = ? AND ledger_entry_id = ?",
		tenantID, paymentID,
	).Scan(&count)
	return count > 0, err
}

func (r *SettlementRepo) SaveMapping(ctx context.Context, tenantID, provider string, mapping domain.ColumnMapping, at time.Time) error {
	raw, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO settlement_column_mappings (tenant_id, provider_name, mapping, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(tenant_id, provider_name) DO UPDATE SET mapping = excluded.mapping, updated_at = excluded.updated_at`,
		tenantID, provider, string(raw), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}

// GetMapping returns the saved mapping for a provider, or nil if none exists.
func (r *SettlementRepo) GetMapping(ctx context.Context, tenantID, provider string) (domain.ColumnMapping, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		"SELECT mapping FROM settlement_column_mappings WHERE tenant_id = ? AND provider_name = ?",
		tenantID, provider,
	).Scan(&raw)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	var m domain.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImport(row rowScanner) (*domain.SettlementImport, error) {
	var imp domain.SettlementImport
	var status, settleDate, createdAt string
	var completedAt sql.NullString

	err := row.Scan(
		&imp.ID, &imp.TenantID, &imp.FileName, &imp.FileSize, &imp.FileHash, &imp.ProviderName,
		&settleDate, &imp.UploadedBy, &imp.TotalRecords, &imp.FailedRecords, &imp.MatchedRecords,
		&imp.UnmatchedRecords, &status, &imp.ErrorMessage, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	imp.Status = domain.ImportStatus(status)
	imp.SettlementDate = parseTime(settleDate)
	imp.CreatedAt = parseTime(createdAt)
	imp.CompletedAt = parseNullableTime(completedAt)
	return &imp, nil
}

func scanSettlementRecord(row rowScanner) (*domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	var txnDate, raw, confidence, createdAt string
	var ledgerID, matchedAt sql.NullString

	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.ImportID, &rec.Amount, &txnDate, &rec.STAN, &rec.RRN,
		&rec.TerminalID, &rec.ApprovalCode, &rec.CardType, &rec.CardLast4, &rec.MerchantName,
		&raw, &ledgerID, &matchedAt, &confidence, &rec.MatchScore, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.TransactionDate = parseTime(txnDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.MatchedAt = parseNullableTime(matchedAt)
	rec.MatchConfidence = domain.MatchConfidence(confidence)
	if ledgerID.Valid {
		rec.LedgerEntryID = ledgerID.String
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.RawData); err != nil {
			return nil, fmt.Errorf("decode raw row %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
