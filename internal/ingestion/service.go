package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
)

// UploadRequest is one settlement file submitted by staff.
type UploadRequest struct {
	TenantID       string               `json:"tenant_id"`
	FileName       string               `json:"file_name"`
	FileContent    string               `json:"file_content"`
	ProviderName   string               `json:"provider_name"`
	SettlementDate time.Time            `json:"settlement_date"`
	ColumnMapping  domain.ColumnMapping `json:"column_mapping"`
	UploadedBy     string               `json:"uploaded_by"`
}

// UploadResult is returned from an upload. Duplicate is set when identical
// content was already imported for the tenant; the earlier import is returned.
type UploadResult struct {
	ImportID         string              `json:"import_id"`
	Status           domain.ImportStatus `json:"status"`
	TotalRecords     int                 `json:"total_records"`
	ProcessedRecords int                 `json:"processed_records"`
	FailedRecords    int                 `json:"failed_records"`
	Failures         []RowFailure        `json:"failures,omitempty"`
	Duplicate        bool                `json:"duplicate"`
}

// Service handles settlement file uploads.
type Service struct {
	store *repository.Store
	log   *zap.Logger
	nowFn func() time.Time
}

func NewService(store *repository.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, nowFn: time.Now}
}

// Upload parses a settlement file, persists the import with its records and
// saves the column mapping for the provider.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := validateUpload(&req); err != nil {
		return nil, err
	}

	mapping := req.ColumnMapping
	if len(mapping) == 0 {
		saved, err := s.store.Settlements.GetMapping(ctx, req.TenantID, req.ProviderName)
		if err != nil {
			return nil, err
		}
		if saved == nil {
			return nil, domain.Validationf("no column mapping supplied and none saved for provider %q", req.ProviderName)
		}
		mapping = saved
	}

	// Idempotency check via file hash.
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(req.FileContent)))
	existing, err := s.store.Settlements.FindCompletedImportByHash(ctx, req.TenantID, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if existing != nil {
		s.log.Info("duplicate settlement upload",
			zap.String("tenant_id", req.TenantID),
			zap.String("import_id", existing.ID),
			zap.String("file_name", req.FileName),
		)
		return &UploadResult{
			ImportID:         existing.ID,
			Status:           existing.Status,
			TotalRecords:     existing.TotalRecords,
			ProcessedRecords: existing.TotalRecords - existing.FailedRecords,
			FailedRecords:    existing.FailedRecords,
			Duplicate:        true,
		}, nil
	}

	parsed, err := ParseSettlementCSV(req.FileContent, mapping, req.SettlementDate)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()
	imp := &domain.SettlementImport{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		FileName:       req.FileName,
		FileSize:       int64(len(req.FileContent)),
		FileHash:       hash,
		ProviderName:   req.ProviderName,
		SettlementDate: req.SettlementDate,
		UploadedBy:     req.UploadedBy,
		Status:         domain.ImportProcessing,
		CreatedAt:      now,
	}
	if err := s.store.Settlements.InsertImport(ctx, imp); err != nil {
		return nil, err
	}

	records := parsed.Records
	for i := range records {
		records[i].ID = uuid.NewString()
		records[i].TenantID = req.TenantID
		records[i].ImportID = imp.ID
		records[i].CreatedAt = now
	}

	imp.TotalRecords = parsed.TotalRecords
	imp.FailedRecords = parsed.FailedRecords
	imp.UnmatchedRecords = parsed.ProcessedRecords

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		if _, err := tx.Settlements.InsertRecords(ctx, records); err != nil {
			return err
		}
		if err := tx.Settlements.SaveMapping(ctx, req.TenantID, req.ProviderName, mapping, now); err != nil {
			return err
		}
		completed := s.nowFn().UTC()
		imp.Status = domain.ImportCompleted
		imp.CompletedAt = &completed
		return tx.Settlements.FinishImport(ctx, imp)
	})
	if err != nil {
		s.failImport(ctx, imp, err)
		return nil, fmt.Errorf("store settlement import %s: %w", imp.ID, err)
	}

	s.log.Info("settlement import completed",
		zap.String("tenant_id", req.TenantID),
		zap.String("import_id", imp.ID),
		zap.String("provider", req.ProviderName),
		zap.Int("total", parsed.TotalRecords),
		zap.Int("processed", parsed.ProcessedRecords),
		zap.Int("failed", parsed.FailedRecords),
	)

	return &UploadResult{
		ImportID:         imp.ID,
		Status:           imp.Status,
		TotalRecords:     parsed.TotalRecords,
		ProcessedRecords: parsed.ProcessedRecords,
		FailedRecords:    parsed.FailedRecords,
		Failures:         parsed.Failures,
	}, nil
}

func (s *Service) failImport(ctx context.Context, imp *domain.SettlementImport, cause error) {
	failedAt := s.nowFn().UTC()
	imp.Status = domain.ImportFailed
	imp.ErrorMessage = cause.Error()
	imp.CompletedAt = &failedAt
	imp.UnmatchedRecords = 0
	if err := s.store.Settlements.FinishImport(ctx, imp); err != nil {
		s.log.Error("mark import failed", zap.String("import_id", imp.ID), zap.Error(err))
		return
	}
	s.log.Warn("settlement import failed", zap.String("import_id", imp.ID), zap.Error(cause))
}

func validateUpload(req *UploadRequest) error {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.FileName = strings.TrimSpace(req.FileName)
	req.ProviderName = strings.TrimSpace(req.ProviderName)
	req.UploadedBy = strings.TrimSpace(req.UploadedBy)

	var missing []string
	if req.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if req.FileName == "" {
		missing = append(missing, "file_name")
	}
	if req.ProviderName == "" {
		missing = append(missing, "provider_name")
	}
	if req.UploadedBy == "" {
		missing = append(missing, "uploaded_by")
	}
	if req.SettlementDate.IsZero() {
		missing = append(missing, "settlement_date")
	}
	if len(missing) > 0 {
		return domain.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(req.FileContent) == "" {
		return domain.ErrEmptyFile
	}
	return nil
}

func (s *Service) GetImport(ctx context.Context, tenantID, id string) (*domain.SettlementImport, error) {
	return s.store.Settlements.GetImport(ctx, tenantID, id)
}

func (s *Service) ListImports(ctx context.Context, f repository.ImportFilter) ([]domain.SettlementImport, int, error) {
	return s.store.Settlements.ListImports(ctx, f)
}

// ListRecords returns the records of an import after checking the import
// belongs to the tenant.
func (s *Service) ListRecords(ctx context.Context, tenantID, importID string, onlyUnmatched bool) ([]domain.SettlementRecord, error) {
	if _, err := s.store.Settlements.GetImport(ctx, tenantID, importID); err != nil {
		return nil, err
	}
	return s.store.Settlements.ListRecordsByImport(ctx, tenantID, importID, onlyUnmatched)
}

// ImportPayments loads a payments export into the store. Payments that already
// exist are skipped.
func (s *Service) ImportPayments(ctx context.Context, data []byte, tenantID string) (inserted, skipped int, err error) {
	payments, err := ParsePaymentsJSON(data, tenantID)
	if err != nil {
		return 0, 0, err
	}
	for i := range payments {
		err := s.store.Payments.Insert(ctx, &payments[i])
		if errors.Is(err, domain.ErrConflict) {
			skipped++
			continue
		}
		if err != nil {
			return inserted, skipped, err
		}
		inserted++
	}
	s.log.Info("payments imported", zap.Int("inserted", inserted), zap.Int("skipped", skipped))
	return inserted, skipped, nil
}
