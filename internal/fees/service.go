package fees

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
)

// RolePlatformAdmin is the only caller role allowed to waive fees.
const RolePlatformAdmin = "platform_admin"

// Reasons reported when no fee entry is written.
const (
	ReasonNoActiveConfig     = "no_active_config"
	ReasonTrialExempt        = "trial_exempt"
	ReasonUnsupportedFeeMode = "unsupported_fee_mode"
)

const (
	defaultReferenceType = "service_request"
	entityFeeEntry       = "platform_fee_entry"
	billingCycleLayout   = "2006-01"
)

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

type RecordRequest struct {
	RequestID       string          `json:"request_id"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ServiceCategory string          `json:"service_category"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentLocation string          `json:"payment_location,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
}

// RecordResult reports either the ledger entry for the request or, with
// Applicable false, the reason no fee applies.
type RecordResult struct {
	Applicable    bool            `json:"applicable"`
	Reason        string          `json:"reason,omitempty"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	Duplicate     bool            `json:"duplicate,omitempty"`
}

// Record computes and stores the platform fee for one charged request. A
// second call for the same reference returns the existing entry.
func (s *Service) Record(ctx context.Context, tenantID string, req RecordRequest) (*RecordResult, error) {
	req.RequestID = strings.TrimSpace(req.RequestID)
	if tenantID == "" {
		return nil, domain.Validationf("tenant_id is required")
	}
	if req.RequestID == "" {
		return nil, domain.Validationf("request_id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Validationf("amount %s must be positive", req.Amount.String())
	}
	if req.ReferenceType == "" {
		req.ReferenceType = defaultReferenceType
	}

	log := s.log.With(
		zap.String("tenant_id", tenantID),
		zap.String("reference_type", req.ReferenceType),
		zap.String("reference_id", req.RequestID),
	)

	existing, err := s.store.Fees.GetEntryByReference(ctx, tenantID, req.ReferenceType, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return entryResult(existing, true), nil
	}

	now := s.nowFn().UTC()
	tenant, err := s.store.Tenants.GetByID(ctx, tenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		tenant = nil
	case err != nil:
		return nil, err
	}
	if tenant != nil && tenant.InTrial(now) {
		log.Info("fee skipped", zap.String("reason", ReasonTrialExempt))
		return notApplicable(ReasonTrialExempt), nil
	}

	cfg, err := s.store.Fees.ActiveConfig(ctx, tenantID, req.ServiceCategory)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		log.Info("fee skipped", zap.String("reason", ReasonNoActiveConfig))
		return notApplicable(ReasonNoActiveConfig), nil
	}

	b, err := Calculate(req.Amount, cfg.Policy)
	if errors.Is(err, ErrNotApplicable) {
		log.Warn("fee skipped", zap.String("reason", ReasonUnsupportedFeeMode), zap.Error(err))
		return notApplicable(ReasonUnsupportedFeeMode), nil
	}
	if err != nil {
		return nil, err
	}

	entry := &domain.PlatformFeeLedgerEntry{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.RequestID,
		BaseAmount:    b.BaseAmount,
		FeeAmount:     b.FeeAmount,
		Rate:          cfg.Policy.Rate,
		FeeType:       cfg.Policy.Type,
		Mode:          cfg.Policy.Mode,
		Payer:         cfg.Policy.Payer,
		BillingCycle:  now.Format(billingCycleLayout),
		Status:        domain.FeePending,
		Metadata: domain.FeeMetadata{
			ServiceCategory: req.ServiceCategory,
			PaymentLocation: req.PaymentLocation,
			PaymentMethod:   req.PaymentMethod,
			ChargedAmount:   req.Amount.StringFixed(2),
		},
		CreatedAt: now,
	}
	if err := s.store.Fees.InsertEntry(ctx, entry); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		// lost a race with a concurrent call for the same reference
		existing, getErr := s.store.Fees.GetEntryByReference(ctx, tenantID, req.ReferenceType, req.RequestID)
		if getErr != nil || existing == nil {
			return nil, err
		}
		return entryResult(existing, true), nil
	}

	log.Info("fee recorded",
		zap.String("entry_id", entry.ID),
		zap.String("base_amount", entry.BaseAmount.StringFixed(2)),
		zap.String("fee_amount", entry.FeeAmount.StringFixed(2)),
		zap.String("billing_cycle", entry.BillingCycle),
	)
	return entryResult(entry, false), nil
}

type WaiveRequest struct {
	LedgerIDs     []string `json:"ledger_ids"`
	WaivedReason  string   `json:"waived_reason"`
	ApprovalNotes string   `json:"approval_notes,omitempty"`
}

type WaiveResult struct {
	WaivedCount       int             `json:"waived_count"`
	TotalWaivedAmount decimal.Decimal `json:"total_waived_amount"`
}

// Waive moves every listed entry to waived. Either all entries change or
// none do: an unknown id or an entry that is already settled or waived fails
// the whole call.
func (s *Service) Waive(ctx context.Context, tenantID, actor, role string, req WaiveRequest) (*WaiveResult, error) {
	if role != RolePlatformAdmin {
		return nil, fmt.Errorf("%w: waiving fees requires role %s", domain.ErrForbidden, RolePlatformAdmin)
	}
	reason := strings.TrimSpace(req.WaivedReason)
	if reason == "" {
		return nil, domain.Validationf("waived_reason is required")
	}
	ids := uniqueIDs(req.LedgerIDs)
	if len(ids) == 0 {
		return nil, domain.Validationf("ledger_ids must not be empty")
	}
	actor = actorOrSystem(actor)

	res := &WaiveResult{TotalWaivedAmount: decimal.Zero}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		entries, err := tx.Fees.GetEntries(ctx, tenantID, ids)
		if err != nil {
			return err
		}
		if len(entries) != len(ids) {
			return domain.NotFoundf("%s", missingIDs(ids, entries))
		}
		for _, e := range entries {
			if !e.Status.Waivable() {
				return domain.InvalidStatef("fee entry %s is %s and cannot be waived", e.ID, e.Status)
			}
		}

		now := s.nowFn().UTC()
		for _, e := range entries {
			ok, err := tx.Fees.Waive(ctx, tenantID, e.ID, actor, reason, req.ApprovalNotes, now)
			if err != nil {
				return err
			}
			if !ok {
				return domain.InvalidStatef("fee entry %s changed state while waiving", e.ID)
			}
			if err := tx.Audit.Append(ctx, &domain.AuditEvent{
				ID:         uuid.NewString(),
				TenantID:   tenantID,
				Actor:      actor,
				Action:     "fee.waive",
				EntityType: entityFeeEntry,
				EntityID:   e.ID,
				BeforeRef:  string(e.Status),
				AfterRef:   string(domain.FeeWaived),
				Detail:     reason,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			res.WaivedCount++
			res.TotalWaivedAmount = res.TotalWaivedAmount.Add(e.FeeAmount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fees waived",
		zap.String("tenant_id", tenantID),
		zap.String("actor", actor),
		zap.Int("count", res.WaivedCount),
		zap.String("total", res.TotalWaivedAmount.StringFixed(2)),
	)
	return res, nil
}

// MarkBilled moves every pending entry of a billing cycle (YYYY-MM) to billed
// and returns how many changed.
func (s *Service) MarkBilled(ctx context.Context, tenantID, cycle string) (int64, error) {
	if _, err := time.Parse(billingCycleLayout, cycle); err != nil {
		return 0, domain.Validationf("billing_cycle %q must be YYYY-MM", cycle)
	}
	n, err := s.store.Fees.MarkBilled(ctx, tenantID, cycle, s.nowFn().UTC())
	if err != nil {
		return 0, err
	}
	s.log.Info("fees billed",
		zap.String("tenant_id", tenantID),
		zap.String("billing_cycle", cycle),
		zap.Int64("count", n),
	)
	return n, nil
}

// MarkSettled moves billed entries to settled. Every id must be billed or the
// call fails without changing anything.
func (s *Service) MarkSettled(ctx context.Context, tenantID string, ids []string) (int, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, domain.Validationf("ids must not be empty")
	}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		now := s.nowFn().UTC()
		for _, id := range ids {
			ok, err := tx.Fees.MarkSettled(ctx, tenantID, id, now)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			e, err := tx.Fees.GetEntry(ctx, tenantID, id)
			if err != nil {
				return err
			}
			return domain.InvalidStatef("fee entry %s is %s; only billed entries can be settled", id, e.Status)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("fees settled", zap.String("tenant_id", tenantID), zap.Int("count", len(ids)))
	return len(ids), nil
}

type ConfigRequest struct {
	ServiceCategory string          `json:"service_category"`
	Rate            decimal.Decimal `json:"rate"`
	FeeType         domain.FeeType  `json:"fee_type"`
	Mode            domain.FeeMode  `json:"mode"`
	Payer           domain.FeePayer `json:"payer"`
	Active          *bool           `json:"active,omitempty"`
}

// UpsertConfig creates or replaces the tenant's policy for a service
// category. An empty category sets the tenant default.
func (s *Service) UpsertConfig(ctx context.Context, tenantID string, req ConfigRequest) (*domain.FeeConfig, error) {
	if tenantID == "" {
		return nil, domain.Validationf("tenant_id is required")
	}
	if req.FeeType != domain.FeePercentage && req.FeeType != domain.FeeFlat {
		return nil, domain.Validationf("unknown fee_type %q", req.FeeType)
	}
	if req.Mode != domain.FeeInclusive && req.Mode != domain.FeeExclusive {
		return nil, domain.Validationf("unknown mode %q", req.Mode)
	}
	if req.Payer != domain.PayerGuest && req.Payer != domain.PayerProperty {
		return nil, domain.Validationf("unknown payer %q", req.Payer)
	}
	if req.Rate.IsNegative() {
		return nil, domain.Validationf("rate %s must not be negative", req.Rate.String())
	}
	if req.FeeType == domain.FeePercentage && req.Rate.GreaterThanOrEqual(hundred) {
		return nil, domain.Validationf("percentage rate %s must be below 100", req.Rate.String())
	}

	now := s.nowFn().UTC()
	cfg := &domain.FeeConfig{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		ServiceCategory: strings.TrimSpace(req.ServiceCategory),
		Policy: domain.FeePolicy{
			Rate:  req.Rate,
			Type:  req.FeeType,
			Mode:  req.Mode,
			Payer: req.Payer,
		},
		Active:    req.Active == nil || *req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Fees.UpsertConfig(ctx, cfg); err != nil {
		return nil, err
	}

	configs, err := s.store.Fees.ListConfigs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].ServiceCategory == cfg.ServiceCategory {
			cfg = &configs[i]
			break
		}
	}
	s.log.Info("fee config saved",
		zap.String("tenant_id", tenantID),
		zap.String("service_category", cfg.ServiceCategory),
		zap.String("rate", cfg.Policy.Rate.String()),
		zap.Bool("active", cfg.Active),
	)
	return cfg, nil
}

func (s *Service) ListConfigs(ctx context.Context, tenantID string) ([]domain.FeeConfig, error) {
	return s.store.Fees.ListConfigs(ctx, tenantID)
}

// UpsertTenant creates the tenant or updates its name and trial window.
func (s *Service) UpsertTenant(ctx context.Context, t domain.Tenant) (*domain.Tenant, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return nil, domain.Validationf("tenant id is required")
	}
	if t.TrialDays < 0 {
		return nil, domain.Validationf("trial_days must not be negative")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.nowFn().UTC()
	}
	if err := s.store.Tenants.Upsert(ctx, &t); err != nil {
		return nil, err
	}
	return s.store.Tenants.GetByID(ctx, t.ID)
}

func (s *Service) ListEntries(ctx context.Context, f repository.FeeEntryFilter) ([]domain.PlatformFeeLedgerEntry, error) {
	return s.store.Fees.ListEntries(ctx, f)
}

func (s *Service) GetEntry(ctx context.Context, tenantID, id string) (*domain.PlatformFeeLedgerEntry, error) {
	return s.store.Fees.GetEntry(ctx, tenantID, id)
}

func entryResult(e *domain.PlatformFeeLedgerEntry, duplicate bool) *RecordResult {
	return &RecordResult{
		Applicable:    true,
		LedgerEntryID: e.ID,
		BaseAmount:    e.BaseAmount,
		FeeAmount:     e.FeeAmount,
		Duplicate:     duplicate,
	}
}

func notApplicable(reason string) *RecordResult {
	return &RecordResult{Reason: reason, BaseAmount: decimal.Zero, FeeAmount: decimal.Zero}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func missingIDs(ids []string, found []domain.PlatformFeeLedgerEntry) string {
	have := make(map[string]bool, len(found))
	for _, e := range found {
		have[e.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return "fee entries " + strings.Join(missing, ", ")
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
