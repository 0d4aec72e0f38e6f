package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kkkkikiki/couponcodes/internal/codegen"
	"github.com/kkkkikiki/couponcodes/internal/config"
	"github.com/kkkkikiki/couponcodes/internal/logger"
	"github.com/kkkkikiki/couponcodes/internal/metrics"
	"github.com/kkkkikiki/couponcodes/internal/model"
	"github.com/kkkkikiki/couponcodes/internal/parser"
	"github.com/kkkkikiki/couponcodes/internal/repository"
	"github.com/kkkkikiki/couponcodes/internal/validate"
)

// CodeStore is the persistence the service needs. It is satisfied by
// *repository.CodeRepository.
type CodeStore interface {
	InsertMany(ctx context.Context, scope model.Scope, codes []string) (int, error)
	DeleteMany(ctx context.Context, scope model.Scope, codes []string) (repository.DeleteResult, error)
	CountByState(ctx context.Context, scope model.Scope) (model.Stats, error)
	FindByAssociation(ctx context.Context, scope model.Scope, associationID int64) (*model.Code, error)
	FindMostRecentByAssociation(ctx context.Context, tenantID, associationID int64) (*model.Code, error)
	ClaimOneUnused(ctx context.Context, scope model.Scope, associationID int64) (*model.Code, error)
	ListCodes(ctx context.Context, scope model.Scope) ([]string, error)
	Export(ctx context.Context, scope model.Scope) ([]model.ExportRow, error)
}

// GenerateParams asks for count new random codes of the given length
type GenerateParams struct {
	model.Scope
	Count  int `json:"count" validate:"gte=0,lte=5000"`
	Length int `json:"length" validate:"gte=3,lte=32"`
}

// UploadParams carries codes supplied by an administrator. Text wins over
// tabular input when both are present; Rows and CSV are merged.
type UploadParams struct {
	model.Scope
	Text string     `json:"text"`
	Rows [][]string `json:"rows"`
	CSV  string     `json:"csv"`
}

// DeleteParams carries the codes to remove from a pool
type DeleteParams struct {
	model.Scope
	Text string `json:"text"`
}

// AssociationParams names an identity within a pool
type AssociationParams struct {
	model.Scope
	AssociationID int64 `json:"association_id" validate:"gt=0"`
}

// MostRecentParams names an identity within a tenant
type MostRecentParams struct {
	TenantID      int64 `json:"tenant_id" validate:"gte=0"`
	AssociationID int64 `json:"association_id" validate:"gt=0"`
}

// ClaimResult is the code bound to the identity
type ClaimResult struct {
	Code string
	// Existing is true when the identity already held the code before this call
	Existing bool
}

// CodeService implements the coupon code lifecycle
type CodeService struct {
	store         CodeStore
	generator     *codegen.Generator
	defaultLength int
	log           *zap.Logger
}

// NewCodeService creates a new CodeService instance
func NewCodeService(store CodeStore, generator *codegen.Generator, cfg config.CodesConfig, log *zap.Logger) *CodeService {
	return &CodeService{
		store:         store,
		generator:     generator,
		defaultLength: cfg.DefaultLength,
		log:           logger.WithComponent(log, "codes"),
	}
}

// Generate creates Count random codes that are not yet in the pool and stores them.
// It returns the number of codes inserted.
func (s *CodeService) Generate(ctx context.Context, p GenerateParams) (int, error) {
	if p.Length == 0 {
		p.Length = s.defaultLength
	}
	if err := validate.Struct(p); err != nil {
		return 0, err
	}
	if p.Count == 0 {
		return 0, nil
	}

	existing, err := s.existingCodes(ctx, p.Scope)
	if err != nil {
		return 0, err
	}

	s.log.Debug("generating codes",
		zap.Int64("tenant_id", p.TenantID),
		zap.Int64("item_id", p.ItemID),
		zap.Int("count", p.Count),
		zap.Int("length", p.Length),
		zap.Int("existing", existing.Len()))

	codes, err := s.generator.Generate(p.Count, p.Length, existing)
	if err != nil {
		if errors.Is(err, codegen.ErrExhaustedKeyspace) {
			return 0, fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
		}
		return 0, fmt.Errorf("failed to generate codes: %w", err)
	}

	return s.insert(ctx, p.Scope, codes, "generate")
}

// Upload parses administrator supplied codes and stores the ones the pool does not hold yet.
// It returns the number of codes inserted.
func (s *CodeService) Upload(ctx context.Context, p UploadParams) (int, error) {
	if err := validate.Struct(p); err != nil {
		return 0, err
	}

	candidates, err := candidateCodes(p)
	if err != nil {
		return 0, err
	}
	for _, code := range candidates {
		if err := checkCode(code); err != nil {
			return 0, err
		}
	}

	existing, err := s.existingCodes(ctx, p.Scope)
	if err != nil {
		return 0, err
	}

	codes := parser.Filter(candidates, existing)
	if len(codes) == 0 {
		s.log.Info("upload contained no new codes",
			zap.Int64("tenant_id", p.TenantID),
			zap.Int64("item_id", p.ItemID),
			zap.Int("candidates", len(candidates)))
		return 0, nil
	}

	return s.insert(ctx, p.Scope, codes, "upload")
}

func candidateCodes(p UploadParams) ([]string, error) {
	if strings.TrimSpace(p.Text) != "" {
		return parser.ParseText(p.Text, nil), nil
	}

	rows := p.Rows
	if strings.TrimSpace(p.CSV) != "" {
		fileRows, err := parser.ReadRows(strings.NewReader(p.CSV))
		if err != nil {
			return nil, err
		}
		rows = append(rows, fileRows...)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: upload payload is empty", model.ErrInvalidInput)
	}

	return parser.ParseRows(rows, nil), nil
}

// checkCode rejects codes the code column cannot store. Length is counted in characters.
func checkCode(code string) error {
	switch {
	case !utf8.ValidString(code):
		return fmt.Errorf("%w: code %q is not valid UTF-8", model.ErrInvalidInput, code)
	case strings.ContainsRune(code, 0):
		return fmt.Errorf("%w: code %q contains a NUL character", model.ErrInvalidInput, code)
	case utf8.RuneCountInString(code) > model.MaxCodeLength:
		return fmt.Errorf("%w: code %q is longer than %d characters",
			model.ErrInvalidInput, code, model.MaxCodeLength)
	}
	return nil
}

func (s *CodeService) existingCodes(ctx context.Context, scope model.Scope) (model.CodeSet, error) {
	codes, err := s.store.ListCodes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing codes: %w", err)
	}
	return model.NewCodeSet(codes...), nil
}

func (s *CodeService) insert(ctx context.Context, scope model.Scope, codes []string, source string) (int, error) {
	inserted, err := s.store.InsertMany(ctx, scope, codes)
	skipped := len(codes) - inserted
	if err != nil {
		// rows stored before the failure stay stored
		metrics.RecordCodesAdded(source, inserted, 0)
		return inserted, fmt.Errorf("failed to store codes: %w", err)
	}

	metrics.RecordCodesAdded(source, inserted, skipped)
	s.log.Info("codes added",
		zap.String("source", source),
		zap.Int64("tenant_id", scope.TenantID),
		zap.Int64("item_id", scope.ItemID),
		zap.Int("requested", len(codes)),
		zap.Int("inserted", inserted),
		zap.Int("skipped", skipped))

	return inserted, nil
}

// Delete removes the codes listed in Text from the pool, claimed or not.
// Unknown codes are ignored. It returns the number of codes removed.
func (s *CodeService) Delete(ctx context.Context, p DeleteParams) (int, error) {
	if err := validate.Struct(p); err != nil {
		return 0, err
	}

	codes := parser.ParseText(p.Text, nil)
	if len(codes) == 0 {
		return 0, fmt.Errorf("%w: delete payload is empty", model.ErrInvalidInput)
	}

	result, err := s.store.DeleteMany(ctx, p.Scope, codes)
	if err != nil {
		return 0, fmt.Errorf("failed to delete codes: %w", err)
	}

	metrics.RecordCodesDeleted(result.Deleted-result.Claimed, result.Claimed)
	if result.Claimed > 0 {
		s.log.Warn("deleted codes that were already claimed",
			zap.Int64("tenant_id", p.TenantID),
			zap.Int64("item_id", p.ItemID),
			zap.Int("claimed", result.Claimed))
	}
	s.log.Info("codes deleted",
		zap.Int64("tenant_id", p.TenantID),
		zap.Int64("item_id", p.ItemID),
		zap.Int("requested", len(codes)),
		zap.Int("deleted", result.Deleted))

	return result.Deleted, nil
}

// Claim returns the code the identity holds in the pool, binding the oldest
// unused code to it first if it holds none. Repeated calls return the same code.
// model.ErrExhaustedPool is returned when no unused code is left.
func (s *CodeService) Claim(ctx context.Context, p AssociationParams) (ClaimResult, error) {
	start := time.Now()
	status := metrics.ClaimFailed
	defer func() {
		metrics.RecordClaimDuration(status, time.Since(start).Seconds())
	}()

	if err := validate.Struct(p); err != nil {
		status = metrics.ClaimInvalid
		return ClaimResult{}, err
	}

	code, err := s.store.FindByAssociation(ctx, p.Scope, p.AssociationID)
	if err == nil {
		status = metrics.ClaimExisting
		return ClaimResult{Code: code.Value, Existing: true}, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return ClaimResult{}, fmt.Errorf("failed to look up association: %w", err)
	}

	code, err = s.store.ClaimOneUnused(ctx, p.Scope, p.AssociationID)
	if errors.Is(err, model.ErrAlreadyAssociated) {
		// a concurrent claim by the same identity won
		code, err = s.store.FindByAssociation(ctx, p.Scope, p.AssociationID)
		if err == nil {
			status = metrics.ClaimExisting
			return ClaimResult{Code: code.Value, Existing: true}, nil
		}
		if errors.Is(err, model.ErrNotFound) {
			// the winner's code was deleted before it could be read back
			code, err = s.store.ClaimOneUnused(ctx, p.Scope, p.AssociationID)
		}
	}
	if errors.Is(err, model.ErrExhaustedPool) {
		status = metrics.ClaimExhausted
		s.log.Info("pool exhausted",
			zap.Int64("tenant_id", p.TenantID),
			zap.Int64("item_id", p.ItemID),
			zap.Int64("association_id", p.AssociationID))
		return ClaimResult{}, model.ErrExhaustedPool
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("failed to claim code: %w", err)
	}

	status = metrics.ClaimSuccess
	s.log.Debug("code claimed",
		zap.Int64("tenant_id", p.TenantID),
		zap.Int64("item_id", p.ItemID),
		zap.Int64("association_id", p.AssociationID),
		zap.Int64("code_id", code.ID))

	return ClaimResult{Code: code.Value}, nil
}

// Lookup returns the code the identity holds in the pool without claiming one.
func (s *CodeService) Lookup(ctx context.Context, p AssociationParams) (string, error) {
	if err := validate.Struct(p); err != nil {
		return "", err
	}

	code, err := s.store.FindByAssociation(ctx, p.Scope, p.AssociationID)
	if err != nil {
		return "", fmt.Errorf("failed to look up association: %w", err)
	}

	return code.Value, nil
}

// MostRecent returns the code the identity claimed last across all pools of the tenant.
func (s *CodeService) MostRecent(ctx context.Context, p MostRecentParams) (*model.Code, error) {
	if err := validate.Struct(p); err != nil {
		return nil, err
	}

	code, err := s.store.FindMostRecentByAssociation(ctx, p.TenantID, p.AssociationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up most recent code: %w", err)
	}

	return code, nil
}

// Stats returns the total, used and unused counts of the pool.
func (s *CodeService) Stats(ctx context.Context, scope model.Scope) (model.Stats, error) {
	if err := validate.Struct(scope); err != nil {
		return model.Stats{}, err
	}

	stats, err := s.store.CountByState(ctx, scope)
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to count codes: %w", err)
	}

	return stats, nil
}

// Export returns every code of the pool with the identity it is bound to, if any.
func (s *CodeService) Export(ctx context.Context, scope model.Scope) ([]model.ExportRow, error) {
	if err := validate.Struct(scope); err != nil {
		return nil, err
	}

	rows, err := s.store.Export(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to export codes: %w", err)
	}

	return rows, nil
}
