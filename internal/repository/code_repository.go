package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

const (
	codeColumns = `id, tenant_id, item_id, code, association_id, used, created_at, claimed_at`

	// PostgreSQL parameter limit is 65535; each row binds one code
	insertBatchSize = 1000

	associationConstraint = "coupon_codes_scope_association_key"
)

// DeleteResult reports the outcome of a bulk delete
type DeleteResult struct {
	Deleted int
	// Claimed counts deleted codes that were bound to an identity
	Claimed int
}

// CodeRepository handles coupon code data operations
type CodeRepository struct {
	db *sqlx.DB
}

// NewCodeRepository creates a new code repository
func NewCodeRepository(db *sqlx.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// InsertMany stores codes as unused members of the pool. Codes already present
// in the pool are skipped row by row; the returned count covers only new rows.
func (r *CodeRepository) InsertMany(ctx context.Context, scope model.Scope, codes []string) (int, error) {
	now := time.Now()
	inserted := 0

	for i := 0; i < len(codes); i += insertBatchSize {
		end := i + insertBatchSize
		if end > len(codes) {
			end = len(codes)
		}

		n, err := r.insertBatch(ctx, r.db, scope, codes[i:end], now)
		inserted += n
		if err != nil {
			return inserted, err
		}
	}

	return inserted, nil
}

// insertBatch inserts a batch of codes using a single query
func (r *CodeRepository) insertBatch(ctx context.Context, db DBExecutor, scope model.Scope, codes []string, createdAt time.Time) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	valuesClause := make([]string, len(codes))
	args := make([]interface{}, 0, len(codes)+3)
	args = append(args, scope.TenantID, scope.ItemID, createdAt)

	for i, code := range codes {
		valuesClause[i] = fmt.Sprintf("($1, $2, $%d, 0, $3)", i+4)
		args = append(args, code)
	}

	query := fmt.Sprintf(`
		INSERT INTO coupon_codes (tenant_id, item_id, code, used, created_at)
		VALUES %s
		ON CONFLICT ON CONSTRAINT coupon_codes_scope_code_key DO NOTHING
	`, strings.Join(valuesClause, ", "))

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("insert codes", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// DeleteMany removes the given codes from the pool regardless of their state.
// Codes that are not in the pool are ignored.
func (r *CodeRepository) DeleteMany(ctx context.Context, scope model.Scope, codes []string) (DeleteResult, error) {
	if len(codes) == 0 {
		return DeleteResult{}, nil
	}

	query := `
		DELETE FROM coupon_codes
		WHERE tenant_id = $1 AND item_id = $2 AND code = ANY($3)
		RETURNING association_id
	`

	var associations []sql.NullInt64
	if err := r.db.SelectContext(ctx, &associations, query, scope.TenantID, scope.ItemID, pq.Array(codes)); err != nil {
		return DeleteResult{}, classify("delete codes", err)
	}

	result := DeleteResult{Deleted: len(associations)}
	for _, a := range associations {
		if a.Valid {
			result.Claimed++
		}
	}

	return result, nil
}

// CountByState counts used and unused codes of the pool
func (r *CodeRepository) CountByState(ctx context.Context, scope model.Scope) (model.Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE association_id IS NOT NULL) AS used,
			COUNT(*) FILTER (WHERE association_id IS NULL) AS unused
		FROM coupon_codes
		WHERE tenant_id = $1 AND item_id = $2
	`

	var counts struct {
		Used   int64 `db:"used"`
		Unused int64 `db:"unused"`
	}
	if err := r.db.GetContext(ctx, &counts, query, scope.TenantID, scope.ItemID); err != nil {
		return model.Stats{}, classify("count codes", err)
	}

	return model.Stats{
		Total:  counts.Used + counts.Unused,
		Used:   counts.Used,
		Unused: counts.Unused,
	}, nil
}

// FindByAssociation returns the code the identity holds in the pool
func (r *CodeRepository) FindByAssociation(ctx context.Context, scope model.Scope, associationID int64) (*model.Code, error) {
	query := `
		SELECT ` + codeColumns + `
		FROM coupon_codes
		WHERE tenant_id = $1 AND item_id = $2 AND association_id = $3
	`

	var code model.Code
	err := r.db.GetContext(ctx, &code, query, scope.TenantID, scope.ItemID, associationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, classify("find code by association", err)
	}

	return &code, nil
}

// FindMostRecentByAssociation returns the code the identity claimed last in any pool of the tenant
func (r *CodeRepository) FindMostRecentByAssociation(ctx context.Context, tenantID, associationID int64) (*model.Code, error) {
	query := `
		SELECT ` + codeColumns + `
		FROM coupon_codes
		WHERE tenant_id = $1 AND association_id = $2
		ORDER BY claimed_at DESC NULLS LAST, id DESC
		LIMIT 1
	`

	var code model.Code
	err := r.db.GetContext(ctx, &code, query, tenantID, associationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, classify("find most recent code", err)
	}

	return &code, nil
}

// ClaimOneUnused binds the oldest unused code of the pool to the identity.
//
// Selection and update happen in one statement under a row lock. Rows locked
// by concurrent claimers are skipped first; when that finds nothing while unused
// rows still exist, a blocking attempt waits for those claimers to finish. A
// blocking attempt comes back empty only when the row it waited on was taken
// or deleted, so it is repeated until it wins a row or no unused row is left.
func (r *CodeRepository) ClaimOneUnused(ctx context.Context, scope model.Scope, associationID int64) (*model.Code, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify("begin claim transaction", err)
	}
	defer tx.Rollback()

	code, err := r.claimUnused(ctx, tx, scope, associationID, "FOR UPDATE SKIP LOCKED")
	for errors.Is(err, sql.ErrNoRows) {
		pending, perr := r.hasUnused(ctx, tx, scope)
		if perr != nil {
			return nil, classify("check unused codes", perr)
		}
		if !pending {
			return nil, model.ErrExhaustedPool
		}

		code, err = r.claimUnused(ctx, tx, scope, associationID, "FOR UPDATE")
	}
	if err != nil {
		return nil, classify("claim code", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit claim transaction", err)
	}

	return code, nil
}

// hasUnused reports whether the pool still has a code nobody holds.
func (r *CodeRepository) hasUnused(ctx context.Context, db DBExecutor, scope model.Scope) (bool, error) {
	var pending bool
	err := db.GetContext(ctx, &pending, `
		SELECT EXISTS (
			SELECT 1 FROM coupon_codes
			WHERE tenant_id = $1 AND item_id = $2 AND association_id IS NULL
		)
	`, scope.TenantID, scope.ItemID)
	return pending, err
}

func (r *CodeRepository) claimUnused(ctx context.Context, db DBExecutor, scope model.Scope, associationID int64, lockClause string) (*model.Code, error) {
	query := `
		UPDATE coupon_codes
		SET association_id = $3, used = 1, claimed_at = $4
		WHERE id = (
			SELECT id
			FROM coupon_codes
			WHERE tenant_id = $1 AND item_id = $2 AND association_id IS NULL
			ORDER BY id ASC
			LIMIT 1
			` + lockClause + `
		)
		RETURNING ` + codeColumns

	var code model.Code
	if err := db.GetContext(ctx, &code, query, scope.TenantID, scope.ItemID, associationID, time.Now()); err != nil {
		return nil, err
	}

	return &code, nil
}

// ListCodes returns every code value of the pool
func (r *CodeRepository) ListCodes(ctx context.Context, scope model.Scope) ([]string, error) {
	query := `
		SELECT code
		FROM coupon_codes
		WHERE tenant_id = $1 AND item_id = $2
	`

	var codes []string
	if err := r.db.SelectContext(ctx, &codes, query, scope.TenantID, scope.ItemID); err != nil {
		return nil, classify("list codes", err)
	}

	return codes, nil
}

// Export returns all codes of the pool with their associations, oldest first
func (r *CodeRepository) Export(ctx context.Context, scope model.Scope) ([]model.ExportRow, error) {
	query := `
		SELECT code, association_id
		FROM coupon_codes
		WHERE tenant_id = $1 AND item_id = $2
		ORDER BY id ASC
	`

	rows := []model.ExportRow{}
	if err := r.db.SelectContext(ctx, &rows, query, scope.TenantID, scope.ItemID); err != nil {
		return nil, classify("export codes", err)
	}

	return rows, nil
}

// Ping checks that the database is reachable
func (r *CodeRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}
