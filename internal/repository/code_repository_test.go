package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

var (
	testScope       = model.Scope{TenantID: 1, ItemID: 7}
	codeColumnNames = []string{"id", "tenant_id", "item_id", "code", "association_id", "used", "created_at", "claimed_at"}
)

func newMockRepository(t *testing.T) (*CodeRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	return NewCodeRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func claimedRow(id int64, code string, associationID int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(codeColumnNames).
		AddRow(id, testScope.TenantID, testScope.ItemID, code, associationID, int64(1), now, now)
}

func TestInsertMany(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_codes")).
		WithArgs(int64(1), int64(7), sqlmock.AnyArg(), "AAA", "BBB", "CCC").
		WillReturnResult(sqlmock.NewResult(0, 2))

	inserted, err := repo.InsertMany(context.Background(), testScope, []string{"AAA", "BBB", "CCC"})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted, "conflicting rows are skipped, not fatal")
}

func TestInsertManyBatches(t *testing.T) {
	repo, mock := newMockRepository(t)

	codes := make([]string, 1500)
	for i := range codes {
		codes[i] = fmt.Sprintf("C%04d", i)
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT ON CONSTRAINT coupon_codes_scope_code_key DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_codes")).
		WillReturnResult(sqlmock.NewResult(0, 500))

	inserted, err := repo.InsertMany(context.Background(), testScope, codes)
	require.NoError(t, err)
	assert.Equal(t, 1500, inserted)
}

func TestInsertManyStopsOnStorageFailure(t *testing.T) {
	repo, mock := newMockRepository(t)

	codes := make([]string, 1200)
	for i := range codes {
		codes[i] = fmt.Sprintf("C%04d", i)
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_codes")).
		WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coupon_codes")).
		WillReturnError(errors.New("connection reset by peer"))

	inserted, err := repo.InsertMany(context.Background(), testScope, codes)
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Equal(t, 1000, inserted)
}

func TestInsertManyEmpty(t *testing.T) {
	repo, _ := newMockRepository(t)

	inserted, err := repo.InsertMany(context.Background(), testScope, nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestDeleteMany(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM coupon_codes")).
		WithArgs(int64(1), int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"association_id"}).AddRow(nil).AddRow(int64(42)))

	result, err := repo.DeleteMany(context.Background(), testScope, []string{"AAA", "BBB", "ZZZ"})
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Deleted: 2, Claimed: 1}, result)
}

func TestDeleteManyNothingMatches(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM coupon_codes")).
		WillReturnRows(sqlmock.NewRows([]string{"association_id"}))

	result, err := repo.DeleteMany(context.Background(), testScope, []string{"ZZZ"})
	require.NoError(t, err)
	assert.Zero(t, result.Deleted)

	result, err = repo.DeleteMany(context.Background(), testScope, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Deleted)
}

func TestCountByState(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE association_id IS NOT NULL)")).
		WithArgs(int64(1), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"used", "unused"}).AddRow(int64(3), int64(7)))

	stats, err := repo.CountByState(context.Background(), testScope)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Total: 10, Used: 3, Unused: 7}, stats)
}

func TestFindByAssociation(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("AND association_id = $3")).
		WithArgs(int64(1), int64(7), int64(42)).
		WillReturnRows(claimedRow(5, "AAA", 42))
	mock.ExpectQuery(regexp.QuoteMeta("AND association_id = $3")).
		WithArgs(int64(1), int64(7), int64(43)).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))

	code, err := repo.FindByAssociation(context.Background(), testScope, 42)
	require.NoError(t, err)
	assert.Equal(t, "AAA", code.Value)
	assert.True(t, code.IsClaimed())
	assert.Equal(t, int64(42), *code.AssociationID)

	_, err = repo.FindByAssociation(context.Background(), testScope, 43)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFindMostRecentByAssociation(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY claimed_at DESC NULLS LAST, id DESC")).
		WithArgs(int64(1), int64(42)).
		WillReturnRows(claimedRow(9, "NEWEST", 42))

	code, err := repo.FindMostRecentByAssociation(context.Background(), 1, 42)
	require.NoError(t, err)
	assert.Equal(t, "NEWEST", code.Value)
}

func TestClaimOneUnused(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id ASC")+`\s+LIMIT 1\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(int64(1), int64(7), int64(42), sqlmock.AnyArg()).
		WillReturnRows(claimedRow(5, "AAA", 42))
	mock.ExpectCommit()

	code, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(5), code.ID)
	assert.Equal(t, "AAA", code.Value)
	assert.Equal(t, int16(1), code.Used)
}

func TestClaimOneUnusedExhausted(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE coupon_codes")).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(int64(1), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	assert.ErrorIs(t, err, model.ErrExhaustedPool)
}

func TestClaimOneUnusedWaitsForLockedRows(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`LIMIT 1\s+FOR UPDATE\s+\)`).
		WithArgs(int64(1), int64(7), int64(42), sqlmock.AnyArg()).
		WillReturnRows(claimedRow(6, "BBB", 42))
	mock.ExpectCommit()

	code, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	require.NoError(t, err)
	assert.Equal(t, "BBB", code.Value)
}

func TestClaimOneUnusedLockedRowsAllTaken(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`LIMIT 1\s+FOR UPDATE\s+\)`).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	assert.ErrorIs(t, err, model.ErrExhaustedPool)
}

func TestClaimOneUnusedWaitsAgainWhenAwaitedRowIsTaken(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	// the awaited row went to another identity
	mock.ExpectQuery(`LIMIT 1\s+FOR UPDATE\s+\)`).
		WillReturnRows(sqlmock.NewRows(codeColumnNames))
	// a different locked row was released by a rolled back claim
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`LIMIT 1\s+FOR UPDATE\s+\)`).
		WithArgs(int64(1), int64(7), int64(42), sqlmock.AnyArg()).
		WillReturnRows(claimedRow(8, "CCC", 42))
	mock.ExpectCommit()

	code, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	require.NoError(t, err)
	assert.Equal(t, "CCC", code.Value)
}

func TestClaimOneUnusedAssociationConflict(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE coupon_codes")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: associationConstraint})
	mock.ExpectRollback()

	_, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	assert.ErrorIs(t, err, model.ErrAlreadyAssociated)
}

func TestClaimOneUnusedBeginFailure(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

	_, err := repo.ClaimOneUnused(context.Background(), testScope, 42)
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
}

func TestListCodes(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT code")).
		WithArgs(int64(1), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("AAA").AddRow("BBB"))

	codes, err := repo.ListCodes(context.Background(), testScope)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, codes)
}

func TestExport(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT code, association_id")).
		WithArgs(int64(1), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"code", "association_id"}).
			AddRow("AAA", int64(42)).
			AddRow("BBB", nil))

	rows, err := repo.Export(context.Background(), testScope)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAA", rows[0].Code)
	assert.Equal(t, int64(42), *rows[0].AssociationID)
	assert.Equal(t, "BBB", rows[1].Code)
	assert.Nil(t, rows[1].AssociationID)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate code", &pq.Error{Code: "23505", Constraint: "coupon_codes_scope_code_key"}, model.ErrDuplicateCode},
		{"association taken", &pq.Error{Code: "23505", Constraint: associationConstraint}, model.ErrAlreadyAssociated},
		{"connection failure", &pq.Error{Code: "08006"}, model.ErrStorageUnavailable},
		{"admin shutdown", &pq.Error{Code: "57P01"}, model.ErrStorageUnavailable},
		{"too many connections", &pq.Error{Code: "53300"}, model.ErrStorageUnavailable},
		{"transport", errors.New("broken pipe"), model.ErrStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}

	syntax := classify("op", &pq.Error{Code: "42601"})
	assert.NotErrorIs(t, syntax, model.ErrStorageUnavailable)
	assert.NotErrorIs(t, syntax, model.ErrDuplicateCode)

	cancelled := classify("op", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.NotErrorIs(t, cancelled, model.ErrStorageUnavailable)
}
