package service

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/kkkkikiki/couponcodes/internal/model"
	"github.com/kkkkikiki/couponcodes/internal/repository"
)

// memStore is a CodeStore kept in memory. A single mutex makes every method
// atomic, the same guarantee the PostgreSQL store gives per statement.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*model.Code
	calls  int

	// err, when set, is returned by every method
	err error
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) enter() error {
	m.calls++
	return m.err
}

func (m *memStore) InsertMany(_ context.Context, scope model.Scope, codes []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return 0, err
	}

	inserted := 0
	for _, c := range codes {
		if m.find(scope, func(r *model.Code) bool { return r.Value == c }) != nil {
			continue
		}
		m.nextID++
		m.rows = append(m.rows, &model.Code{
			ID:        m.nextID,
			TenantID:  scope.TenantID,
			ItemID:    scope.ItemID,
			Value:     c,
			CreatedAt: time.Now(),
		})
		inserted++
	}
	return inserted, nil
}

func (m *memStore) DeleteMany(_ context.Context, scope model.Scope, codes []string) (repository.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return repository.DeleteResult{}, err
	}

	remove := model.NewCodeSet(codes...)
	var result repository.DeleteResult
	kept := m.rows[:0]
	for _, r := range m.rows {
		if inScope(r, scope) && remove.Has(r.Value) {
			result.Deleted++
			if r.IsClaimed() {
				result.Claimed++
			}
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return result, nil
}

func (m *memStore) CountByState(_ context.Context, scope model.Scope) (model.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return model.Stats{}, err
	}

	var stats model.Stats
	for _, r := range m.rows {
		if !inScope(r, scope) {
			continue
		}
		if r.IsClaimed() {
			stats.Used++
		} else {
			stats.Unused++
		}
	}
	stats.Total = stats.Used + stats.Unused
	return stats, nil
}

func (m *memStore) FindByAssociation(_ context.Context, scope model.Scope, associationID int64) (*model.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}

	if r := m.find(scope, associatedWith(associationID)); r != nil {
		c := *r
		return &c, nil
	}
	return nil, model.ErrNotFound
}

func (m *memStore) FindMostRecentByAssociation(_ context.Context, tenantID, associationID int64) (*model.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}

	var latest *model.Code
	for _, r := range m.rows {
		if r.TenantID != tenantID || !associatedWith(associationID)(r) {
			continue
		}
		if latest == nil || r.ClaimedAt.After(*latest.ClaimedAt) ||
			(r.ClaimedAt.Equal(*latest.ClaimedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, model.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (m *memStore) ClaimOneUnused(_ context.Context, scope model.Scope, associationID int64) (*model.Code, error) {
	// let other claimers run between the engine's lookup and this claim
	runtime.Gosched()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}

	if m.find(scope, associatedWith(associationID)) != nil {
		return nil, model.ErrAlreadyAssociated
	}
	r := m.find(scope, func(r *model.Code) bool { return !r.IsClaimed() })
	if r == nil {
		return nil, model.ErrExhaustedPool
	}

	now := time.Now()
	id := associationID
	r.AssociationID = &id
	r.Used = 1
	r.ClaimedAt = &now
	c := *r
	return &c, nil
}

func (m *memStore) ListCodes(_ context.Context, scope model.Scope) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}

	var codes []string
	for _, r := range m.rows {
		if inScope(r, scope) {
			codes = append(codes, r.Value)
		}
	}
	return codes, nil
}

func (m *memStore) Export(_ context.Context, scope model.Scope) ([]model.ExportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(); err != nil {
		return nil, err
	}

	rows := []model.ExportRow{}
	for _, r := range m.rows {
		if inScope(r, scope) {
			rows = append(rows, model.ExportRow{Code: r.Value, AssociationID: r.AssociationID})
		}
	}
	return rows, nil
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// find returns the lowest-id row of the scope matching match; m.mu must be held.
func (m *memStore) find(scope model.Scope, match func(*model.Code) bool) *model.Code {
	candidates := make([]*model.Code, 0, 1)
	for _, r := range m.rows {
		if inScope(r, scope) && match(r) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0]
}

func inScope(r *model.Code, scope model.Scope) bool {
	return r.TenantID == scope.TenantID && r.ItemID == scope.ItemID
}

func associatedWith(associationID int64) func(*model.Code) bool {
	return func(r *model.Code) bool {
		return r.AssociationID != nil && *r.AssociationID == associationID
	}
}
