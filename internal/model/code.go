package model

import (
	"time"
)

// Scope identifies one pool of codes: the codes of a single item within a tenant.
type Scope struct {
	TenantID int64 `json:"tenant_id" validate:"gte=0"`
	ItemID   int64 `json:"item_id" validate:"gt=0"`
}

// Code represents a single-use coupon code in the database
type Code struct {
	ID            int64      `db:"id" json:"id"`
	TenantID      int64      `db:"tenant_id" json:"tenant_id"`
	ItemID        int64      `db:"item_id" json:"item_id"`
	Value         string     `db:"code" json:"code"`
	AssociationID *int64     `db:"association_id" json:"association_id,omitempty"`
	Used          int16      `db:"used" json:"-"` // legacy flag, kept in sync on claim
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ClaimedAt     *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
}

// IsClaimed reports whether the code is bound to an identity.
// The association is the source of truth, not the legacy used flag.
func (c *Code) IsClaimed() bool {
	return c.AssociationID != nil
}

// Stats holds the usage counts of a pool
type Stats struct {
	Total  int64 `json:"total"`
	Used   int64 `json:"used"`
	Unused int64 `json:"unused"`
}

// ExportRow is one line of a pool export
type ExportRow struct {
	Code          string `db:"code" json:"code"`
	AssociationID *int64 `db:"association_id" json:"association_id"`
}

// MaxCodeLength is the width of the code column.
const MaxCodeLength = 32
