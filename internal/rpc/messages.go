package rpc

import (
	"time"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

// Service and procedure names of the code service
const (
	CodeServiceName = "coupon.v1.CodeService"

	GenerateProcedure   = "/coupon.v1.CodeService/Generate"
	UploadProcedure     = "/coupon.v1.CodeService/Upload"
	DeleteProcedure     = "/coupon.v1.CodeService/Delete"
	ClaimProcedure      = "/coupon.v1.CodeService/Claim"
	LookupProcedure     = "/coupon.v1.CodeService/Lookup"
	MostRecentProcedure = "/coupon.v1.CodeService/MostRecent"
	StatsProcedure      = "/coupon.v1.CodeService/Stats"
	ExportProcedure     = "/coupon.v1.CodeService/Export"
)

type GenerateRequest struct {
	model.Scope
	Count  int `json:"count"`
	// Length falls back to the server default when zero
	Length int `json:"length,omitempty"`
}

type GenerateResponse struct {
	Inserted int `json:"inserted"`
}

// UploadRequest carries codes as free text, as pre-split rows, or as raw
// delimited file content. Text wins when it is not blank.
type UploadRequest struct {
	model.Scope
	Text string     `json:"text,omitempty"`
	Rows [][]string `json:"rows,omitempty"`
	CSV  string     `json:"csv,omitempty"`
}

type UploadResponse struct {
	Inserted int `json:"inserted"`
}

type DeleteRequest struct {
	model.Scope
	Text string `json:"text"`
}

type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

type ClaimRequest struct {
	model.Scope
	AssociationID int64 `json:"association_id"`
}

// ClaimResponse holds the identity's code. Exhausted is set, and Code left
// empty, when the pool has no unused code for a new identity.
type ClaimResponse struct {
	Code      string `json:"code,omitempty"`
	Existing  bool   `json:"existing"`
	Exhausted bool   `json:"exhausted"`
}

type LookupRequest struct {
	model.Scope
	AssociationID int64 `json:"association_id"`
}

type LookupResponse struct {
	Code string `json:"code"`
}

type MostRecentRequest struct {
	TenantID      int64 `json:"tenant_id"`
	AssociationID int64 `json:"association_id"`
}

type MostRecentResponse struct {
	ItemID    int64      `json:"item_id"`
	Code      string     `json:"code"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

type StatsRequest struct {
	model.Scope
}

type StatsResponse struct {
	model.Stats
}

type ExportRequest struct {
	model.Scope
}

type ExportResponse struct {
	Rows []model.ExportRow `json:"rows"`
}
