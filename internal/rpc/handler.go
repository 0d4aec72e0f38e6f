package rpc

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponcodes/internal/model"
	"github.com/kkkkikiki/couponcodes/internal/service"
)

// Codes is the code lifecycle the handler exposes. It is satisfied by
// *service.CodeService.
type Codes interface {
	Generate(ctx context.Context, p service.GenerateParams) (int, error)
	Upload(ctx context.Context, p service.UploadParams) (int, error)
	Delete(ctx context.Context, p service.DeleteParams) (int, error)
	Claim(ctx context.Context, p service.AssociationParams) (service.ClaimResult, error)
	Lookup(ctx context.Context, p service.AssociationParams) (string, error)
	MostRecent(ctx context.Context, p service.MostRecentParams) (*model.Code, error)
	Stats(ctx context.Context, scope model.Scope) (model.Stats, error)
	Export(ctx context.Context, scope model.Scope) ([]model.ExportRow, error)
}

// Handler serves the code service procedures
type Handler struct {
	codes Codes
	log   *zap.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(codes Codes, log *zap.Logger) *Handler {
	return &Handler{codes: codes, log: log.Named("rpc")}
}

// NewCodeServiceHandler builds an HTTP handler serving every procedure of h.
// It returns the path to mount the handler on.
func NewCodeServiceHandler(h *Handler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewLoggingInterceptor(h.log)),
	}, opts...)

	generate := connect.NewUnaryHandler(GenerateProcedure, h.Generate, opts...)
	upload := connect.NewUnaryHandler(UploadProcedure, h.Upload, opts...)
	del := connect.NewUnaryHandler(DeleteProcedure, h.Delete, opts...)
	claim := connect.NewUnaryHandler(ClaimProcedure, h.Claim, opts...)
	lookup := connect.NewUnaryHandler(LookupProcedure, h.Lookup, opts...)
	mostRecent := connect.NewUnaryHandler(MostRecentProcedure, h.MostRecent, opts...)
	stats := connect.NewUnaryHandler(StatsProcedure, h.Stats, opts...)
	export := connect.NewUnaryHandler(ExportProcedure, h.Export, opts...)

	return "/" + CodeServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case GenerateProcedure:
			generate.ServeHTTP(w, r)
		case UploadProcedure:
			upload.ServeHTTP(w, r)
		case DeleteProcedure:
			del.ServeHTTP(w, r)
		case ClaimProcedure:
			claim.ServeHTTP(w, r)
		case LookupProcedure:
			lookup.ServeHTTP(w, r)
		case MostRecentProcedure:
			mostRecent.ServeHTTP(w, r)
		case StatsProcedure:
			stats.ServeHTTP(w, r)
		case ExportProcedure:
			export.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Generate adds random codes to a pool
func (h *Handler) Generate(ctx context.Context, req *connect.Request[GenerateRequest]) (*connect.Response[GenerateResponse], error) {
	inserted, err := h.codes.Generate(ctx, service.GenerateParams{
		Scope:  req.Msg.Scope,
		Count:  req.Msg.Count,
		Length: req.Msg.Length,
	})
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&GenerateResponse{Inserted: inserted}), nil
}

// Upload adds administrator supplied codes to a pool
func (h *Handler) Upload(ctx context.Context, req *connect.Request[UploadRequest]) (*connect.Response[UploadResponse], error) {
	inserted, err := h.codes.Upload(ctx, service.UploadParams{
		Scope: req.Msg.Scope,
		Text:  req.Msg.Text,
		Rows:  req.Msg.Rows,
		CSV:   req.Msg.CSV,
	})
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&UploadResponse{Inserted: inserted}), nil
}

// Delete removes codes from a pool
func (h *Handler) Delete(ctx context.Context, req *connect.Request[DeleteRequest]) (*connect.Response[DeleteResponse], error) {
	deleted, err := h.codes.Delete(ctx, service.DeleteParams{Scope: req.Msg.Scope, Text: req.Msg.Text})
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&DeleteResponse{Deleted: deleted}), nil
}

// Claim binds a code to the identity, or returns the one it already holds.
// An exhausted pool is a regular response, not an error.
func (h *Handler) Claim(ctx context.Context, req *connect.Request[ClaimRequest]) (*connect.Response[ClaimResponse], error) {
	result, err := h.codes.Claim(ctx, service.AssociationParams{
		Scope:         req.Msg.Scope,
		AssociationID: req.Msg.AssociationID,
	})
	if errors.Is(err, model.ErrExhaustedPool) {
		return connect.NewResponse(&ClaimResponse{Exhausted: true}), nil
	}
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&ClaimResponse{Code: result.Code, Existing: result.Existing}), nil
}

// Lookup returns the identity's code without claiming one
func (h *Handler) Lookup(ctx context.Context, req *connect.Request[LookupRequest]) (*connect.Response[LookupResponse], error) {
	code, err := h.codes.Lookup(ctx, service.AssociationParams{
		Scope:         req.Msg.Scope,
		AssociationID: req.Msg.AssociationID,
	})
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&LookupResponse{Code: code}), nil
}

// MostRecent returns the identity's latest claimed code across the tenant
func (h *Handler) MostRecent(ctx context.Context, req *connect.Request[MostRecentRequest]) (*connect.Response[MostRecentResponse], error) {
	code, err := h.codes.MostRecent(ctx, service.MostRecentParams{
		TenantID:      req.Msg.TenantID,
		AssociationID: req.Msg.AssociationID,
	})
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&MostRecentResponse{
		ItemID:    code.ItemID,
		Code:      code.Value,
		ClaimedAt: code.ClaimedAt,
	}), nil
}

// Stats returns the usage counts of a pool
func (h *Handler) Stats(ctx context.Context, req *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	stats, err := h.codes.Stats(ctx, req.Msg.Scope)
	if err != nil {
		return nil, h.toConnectError(err)
	}
	return connect.NewResponse(&StatsResponse{Stats: stats}), nil
}

// Export returns every code of a pool with its association
func (h *Handler) Export(ctx context.Context, req *connect.Request[ExportRequest]) (*connect.Response[ExportResponse], error) {
	rows, err := h.codes.Export(ctx, req.Msg.Scope)
	if err != nil {
		return nil, h.toConnectError(err)
	}
	if rows == nil {
		rows = []model.ExportRow{}
	}
	return connect.NewResponse(&ExportResponse{Rows: rows}), nil
}
