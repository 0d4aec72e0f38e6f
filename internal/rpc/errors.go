package rpc

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

var errInternal = errors.New("internal error")

// toConnectError maps service errors onto connect codes. Details of internal
// failures are logged and not sent to the caller.
func (h *Handler) toConnectError(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, model.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, model.ErrStorageUnavailable):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		h.log.Error("unexpected service error", zap.Error(err))
		return connect.NewError(connect.CodeInternal, errInternal)
	}
}
