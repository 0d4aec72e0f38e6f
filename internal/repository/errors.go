package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

const uniqueViolation = pq.ErrorCode("23505")

// classify wraps a driver error with the matching model error.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == uniqueViolation && pqErr.Constraint == associationConstraint:
			return fmt.Errorf("failed to %s: %w", op, model.ErrAlreadyAssociated)
		case pqErr.Code == uniqueViolation:
			return fmt.Errorf("failed to %s: %w: %w", op, model.ErrDuplicateCode, err)
		case isUnavailableClass(pqErr.Code.Class()):
			return fmt.Errorf("failed to %s: %w: %w", op, model.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	// anything else comes from the connection rather than the server
	return fmt.Errorf("failed to %s: %w: %w", op, model.ErrStorageUnavailable, err)
}

func isUnavailableClass(class pq.ErrorClass) bool {
	switch class {
	case "08", // connection exception
		"53", // insufficient resources
		"57": // operator intervention
		return true
	}
	return false
}
