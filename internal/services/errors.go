package services

import (
	"errors"

	apperrors "fintrack/internal/errors"
)

// maxStaleRetries bounds how often an update is re-planned after the row it
// read moved under a concurrent writer.
const maxStaleRetries = 3

// errStaleRead is returned from inside a ledger mutation when the locked row
// no longer matches the read the reconciliation keys were derived from.
var errStaleRead = errors.New("row changed since it was read")

// asAppError passes AppErrors through and wraps anything else as an
// internal error.
func asAppError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(apperrors.ErrInternalServer, err)
}

// asStaleOrAppError keeps errStaleRead intact for retryStale and converts
// everything else like asAppError.
func asStaleOrAppError(err error) error {
	if errors.Is(err, errStaleRead) {
		return err
	}
	return asAppError(err)
}

// retryStale runs attempt until it stops failing with errStaleRead. Each
// attempt must re-read the row and derive its keys afresh.
func retryStale(attempt func() error) error {
	for i := 0; i < maxStaleRetries; i++ {
		err := attempt()
		if !errors.Is(err, errStaleRead) {
			return err
		}
	}
	return apperrors.ErrConflict
}
