package pgsql

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

// Classify maps driver errors onto the httperr taxonomy. Errors that already
// carry a kind pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := httperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return httperr.Wrap(httperr.KindTransactionFailure, "TRANSACTION_TIMEOUT", "transaction did not complete", err)
	}
	switch Code(err) {
	case "40001", "40P01", "55P03":
		return httperr.NewConflict("RECORD_LOCK_CONFLICT", "concurrent update, retry", true, err)
	case "23505":
		return httperr.NewConflict("RECORD_VERSION_CONFLICT", "version already taken", true, err)
	case "22P02", "22003", "22007", "22008":
		return httperr.Wrap(httperr.KindValidation, "invalid_input", "invalid input", err)
	}
	if pgconn.SafeToRetry(err) {
		return httperr.Wrap(httperr.KindTransactionFailure, "TRANSACTION_FAILED", "transaction failed", err)
	}
	return err
}

func Code(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

func Message(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		if msg := strings.TrimSpace(pgErr.Message); msg != "" {
			return msg
		}
	}
	return "UNKNOWN"
}
