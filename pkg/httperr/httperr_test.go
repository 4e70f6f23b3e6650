package httperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestIsBadRequest(t *testing.T) {
	if IsBadRequest(nil) {
		t.Fatalf("expected false for nil")
	}
	if IsBadRequest(NewBadRequest("bad")) != true {
		t.Fatalf("expected true for validation error")
	}
	if IsBadRequest(assertErr("other")) {
		t.Fatalf("expected false for unclassified error")
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := New(KindInvalidState, "ADJUST_BATCH_INVALID_STATE", "batch not confirmed")
	wrapped := fmt.Errorf("execute: %w", base)
	if got := KindOf(wrapped); got != KindInvalidState {
		t.Fatalf("kind=%q", got)
	}
	e, ok := As(wrapped)
	if !ok || e.Code != "ADJUST_BATCH_INVALID_STATE" {
		t.Fatalf("as=%v ok=%v", e, ok)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(KindValidation, "X", "x"), http.StatusBadRequest},
		{New(KindNotFound, "X", "x"), http.StatusNotFound},
		{New(KindInvalidState, "X", "x"), http.StatusConflict},
		{New(KindConcurrencyConflict, "X", "x"), http.StatusConflict},
		{New(KindCorruptRecord, "X", "x"), http.StatusUnprocessableEntity},
		{New(KindTransactionFailure, "X", "x"), http.StatusServiceUnavailable},
		{assertErr("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("err=%v got=%d want=%d", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(New(KindTransactionFailure, "X", "x")) {
		t.Fatalf("transaction failure should be retryable")
	}
	if IsRetryable(New(KindInvalidState, "X", "x")) {
		t.Fatalf("invalid state should not be retryable")
	}
	if IsRetryable(NewConflict("RECORD_STALE_BASE_VERSION", "stale", false, nil)) {
		t.Fatalf("stale base conflict should not be retryable")
	}
	if !IsRetryable(NewConflict("RECORD_LOCK_TIMEOUT", "busy", true, assertErr("55P03"))) {
		t.Fatalf("lock timeout should be retryable")
	}
}

func TestWrap_ErrorIncludesCause(t *testing.T) {
	err := Wrap(KindTransactionFailure, "ADJUST_EXECUTE_FAILED", "execute did not complete", assertErr("conn reset"))
	if err.Error() != "execute did not complete: conn reset" {
		t.Fatalf("err=%q", err.Error())
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
