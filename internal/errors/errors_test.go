package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceError_IsMatchesByCode(t *testing.T) {
	sentinel := New("DROP_EXISTS", "drop exists", http.StatusConflict)
	derived := sentinel.WithDetails("drop_id", "0x01")

	if !stderrors.Is(derived, sentinel) {
		t.Fatal("derived error should match sentinel")
	}
	if stderrors.Is(derived, New("OTHER", "other", http.StatusConflict)) {
		t.Fatal("different codes must not match")
	}
	if sentinel.Details != nil {
		t.Fatal("WithDetails must not mutate the sentinel")
	}
}

func TestServiceError_WrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Internal("failed", nil).Wrap(cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("wrapped cause should be reachable")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	se := GetServiceError(wrapped)
	if se == nil || se.Code != CodeInternal {
		t.Fatalf("GetServiceError = %v, want internal", se)
	}
}

func TestConstructors_HTTPStatus(t *testing.T) {
	cases := []struct {
		err  *ServiceError
		want int
	}{
		{BadRequest("x"), http.StatusBadRequest},
		{InvalidFormat("id", "hex"), http.StatusBadRequest},
		{Unauthorized("x"), http.StatusUnauthorized},
		{InvalidToken(nil), http.StatusUnauthorized},
		{RateLimitExceeded(10, 20), http.StatusTooManyRequests},
		{Internal("x", nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if tc.err.HTTPStatus != tc.want {
			t.Errorf("%s status = %d, want %d", tc.err.Code, tc.err.HTTPStatus, tc.want)
		}
	}
}

func TestGetServiceError_Nil(t *testing.T) {
	if GetServiceError(fmt.Errorf("plain")) != nil {
		t.Fatal("plain error should not yield ServiceError")
	}
}
