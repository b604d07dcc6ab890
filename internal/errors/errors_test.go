package errors

import (
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", ErrInvalidSessionID, http.StatusBadRequest},
		{"missing field", NewMissingField("session_id"), http.StatusBadRequest},
		{"not found", ErrSessionNotFound, http.StatusNotFound},
		{"constraint", NewConstraint("duckstore", nil), http.StatusConflict},
		{"unavailable", NewUnavailable("mongostore", nil), http.StatusServiceUnavailable},
		{"closed", ErrStorageClosed, http.StatusServiceUnavailable},
		{"unknown", New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCategoryHelpers(t *testing.T) {
	if !IsStorage(NewUnavailable("filestore", New("disk full"))) {
		t.Error("wrapped unavailable must be a storage error")
	}
	if !IsNotFound(Wrap(ErrSessionNotFound, "lookup")) {
		t.Error("wrapped not-found must be a not-found error")
	}
	if !IsValidation(ErrInvalidCoordinate) {
		t.Error("coordinate error must be a validation error")
	}
	if IsRetriable(ErrConstraintViolation) {
		t.Error("constraint violations are not retriable")
	}
	if !IsRetriable(ErrLookupFailed) {
		t.Error("lookup failures are retriable")
	}
}

func TestValidationErrorsCollector(t *testing.T) {
	v := NewValidationErrors()
	if v.HasErrors() || v.Err() != nil {
		t.Fatal("fresh collector must be empty")
	}

	v.AddMissing("session_id")
	v.AddField("latitude", "out of range")
	if !v.HasErrors() {
		t.Fatal("collector should report errors")
	}
	if !Is(v.Err(), ErrMissingField) {
		t.Errorf("Err() = %v, should unwrap to the first error", v.Err())
	}
}
