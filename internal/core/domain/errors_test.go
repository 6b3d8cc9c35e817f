package domain

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	if got := ErrUnknownClass.Error(); got != "[MDM-ARG-4002] unknown data class" {
		t.Errorf("Error() = %q", got)
	}
	if got := ErrUnknownClass.WithDetails("cat.bogus").Error(); got != "[MDM-ARG-4002] unknown data class: cat.bogus" {
		t.Errorf("Error() with details = %q", got)
	}
}

func TestDomainError_CopiesKeepSentinelsIntact(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrIOFailure.WithDetails("write cat.nom.json").Wrap(cause)

	if ErrIOFailure.Details != "" || ErrIOFailure.Cause != nil {
		t.Fatalf("sentinel modified: %+v", ErrIOFailure)
	}
	if err.Details != "write cat.nom.json" || !errors.Is(err, cause) {
		t.Errorf("err = %+v", err)
	}
	if !errors.Is(fmt.Errorf("rebuild 21/0001: %w", err), ErrIOFailure) {
		t.Error("errors.Is should match by code through wrapping")
	}
	if errors.Is(err, ErrUpstreamFailure) {
		t.Error("different codes must not match")
	}
	if errors.Is(err, errors.New("[MDM-SYS-5001] cache io failure")) {
		t.Error("plain errors must not match")
	}
}

func TestIsDomainErrorAndGetErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", ErrPartitionNotFound)

	if !IsDomainError(wrapped, "MDM-PART-4040") || !IsDomainError(wrapped, "") {
		t.Error("IsDomainError should see through wrapping")
	}
	if IsDomainError(wrapped, "MDM-PART-4041") {
		t.Error("IsDomainError matched the wrong code")
	}
	if IsDomainError(errors.New("plain"), "") {
		t.Error("plain error reported as domain error")
	}

	if got := GetErrorCode(wrapped); got != "MDM-PART-4040" {
		t.Errorf("GetErrorCode() = %q", got)
	}
	if got := GetErrorCode(nil); got != "" {
		t.Errorf("GetErrorCode(nil) = %q", got)
	}
}

func TestErrorCodesAreWellFormed(t *testing.T) {
	pattern := regexp.MustCompile(`^MDM-[A-Z]+-[45]\d{3}$`)
	seen := make(map[string]bool)
	for _, e := range []*DomainError{
		ErrPartitionNotFound, ErrBranchNotFound, ErrRebuildThrottled,
		ErrInvalidPartitionKey, ErrUnknownClass, ErrInvalidArgument,
		ErrRecordRejected, ErrRecordNotFound,
		ErrAuthRequired, ErrAdminRequired, ErrNetworkDenied,
		ErrInternalServer, ErrIOFailure, ErrNotReady, ErrUpstreamFailure,
		ErrBadRequest, ErrPayloadTooLarge, ErrTooManyRequests,
	} {
		if !pattern.MatchString(e.Code) {
			t.Errorf("code %q is malformed", e.Code)
		}
		if seen[e.Code] {
			t.Errorf("code %q is used twice", e.Code)
		}
		seen[e.Code] = true
		if e.Message == "" {
			t.Errorf("%s has no message", e.Code)
		}
	}
}
