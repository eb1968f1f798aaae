package reply

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
)

func TestSuccess(t *testing.T) {
	resp := Success("m1", "c1", []byte(`{"ok":true}`), 4)
	if !resp.OK() || resp.Failure != nil {
		t.Fatal("expected success")
	}
	if resp.LastSeq != 4 || resp.MessageID != "m1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFailKeepsDomainCode(t *testing.T) {
	cause := apperrors.WithMetadata(apperrors.CodeCommandValidationFailed, "title required", map[string]string{"Reason": "title required"})
	resp := Fail("m1", "c1", cause)
	if resp.OK() {
		t.Fatal("expected failure")
	}
	if resp.Failure.Code != apperrors.CodeCommandValidationFailed {
		t.Fatalf("code = %s", resp.Failure.Code)
	}
	if resp.Failure.Unavailable() {
		t.Fatal("validation failure must be attributed to the request")
	}
	if got := resp.Failure.Localize("en-US"); got != "The command is invalid: title required" {
		t.Fatalf("localized = %q", got)
	}
	if !errors.Is(resp.Failure.Error(), apperrors.New(apperrors.CodeCommandValidationFailed, "")) {
		t.Fatal("expected Error to match code")
	}
}

func TestFailWrapsPlainErrorsAsProcessingFailure(t *testing.T) {
	resp := Fail("m1", "c1", errors.New("nil pointer in rules"))
	if resp.Failure.Code != apperrors.CodeProcessingFailed {
		t.Fatalf("code = %s", resp.Failure.Code)
	}
	if !resp.Failure.Unavailable() {
		t.Fatal("processing failures are system side")
	}
	msg := resp.Failure.Localize("en-US")
	if strings.Contains(msg, "nil pointer") {
		t.Fatalf("user message leaked internals: %q", msg)
	}
}
