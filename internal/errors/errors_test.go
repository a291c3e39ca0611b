package errors

import (
	stderrors "errors"
	"testing"
)

func TestCodedErrorFormatting(t *testing.T) {
	err := New(CodeConnTimeout, "connect timed out")
	if err.Error() != "conn.timeout: connect timed out" {
		t.Errorf("unexpected format %q", err.Error())
	}

	cause := stderrors.New("dial tcp: refused")
	wrapped := Wrap(CodeConnDialFailed, "failed to connect", cause)
	if !stderrors.Is(wrapped, cause) {
		t.Error("expected wrapped cause reachable via errors.Is")
	}
}

func TestGetCodeFallsBackToUnknown(t *testing.T) {
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Errorf("expected %s, got %s", CodeUnknown, got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("expected empty code for nil, got %s", got)
	}
}

func TestIsCodeMatchesOutermostCode(t *testing.T) {
	inner := RateLimited("sends")
	outer := Wrap(CodeInternal, "request failed", inner)

	if !IsCode(outer, CodeInternal) {
		t.Error("expected outer code to match")
	}
	if IsCode(outer, CodeSessionRateLimited) {
		t.Error("expected IsCode to report the outermost code only")
	}

	var coded *CodedError
	if !stderrors.As(outer.Cause, &coded) || coded.Code != CodeSessionRateLimited {
		t.Error("expected inner coded error preserved as cause")
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(InvalidWorkspace(""))
	if code != CodeConnInvalidWorkspace || msg == "" {
		t.Errorf("unexpected code/message %s %q", code, msg)
	}

	code, msg = ToCodeAndMessage(stderrors.New("boom"))
	if code != CodeUnknown || msg != "boom" {
		t.Errorf("unexpected fallback %s %q", code, msg)
	}
}
