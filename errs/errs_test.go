package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesDetails(t *testing.T) {
	err := New(
		"pool/acquire",
		CodeExhausted,
		WithMessage("shared memory exhausted"),
		WithDetails(map[string]string{
			"requested": "200",
			"free":      "124",
		}),
		WithDetail("pool", "demo"),
		WithRemediation("increase shm.elementNumber"),
		WithCause(errors.New("out of memory")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=pool/acquire") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exhausted") {
		t.Fatalf("expected code in error string: %s", out)
	}
	expected := "details=free=\"124\",pool=\"demo\",requested=\"200\""
	if !strings.Contains(out, expected) {
		t.Fatalf("expected details %q in error string: %s", expected, out)
	}
	if !strings.Contains(out, "remediation=\"increase shm.elementNumber\"") {
		t.Fatalf("expected remediation guidance in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"out of memory\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithDetailsMerge(t *testing.T) {
	err := New(
		"session",
		CodeNetwork,
		WithDetails(map[string]string{"endpoint": "ws/127.0.0.1:7447"}),
		WithDetails(map[string]string{"endpoint": "ws/127.0.0.1:7448", " ": "ignored"}),
	)

	if got := err.Details["endpoint"]; got != "ws/127.0.0.1:7448" {
		t.Fatalf("expected latest detail to win, got %q", got)
	}
	if len(err.Details) != 1 {
		t.Fatalf("expected blank keys to be skipped, got %v", err.Details)
	}
}

func TestUnwrapAndCodeOf(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", New("bus", CodeUnavailable, WithCause(cause)))

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	code, ok := CodeOf(wrapped)
	if !ok || code != CodeUnavailable {
		t.Fatalf("expected unavailable code, got %q (ok=%v)", code, ok)
	}
	if _, ok := CodeOf(cause); ok {
		t.Fatal("plain errors carry no code")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestInvalidDefaults(t *testing.T) {
	err := Invalid("", "size must be positive")
	if !strings.Contains(err.Error(), "component=unknown") {
		t.Fatalf("expected unknown component marker: %s", err.Error())
	}
	if err.Code != CodeInvalid {
		t.Fatalf("expected invalid code, got %q", err.Code)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("put: %w", New("session/put", CodeNetwork, WithMessage("write failed")))

	if !errors.Is(err, New("", CodeNetwork)) {
		t.Fatal("expected code-only target to match")
	}
	if !errors.Is(err, New("session/put", CodeNetwork)) {
		t.Fatal("expected component and code target to match")
	}
	if errors.Is(err, New("bus/publish", CodeNetwork)) {
		t.Fatal("expected different component not to match")
	}
	if errors.Is(err, New("", CodeClosed)) {
		t.Fatal("expected different code not to match")
	}
}

func TestRetryableCodes(t *testing.T) {
	for _, code := range []Code{CodeUnavailable, CodeNetwork, CodeConflict} {
		if !code.Retryable() {
			t.Fatalf("expected %s to be retryable", code)
		}
	}
	for _, code := range []Code{CodeInvalid, CodeExhausted, CodeClosed, CodeNotFound} {
		if code.Retryable() {
			t.Fatalf("expected %s not to be retryable", code)
		}
	}
}
