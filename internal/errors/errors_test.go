package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := fmt.Errorf("put asset: %w", Wrap(CodeCacheUnavailable, cause, "缓存不可用"))

	if got := CodeOf(err); got != CodeCacheUnavailable {
		t.Fatalf("unexpected code: %s", got)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeCacheUnavailable, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if RetryableError(err) {
		t.Fatalf("cache failures must not be retryable")
	}
}

func TestSynthesisFailureIsRetryable(t *testing.T) {
	err := New(CodeSynthesisFailed, "")
	if !RetryableError(err) {
		t.Fatalf("synthesis failures should be retryable by the job layer")
	}
	if !ShouldAlert(err) {
		t.Fatalf("synthesis failures should alert")
	}
	if RetryableError(overriddenSynthesisError()) {
		t.Fatalf("override should win over registry")
	}
}

func overriddenSynthesisError() error {
	return New(CodeSynthesisFailed, "", WithRetryable(false))
}

func TestPublicMessageHidesUnknownCauses(t *testing.T) {
	if got := PublicMessage(stdErrors.New("dsn=root:secret@tcp")); got != "unknown error" {
		t.Fatalf("unexpected public message: %q", got)
	}
	err := Wrap(CodeQuotaExceeded, stdErrors.New("count=20"), "今日生成次数已用完")
	if got := PublicMessage(err); got != "今日生成次数已用完" {
		t.Fatalf("unexpected public message: %q", got)
	}
}

func TestLogAttrsIncludesMetadataInStableOrder(t *testing.T) {
	err := New(CodeSynthesisFailed, "boom",
		WithMetadata("seed", "42"),
		WithMetadata("motion", "walk"),
		WithMetadata("prompt", "knight"),
	)
	attrs := LogAttrs(err)
	if len(attrs) != 6 {
		t.Fatalf("expected 6 attrs, got %d", len(attrs))
	}
	want := []string{"motion", "prompt", "seed"}
	for i, key := range want {
		if attrs[3+i].Key != key {
			t.Fatalf("attr %d: got %s want %s", i, attrs[3+i].Key, key)
		}
	}
}
