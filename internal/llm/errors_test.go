package llm

import (
	"errors"
	"strings"
	"testing"
)

func TestErrUnsupportedProviderMessage(t *testing.T) {
	err := ErrUnsupportedProvider{Provider: "mystery"}
	if err.Error() != "unsupported LLM provider: mystery" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestModelErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	withStatus := &ModelError{Provider: "openai", StatusCode: 503, Err: cause}
	if !strings.Contains(withStatus.Error(), "status 503") {
		t.Fatalf("expected status in message, got %q", withStatus.Error())
	}
	if !errors.Is(withStatus, cause) {
		t.Fatal("expected ModelError to unwrap to cause")
	}

	noStatus := &ModelError{Provider: "gemini", Err: cause}
	if noStatus.Error() != "gemini completion failed: boom" {
		t.Fatalf("unexpected message %q", noStatus.Error())
	}
}
