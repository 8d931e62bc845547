package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewFormatsCodeAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := New(KindStorage, "inventory.adjust", "update_failed", cause)

	if err.Error() != "inventory.adjust.update_failed: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected error to unwrap to cause")
	}
	var classified *Error
	if !errors.As(err, &classified) {
		t.Fatalf("expected *Error")
	}
	if classified.Reason() != "update_failed" {
		t.Fatalf("unexpected reason %q", classified.Reason())
	}
}

func TestKindOfClassifiesWrappedErrors(t *testing.T) {
	locked := New(KindLocked, "applications.edit", "locked", nil)
	wrapped := fmt.Errorf("handler: %w", locked)

	if KindOf(wrapped) != KindLocked {
		t.Fatalf("expected locked kind, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindStorage {
		t.Fatalf("expected unclassified errors to be storage failures")
	}
	if Is(nil, KindStorage) {
		t.Fatalf("nil must not match any kind")
	}
}
