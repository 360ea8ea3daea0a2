package errors

import (
	"fmt"
	"testing"
)

func TestSentinelIdentity(t *testing.T) {
	wrapped := Wrap(ErrStoreUnavailable, "dequeue failed")
	wrapped = WithDetail(wrapped, "instance: worker-0")

	if !Is(wrapped, ErrStoreUnavailable) {
		t.Fatal("wrapped error lost ErrStoreUnavailable identity")
	}
	if !IsStoreUnavailable(wrapped) {
		t.Fatal("IsStoreUnavailable should see through wrapping")
	}
	if IsNotFound(wrapped) {
		t.Fatal("store-unavailable error misclassified as not-found")
	}
}

func TestDetailsSurvive(t *testing.T) {
	err := New("boom")
	err = WithDetail(err, "job: Echo")
	err = Wrap(err, "dispatch")

	details := GetAllDetails(err)
	if len(details) != 1 || details[0] != "job: Echo" {
		t.Fatalf("details lost through wrapping: %v", details)
	}
}

func TestStdlibInterop(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrNotFound)
	if !IsNotFound(err) {
		t.Fatal("stdlib %w wrapping should preserve sentinel identity")
	}
	if IsNotFound(nil) {
		t.Fatal("nil is not a not-found error")
	}
}
