package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/parcelforge/conveyor/errors"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	url, err := store.Put(ctx, "invocations/abc123.json", "application/json", []byte(`{"msg":"hi"}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Fatalf("expected file URL, got %q", url)
	}

	body, err := store.Get(ctx, "invocations/abc123.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != `{"msg":"hi"}` {
		t.Fatalf("body mismatch: %s", body)
	}

	exists, err := store.Exists(ctx, "invocations/abc123.json")
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Get(context.Background(), "invocations/nope.json")
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	exists, err := store.Exists(context.Background(), "invocations/nope.json")
	if err != nil || exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for _, key := range []string{"../outside.json", "/abs.json", "."} {
		if _, err := store.Put(context.Background(), key, "application/json", []byte("x")); err == nil {
			t.Errorf("key %q should be rejected", key)
		}
	}
}

func TestPutOverwrites(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Put(ctx, "k.json", "application/json", []byte("one")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := store.Put(ctx, "k.json", "application/json", []byte("two")); err != nil {
		t.Fatalf("second put: %v", err)
	}
	body, err := store.Get(ctx, "k.json")
	if err != nil || string(body) != "two" {
		t.Fatalf("expected overwrite, got %q, %v", body, err)
	}
}
