package dispatch

import (
	"testing"
)

type noopHandler struct{}

func (noopHandler) Invoke(jctx *Context) Result { return Completed() }

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(Description{Name: "MirrorFeed", New: func() Handler { return noopHandler{} }})

	for _, name := range []string{"MirrorFeed", "mirrorfeed", "MIRRORFEED"} {
		desc, ok := r.Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) missed", name)
		}
		if desc.Name != "MirrorFeed" {
			t.Fatalf("Lookup(%q) returned %q", name, desc.Name)
		}
	}

	if r.Has("SomethingElse") {
		t.Fatal("unregistered name should miss")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(Description{Name: "MirrorFeed", New: func() Handler { return noopHandler{} }})

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration should panic")
		}
	}()
	r.Register(Description{Name: "mirrorfeed", New: func() Handler { return noopHandler{} }})
}

func TestRegistryRejectsBadDescriptions(t *testing.T) {
	r := NewRegistry()

	mustPanic := func(name string, desc Description) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s should panic", name)
			}
		}()
		r.Register(desc)
	}

	mustPanic("empty name", Description{New: func() Handler { return noopHandler{} }})
	mustPanic("nil factory", Description{Name: "X"})
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		r.Register(Description{Name: name, New: func() Handler { return noopHandler{} }})
	}

	names := r.Names()
	want := []string{"Alpha", "Mid", "Zeta"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}
