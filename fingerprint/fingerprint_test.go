package fingerprint

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/callcache/codec"
)

func TestKey_Deterministic(t *testing.T) {
	ctx := context.Background()
	spec := CallSpec{
		Func: "pkg.Add",
		Args: []any{2, 3},
		Kwargs: map[string]any{
			"scale":  1.5,
			"offset": -1,
		},
	}

	f := New(codec.NewRegistry(), "v1")
	first, err := f.Key(ctx, spec)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := f.Key(ctx, spec)
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if got != first {
			t.Fatalf("key changed on repeat %d: %q vs %q", i, got, first)
		}
	}

	// A fresh registry and fingerprinter must agree, as a separate
	// process would.
	other := New(codec.NewRegistry(), "v1")
	got, err := other.Key(ctx, spec)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if got != first {
		t.Errorf("independent fingerprinter disagrees: %q vs %q", got, first)
	}
}

func TestKey_KwargOrderIrrelevant(t *testing.T) {
	ctx := context.Background()
	f := New(codec.NewRegistry(), "v1")

	a, err := f.Key(ctx, CallSpec{Func: "f", Kwargs: map[string]any{"x": 1, "y": 2, "z": 3}})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	b, err := f.Key(ctx, CallSpec{Func: "f", Kwargs: map[string]any{"z": 3, "y": 2, "x": 1}})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if a != b {
		t.Errorf("kwarg insertion order leaked into key: %q vs %q", a, b)
	}
}

func TestKey_Distinguishes(t *testing.T) {
	ctx := context.Background()
	f := New(codec.NewRegistry(), "v1")

	base := CallSpec{Func: "pkg.Add", Args: []any{2, 3}}
	baseKey, err := f.Key(ctx, base)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}

	variants := []CallSpec{
		{Func: "pkg.Sub", Args: []any{2, 3}},
		{Func: "pkg.Add", Args: []any{3, 2}},
		{Func: "pkg.Add", Args: []any{2, 3, 4}},
		{Func: "pkg.Add", Args: []any{2, 3}, Kwargs: map[string]any{"x": 1}},
	}
	for _, v := range variants {
		got, err := f.Key(ctx, v)
		if err != nil {
			t.Fatalf("Key(%+v): %v", v, err)
		}
		if got == baseKey {
			t.Errorf("spec %+v collided with base", v)
		}
	}
}

func TestKey_VersionChangesKey(t *testing.T) {
	ctx := context.Background()
	reg := codec.NewRegistry()
	spec := CallSpec{Func: "f", Args: []any{1}}

	v1, err := New(reg, "v1").Key(ctx, spec)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	v2, err := New(reg, "v2").Key(ctx, spec)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if v1 == v2 {
		t.Error("different codec versions produced the same key")
	}
	if !strings.HasSuffix(v1, "-v1") || !strings.HasSuffix(v2, "-v2") {
		t.Errorf("keys missing version tag: %q, %q", v1, v2)
	}
	if len(v1) != KeyLen+len("-v1") {
		t.Errorf("key length = %d, want %d", len(v1), KeyLen+len("-v1"))
	}
}

func TestKey_EmptyCallable(t *testing.T) {
	f := New(codec.NewRegistry(), "v1")
	if _, err := f.Key(context.Background(), CallSpec{}); err == nil {
		t.Error("expected error for empty callable identity")
	}
}

func TestKey_EncodeErrorPropagates(t *testing.T) {
	f := New(codec.NewRegistry(codec.WithoutOpaqueFallback()), "v1")
	type private struct{ N int }
	_, err := f.Key(context.Background(), CallSpec{Func: "f", Args: []any{private{N: 1}}})
	if !errors.Is(err, codec.ErrEncode) {
		t.Errorf("err = %v, want codec.ErrEncode", err)
	}
}
