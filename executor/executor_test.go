package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/callcache/artifact"
	"github.com/jonwraymond/callcache/codec"
	"github.com/jonwraymond/callcache/fingerprint"
	"github.com/jonwraymond/callcache/store"
)

type fixture struct {
	exec      *Executor
	entries   *store.MemoryStore
	artifacts *artifact.FSStore
	reg       *codec.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	artifacts, err := artifact.NewFSStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	reg := codec.NewRegistry()
	fc := codec.NewFileCodec(artifacts, filepath.Join(t.TempDir(), "spool"))
	if err := reg.RegisterCapability(codec.FileCapability, fc); err != nil {
		t.Fatalf("RegisterCapability: %v", err)
	}
	entries := store.NewMemoryStore()
	exec, err := New(reg, entries, artifacts, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{exec: exec, entries: entries, artifacts: artifacts, reg: reg}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestExecutor_GetOrCompute_CachesResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var calls atomic.Int64
	add := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls.Add(1)
		return args[0].(float64) + args[1].(float64), nil
	}
	spec := fingerprint.CallSpec{Func: "add", Args: []any{float64(2), float64(3)}}

	v, err := f.exec.GetOrCompute(ctx, spec, add)
	if err != nil {
		t.Fatalf("first GetOrCompute: %v", err)
	}
	if v.(float64) != 5 {
		t.Fatalf("first result = %v, want 5", v)
	}

	v, err = f.exec.GetOrCompute(ctx, spec, add)
	if err != nil {
		t.Fatalf("second GetOrCompute: %v", err)
	}
	if v.(float64) != 5 {
		t.Fatalf("second result = %v, want 5", v)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("callable invoked %d times, want 1", n)
	}
}

func TestExecutor_DistinctCallsDoNotCollide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	add := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	}

	v1, err := f.exec.GetOrCompute(ctx, fingerprint.CallSpec{Func: "add", Args: []any{float64(2), float64(3)}}, add)
	if err != nil {
		t.Fatalf("GetOrCompute(2,3): %v", err)
	}
	v2, err := f.exec.GetOrCompute(ctx, fingerprint.CallSpec{Func: "add", Args: []any{float64(3), float64(2)}}, add)
	if err != nil {
		t.Fatalf("GetOrCompute(3,2): %v", err)
	}
	if v1.(float64) != 5 || v2.(float64) != 5 {
		t.Fatalf("results = %v, %v, want 5, 5", v1, v2)
	}

	k1, _ := f.exec.Fingerprint(ctx, fingerprint.CallSpec{Func: "add", Args: []any{float64(2), float64(3)}})
	k2, _ := f.exec.Fingerprint(ctx, fingerprint.CallSpec{Func: "add", Args: []any{float64(3), float64(2)}})
	if k1 == k2 {
		t.Error("argument order produced identical keys")
	}
}

func TestExecutor_ConcurrentCallers_SingleComputation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var calls atomic.Int64
	slow := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "computed", nil
	}
	spec := fingerprint.CallSpec{Func: "slow", Args: []any{"x"}}

	const n = 32
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.exec.GetOrCompute(ctx, spec, slow)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].(string) != "computed" {
			t.Fatalf("caller %d result = %v", i, results[i])
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("callable invoked %d times, want 1", got)
	}
}

func TestExecutor_FailuresNeverCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	boom := errors.New("compute exploded")
	var calls atomic.Int64
	failing := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls.Add(1)
		return nil, boom
	}
	spec := fingerprint.CallSpec{Func: "failing"}

	if _, err := f.exec.GetOrCompute(ctx, spec, failing); !errors.Is(err, boom) {
		t.Fatalf("first error = %v, want %v", err, boom)
	}
	if _, err := f.exec.GetOrCompute(ctx, spec, failing); !errors.Is(err, boom) {
		t.Fatalf("second error = %v, want %v", err, boom)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("callable invoked %d times, want 2 (failures recompute)", n)
	}

	key, err := f.exec.Fingerprint(ctx, spec)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if _, err := f.entries.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after failure = %v, want ErrNotFound", err)
	}
}

func TestExecutor_OutputInvalidation_Recomputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := writeTemp(t, "out.txt", "original output")
	var calls atomic.Int64
	produce := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls.Add(1)
		lf, err := codec.NewLocalFile(out)
		if err != nil {
			return nil, err
		}
		return lf, nil
	}
	spec := fingerprint.CallSpec{Func: "produce"}

	if _, err := f.exec.GetOrCompute(ctx, spec, produce); err != nil {
		t.Fatalf("first GetOrCompute: %v", err)
	}

	// Mutate the output file in place; the checksum no longer matches
	// the cached reference.
	if err := os.WriteFile(out, []byte("tampered with after caching"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	v, err := f.exec.GetOrCompute(ctx, spec, produce)
	if err != nil {
		t.Fatalf("second GetOrCompute: %v", err)
	}
	if _, ok := v.(*codec.LocalFile); !ok {
		t.Fatalf("result type = %T, want *codec.LocalFile", v)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("callable invoked %d times, want 2 (stale output recomputes)", n)
	}
}

func TestExecutor_InputInvalidation_DoesNotInvoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seed an entry as another process would have: the cached call
	// consumed a file input that has since vanished everywhere.
	content := "input bytes"
	in := writeTemp(t, "in.txt", content)
	lf, err := codec.NewLocalFile(in)
	if err != nil {
		t.Fatalf("NewLocalFile: %v", err)
	}
	inputsWire, err := f.reg.Marshal(ctx, map[string]any{"args": []any{lf}})
	if err != nil {
		t.Fatalf("Marshal inputs: %v", err)
	}
	resultWire, err := f.reg.Marshal(ctx, "derived")
	if err != nil {
		t.Fatalf("Marshal result: %v", err)
	}

	spec := fingerprint.CallSpec{Func: "consume"}
	key, err := f.exec.Fingerprint(ctx, spec)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	claim, _, err := f.entries.TryClaim(ctx, key)
	if err != nil || claim == nil {
		t.Fatalf("TryClaim: claim=%v err=%v", claim, err)
	}
	now := time.Now().UTC()
	if err := f.entries.Commit(ctx, claim, &store.Entry{
		Key: key, Result: resultWire, Inputs: inputsWire,
		CreatedAt: now, AccessedAt: now, AccessCount: 1,
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// The input reference no longer resolves anywhere.
	if err := os.Remove(in); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.artifacts.Delete(ctx, artifact.ChecksumBytes([]byte(content))); err != nil {
		t.Fatalf("artifact Delete: %v", err)
	}

	var calls atomic.Int64
	consume := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls.Add(1)
		return "derived", nil
	}
	if _, err := f.exec.GetOrCompute(ctx, spec, consume); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("callable invoked %d times, want 0 (stale input must not recompute)", n)
	}
}

func TestExecutor_LockTimeout(t *testing.T) {
	f := newFixture(t,
		WithClaimTimeout(60*time.Millisecond),
		WithClaimBackoff(5*time.Millisecond, 10*time.Millisecond))
	ctx := context.Background()

	spec := fingerprint.CallSpec{Func: "held"}
	key, err := f.exec.Fingerprint(ctx, spec)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	// Hold the claim as if another process were computing.
	claim, entry, err := f.entries.TryClaim(ctx, key)
	if err != nil || claim == nil || entry != nil {
		t.Fatalf("TryClaim = (%v, %v, %v), want held claim", claim, entry, err)
	}

	fn := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		t.Error("callable must not run while the claim is held")
		return nil, nil
	}
	if _, err := f.exec.GetOrCompute(ctx, spec, fn); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("error = %v, want ErrLockTimeout", err)
	}
}

func TestExecutor_WaiterGetsCommittedResult(t *testing.T) {
	f := newFixture(t,
		WithClaimTimeout(2*time.Second),
		WithClaimBackoff(5*time.Millisecond, 10*time.Millisecond))
	ctx := context.Background()

	spec := fingerprint.CallSpec{Func: "handoff"}
	key, err := f.exec.Fingerprint(ctx, spec)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	claim, _, err := f.entries.TryClaim(ctx, key)
	if err != nil || claim == nil {
		t.Fatalf("TryClaim: claim=%v err=%v", claim, err)
	}

	// Commit from the "other process" while the waiter backs off.
	go func() {
		time.Sleep(30 * time.Millisecond)
		wire, err := f.reg.Marshal(ctx, "from elsewhere")
		if err != nil {
			t.Errorf("Marshal: %v", err)
			return
		}
		now := time.Now().UTC()
		_ = f.entries.Commit(ctx, claim, &store.Entry{
			Key: key, Result: wire, CreatedAt: now, AccessedAt: now, AccessCount: 1,
		})
	}()

	fn := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		t.Error("callable must not run; the other holder commits")
		return nil, nil
	}
	v, err := f.exec.GetOrCompute(ctx, spec, fn)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if v.(string) != "from elsewhere" {
		t.Errorf("result = %v, want committed value", v)
	}
}

func TestExecutor_WithoutCache_AlwaysComputes(t *testing.T) {
	f := newFixture(t, WithoutCache())
	ctx := context.Background()

	var calls atomic.Int64
	fn := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls.Add(1)
		return "fresh", nil
	}
	spec := fingerprint.CallSpec{Func: "fresh"}

	for i := 0; i < 3; i++ {
		if _, err := f.exec.GetOrCompute(ctx, spec, fn); err != nil {
			t.Fatalf("GetOrCompute %d: %v", i, err)
		}
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("callable invoked %d times, want 3", n)
	}
}

func TestExecutor_UnencodableResult_ReturnedNotCached(t *testing.T) {
	artifacts, err := artifact.NewFSStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	reg := codec.NewRegistry(codec.WithoutOpaqueFallback())
	entries := store.NewMemoryStore()
	exec, err := New(reg, entries, artifacts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	type opaque struct{ ch chan int }
	fn := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return opaque{ch: make(chan int)}, nil
	}
	spec := fingerprint.CallSpec{Func: "opaque"}

	v, err := exec.GetOrCompute(ctx, spec, fn)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if _, ok := v.(opaque); !ok {
		t.Fatalf("result type = %T, want opaque value returned to caller", v)
	}

	key, err := exec.Fingerprint(ctx, spec)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if _, err := entries.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound (entry must not be cached)", err)
	}
}

func TestExecutor_Cleanup_DeletesUnreferencedArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var refs []codec.FileRef
	for i := 0; i < 2; i++ {
		path := writeTemp(t, fmt.Sprintf("out%d.txt", i), fmt.Sprintf("payload number %d", i))
		fn := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return codec.NewLocalFile(path)
		}
		spec := fingerprint.CallSpec{Func: fmt.Sprintf("produce%d", i)}
		v, err := f.exec.GetOrCompute(ctx, spec, fn)
		if err != nil {
			t.Fatalf("GetOrCompute %d: %v", i, err)
		}
		refs = append(refs, v.(*codec.LocalFile).Ref())

		// Touch to establish recency ordering for eviction.
		key, _ := f.exec.Fingerprint(ctx, spec)
		if i == 1 {
			if err := f.entries.Touch(ctx, key); err != nil {
				t.Fatalf("Touch: %v", err)
			}
		}
	}

	removed, err := f.exec.Cleanup(ctx, store.Policy{MaxCount: 1})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	// The evicted entry's artifact is gone; the survivor's remains.
	if _, err := f.artifacts.Stat(ctx, refs[0].Checksum); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("evicted artifact Stat = %v, want ErrNotFound", err)
	}
	if _, err := f.artifacts.Stat(ctx, refs[1].Checksum); err != nil {
		t.Errorf("surviving artifact Stat: %v", err)
	}
}

func TestExecutor_SizeBytesCountsArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The wire form of a file-backed result is a small reference; the
	// real footprint is the artifact content behind it.
	content := strings.Repeat("x", 4096)
	path := writeTemp(t, "big.txt", content)
	fn := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return codec.NewLocalFile(path)
	}
	spec := fingerprint.CallSpec{Func: "produce-big"}
	if _, err := f.exec.GetOrCompute(ctx, spec, fn); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	key, _ := f.exec.Fingerprint(ctx, spec)
	entry, err := f.entries.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.SizeBytes < int64(len(content)) {
		t.Fatalf("SizeBytes = %d, want at least %d (artifact content)", entry.SizeBytes, len(content))
	}

	// A size bound smaller than the artifact must evict the entry.
	removed, err := f.exec.Cleanup(ctx, store.Policy{MaxSizeBytes: 1024})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := f.entries.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("entry survived a size bound below its artifact footprint: %v", err)
	}
}

func TestExecutor_Call_ResolvesThroughRegistry(t *testing.T) {
	funcs := FuncMap{
		"double": func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return args[0].(float64) * 2, nil
		},
	}
	f := newFixture(t, WithResolver(funcs))
	ctx := context.Background()

	v, err := f.exec.Call(ctx, fingerprint.CallSpec{Func: "double", Args: []any{float64(21)}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v.(float64) != 42 {
		t.Errorf("result = %v, want 42", v)
	}

	if _, err := f.exec.Call(ctx, fingerprint.CallSpec{Func: "missing"}); !errors.Is(err, ErrUnknownCallable) {
		t.Errorf("error = %v, want ErrUnknownCallable", err)
	}
}

func TestExecutor_Call_NoResolver(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exec.Call(context.Background(), fingerprint.CallSpec{Func: "anything"}); !errors.Is(err, ErrNoResolver) {
		t.Errorf("error = %v, want ErrNoResolver", err)
	}
}

func TestNew_NilDependencies(t *testing.T) {
	reg := codec.NewRegistry()
	entries := store.NewMemoryStore()
	artifacts, err := artifact.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	cases := []struct {
		name string
		fn   func() (*Executor, error)
	}{
		{"nil registry", func() (*Executor, error) { return New(nil, entries, artifacts) }},
		{"nil entry store", func() (*Executor, error) { return New(reg, nil, artifacts) }},
		{"nil artifact store", func() (*Executor, error) { return New(reg, entries, nil) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.fn(); !errors.Is(err, ErrNilDependency) {
				t.Errorf("error = %v, want ErrNilDependency", err)
			}
		})
	}
}
