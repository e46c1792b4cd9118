package executor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonwraymond/callcache/artifact"
	"github.com/jonwraymond/callcache/codec"
	"github.com/jonwraymond/callcache/executor"
	"github.com/jonwraymond/callcache/fingerprint"
	"github.com/jonwraymond/callcache/store"
)

func ExampleExecutor_GetOrCompute() {
	dir, _ := os.MkdirTemp("", "callcache-example")
	defer os.RemoveAll(dir)

	artifacts, _ := artifact.NewFSStore(filepath.Join(dir, "artifacts"))
	reg := codec.NewRegistry()
	_ = reg.RegisterCapability(codec.FileCapability,
		codec.NewFileCodec(artifacts, filepath.Join(dir, "spool")))
	entries := store.NewMemoryStore()

	exec, _ := executor.New(reg, entries, artifacts)

	calls := 0
	add := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		calls++
		return args[0].(float64) + args[1].(float64), nil
	}
	spec := fingerprint.CallSpec{Func: "add", Args: []any{float64(2), float64(3)}}

	ctx := context.Background()
	first, _ := exec.GetOrCompute(ctx, spec, add)
	second, _ := exec.GetOrCompute(ctx, spec, add)

	fmt.Println("first:", first)
	fmt.Println("second:", second)
	fmt.Println("computations:", calls)
	// Output:
	// first: 5
	// second: 5
	// computations: 1
}

func ExampleFuncMap() {
	dir, _ := os.MkdirTemp("", "callcache-example")
	defer os.RemoveAll(dir)

	artifacts, _ := artifact.NewFSStore(filepath.Join(dir, "artifacts"))
	reg := codec.NewRegistry()
	entries := store.NewMemoryStore()

	funcs := executor.FuncMap{
		"greet": func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return "hello, " + args[0].(string), nil
		},
	}
	exec, _ := executor.New(reg, entries, artifacts, executor.WithResolver(funcs))

	v, _ := exec.Call(context.Background(), fingerprint.CallSpec{
		Func: "greet",
		Args: []any{"cache"},
	})
	fmt.Println(v)

	_, err := exec.Call(context.Background(), fingerprint.CallSpec{Func: "unlisted"})
	fmt.Println(err != nil)
	// Output:
	// hello, cache
	// true
}
