// Package observe provides observability primitives for the cache
// engine.
//
// It is a pure instrumentation library: no caching, no storage, no I/O
// beyond exporter setup. The executor wires the observer around its
// lookup and compute steps.
package observe
