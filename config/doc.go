// Package config loads and validates the cache engine configuration
// and wires configured components together.
//
// Configuration is explicit: Default() provides a working in-process
// setup, LoadFromFile reads a yaml file on top of the defaults, and
// LoadFromEnv applies CALLCACHE_* environment overrides. Build turns
// a Config into a ready Engine with the entry store, artifact store,
// codec registry, executor, observability, and health checks wired.
package config
