// Package fingerprint turns a call specification into a deterministic
// cache key.
//
// A CallSpec names a callable and carries its positional and named
// arguments. Fingerprinting canonicalizes the call (arguments encoded
// through a codec registry, named arguments sorted by name), hashes the
// canonical bytes, and appends a codec-version tag so entries written
// under one wire format are never read back under another.
//
// The load-bearing property is cross-process determinism: the same
// logical call must produce byte-identical keys on any host running the
// same codec version.
package fingerprint
