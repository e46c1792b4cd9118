// Package secret provides a small, dependency-light secret resolution layer
// for cache configuration values such as database DSNs and Redis credentials.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider + Registry)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:vault:database/creds/cache-password
//   - Inline use:  postgres://cache:secretref:vault:database/creds/cache-password@db/cache
package secret
