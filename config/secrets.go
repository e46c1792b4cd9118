package config

import (
	"context"
	"fmt"

	"github.com/jonwraymond/callcache/secret"
)

// ResolveSecrets expands environment references and secretref values
// in the credential-bearing fields (database DSN, Redis address and
// password). A nil resolver still performs strict environment
// expansion.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	fields := map[string]*string{
		"cache_db":                 &c.CacheDB,
		"artifacts.redis_addr":     &c.Artifacts.RedisAddr,
		"artifacts.redis_password": &c.Artifacts.RedisPassword,
	}
	for name, f := range fields {
		if *f == "" {
			continue
		}
		resolved, err := r.ResolveValue(ctx, *f)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", name, err)
		}
		*f = resolved
	}
	return nil
}
