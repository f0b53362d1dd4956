package config

import "time"

// RuleCacheConfig controls the Redis cache in front of usage rule
// lookups.  Rules are read on every scan but change rarely, so a short
// TTL is enough to keep edits visible quickly.
type RuleCacheConfig struct {
    Enabled bool
    TTL     time.Duration
    Prefix  string
}

// LoadRuleCacheConfig reads the cache settings.
func LoadRuleCacheConfig() RuleCacheConfig {
    v := newViper()
    c := RuleCacheConfig{
        Enabled: v.GetBool("RULE_CACHE_ENABLED"),
        TTL:     v.GetDuration("RULE_CACHE_TTL"),
        Prefix:  v.GetString("RULE_CACHE_PREFIX"),
    }
    if c.TTL <= 0 {
        c.Enabled = false
    }
    return c
}
