package config

import "time"

// RateLimitConfig drives the token bucket on the HTTP edge.
type RateLimitConfig struct {
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
    Debug          bool
}

func LoadRateLimitConfig() RateLimitConfig {
    v := newViper()
    def := RateLimitConfig{
        Enabled:        v.GetBool("RATE_LIMIT_ENABLED"),
        Capacity:       v.GetInt("RATE_LIMIT_CAPACITY"),
        RefillTokens:   v.GetInt("RATE_LIMIT_REFILL_TOKENS"),
        RefillInterval: v.GetDuration("RATE_LIMIT_REFILL_INTERVAL"),
        TTL:            v.GetDuration("RATE_LIMIT_TTL"),
        KeyStrategy:    v.GetString("RATE_LIMIT_KEY_STRATEGY"),
        Prefix:         v.GetString("RATE_LIMIT_PREFIX"),
        Debug:          v.GetBool("RATE_LIMIT_DEBUG"),
    }
    if def.Capacity < 1 { def.Capacity = 1 }
    if def.RefillTokens < 1 { def.RefillTokens = 1 }
    if def.RefillInterval <= 0 { def.RefillInterval = time.Second }
    minTTL := 5 * def.RefillInterval
    if def.TTL < minTTL { def.TTL = minTTL }
    return def
}

// NFCRateConfig is the per-band fixed window limit on NFC validations.
type NFCRateConfig struct {
    MaxRequests int
    Window      time.Duration
    Prefix      string
}

func LoadNFCRateConfig() NFCRateConfig {
    v := newViper()
    c := NFCRateConfig{
        MaxRequests: v.GetInt("NFC_RATE_MAX"),
        Window:      v.GetDuration("NFC_RATE_WINDOW"),
        Prefix:      v.GetString("NFC_RATE_PREFIX"),
    }
    if c.MaxRequests < 1 { c.MaxRequests = 10 }
    if c.Window < time.Second { c.Window = 60 * time.Second }
    return c
}
