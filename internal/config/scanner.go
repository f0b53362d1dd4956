package config

import (
    "time"

    "github.com/spf13/viper"
)

// ScannerConfig holds the device agent settings.
type ScannerConfig struct {
    ScannerID       string        // identity reported with every scan
    ServerURL       string        // admission server base url
    Token           string        // scanner bearer token
    DBPath          string        // sqlite file of the offline queue
    Capacity        int           // max queued entries before eviction
    RetryCap        int           // failed entries with fewer attempts are retried
    SubmitDelay     time.Duration // pause between sequential submissions
    SyncedGrace     time.Duration // how long synced entries stay visible
    SyncInterval    time.Duration // periodic sync while online
    ProbeInterval   time.Duration // connectivity probe period
    RequestTimeout  time.Duration // per request timeout towards the server
    BreakerFailures int           // consecutive failures that open the breaker
    BreakerCooldown time.Duration // time the breaker stays open
}

// LoadScannerConfig reads SCANNER_* settings.  Flags bound by the CLI
// take precedence when bind registers them on v.
func LoadScannerConfig(bind func(v *viper.Viper)) ScannerConfig {
    v := newViper()
    v.SetDefault("SCANNER_DB_PATH", "scanner-queue.db")
    v.SetDefault("SCANNER_SERVER_URL", "http://localhost:8080")
    v.SetDefault("SCANNER_CAPACITY", 1000)
    v.SetDefault("SCANNER_RETRY_CAP", 3)
    v.SetDefault("SCANNER_SUBMIT_DELAY", 250*time.Millisecond)
    v.SetDefault("SCANNER_SYNCED_GRACE", 3*time.Second)
    v.SetDefault("SCANNER_SYNC_INTERVAL", 30*time.Second)
    v.SetDefault("SCANNER_PROBE_INTERVAL", 10*time.Second)
    v.SetDefault("SCANNER_REQUEST_TIMEOUT", 10*time.Second)
    v.SetDefault("SCANNER_BREAKER_FAILURES", 5)
    v.SetDefault("SCANNER_BREAKER_COOLDOWN", 30*time.Second)
    if bind != nil {
        bind(v)
    }
    return ScannerConfig{
        ScannerID:       v.GetString("SCANNER_ID"),
        ServerURL:       v.GetString("SCANNER_SERVER_URL"),
        Token:           v.GetString("SCANNER_TOKEN"),
        DBPath:          v.GetString("SCANNER_DB_PATH"),
        Capacity:        v.GetInt("SCANNER_CAPACITY"),
        RetryCap:        v.GetInt("SCANNER_RETRY_CAP"),
        SubmitDelay:     v.GetDuration("SCANNER_SUBMIT_DELAY"),
        SyncedGrace:     v.GetDuration("SCANNER_SYNCED_GRACE"),
        SyncInterval:    v.GetDuration("SCANNER_SYNC_INTERVAL"),
        ProbeInterval:   v.GetDuration("SCANNER_PROBE_INTERVAL"),
        RequestTimeout:  v.GetDuration("SCANNER_REQUEST_TIMEOUT"),
        BreakerFailures: v.GetInt("SCANNER_BREAKER_FAILURES"),
        BreakerCooldown: v.GetDuration("SCANNER_BREAKER_COOLDOWN"),
    }
}
