package config

// Redis backs the NFC rate limiter, binding challenges, the HTTP edge
// limiter and the rule cache.  If the server cannot be reached at
// startup NewRedisClient returns nil; the HTTP limiter and rule cache
// then switch off while NFC validation reports itself unavailable.

import (
    "context"
    "crypto/tls"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"
)

// NewRedisClient instantiates a Redis client from the environment.
// Supported variables are:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (used when host/port are not both set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when true
func NewRedisClient() *redis.Client {
    v := newViper()
    addr := v.GetString("REDIS_ADDR")
    if host, port := v.GetString("REDIS_HOST"), v.GetString("REDIS_PORT"); host != "" && port != "" {
        addr = host + ":" + port
    }
    var tlsConf *tls.Config
    if v.GetBool("REDIS_TLS") {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      addr,
        Password:  v.GetString("REDIS_PASSWORD"),
        DB:        v.GetInt("REDIS_DB"),
        TLSConfig: tlsConf,
    })
    // Ping the server with a short timeout.  Return nil on failure.
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        logrus.WithError(err).WithField("addr", addr).Warn("redis unavailable")
        _ = client.Close()
        return nil
    }
    return client
}
