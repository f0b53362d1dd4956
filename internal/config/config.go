package config // package config loads application configuration from the environment

import (
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/sirupsen/logrus"
    "github.com/spf13/viper"
)

// Config holds the admission server settings.  Each field corresponds to
// an environment variable; an optional .env file is read first.
type Config struct {
    Env            string // application environment (e.g. "dev", "prod")
    Port           string // HTTP port to listen on
    LogLevel       string // logrus level name
    DBUser         string // database username
    DBPass         string // database password (optional)
    DBHost         string // database host address
    DBPort         string // database port number
    DBName         string // database name
    DBMaxOpenConns int    // connection pool size
    JWTSecret      string // secret that scanner/admin access tokens are signed with

    CredentialKeys      string // "kid:secret,..." keys for QR and NFC credentials
    CredentialActiveKey string // kid used for signing; first key when empty
    BandSecretMaster    string // master secret per-band binding secrets derive from

    BandTokenTTL         time.Duration // lifetime of band security tokens
    BindingTTL           time.Duration // lifetime of binding tokens and challenges
    TagPayloadTTL        time.Duration // expiry written into bound tag payloads
    SessionMaxAge        time.Duration // open usage sessions older than this are closed
    SessionSweepInterval time.Duration // how often stale sessions are swept

    RabbitURL   string // AMQP url; empty disables event publishing
    AlertLogDir string // directory the alert consumer appends alerts.log to
}

// newViper returns a viper instance bound to the environment with the
// defaults of every optional setting.
func newViper() *viper.Viper {
    // A missing .env is fine; real deployments set the environment.
    _ = godotenv.Load()

    v := viper.New()
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    v.SetDefault("APP_ENV", "dev")
    v.SetDefault("APP_PORT", "8080")
    v.SetDefault("LOG_LEVEL", "info")
    v.SetDefault("DB_PORT", "3306")
    v.SetDefault("DB_MAX_OPEN_CONNS", 25)
    v.SetDefault("BAND_TOKEN_TTL", 24*time.Hour)
    v.SetDefault("BINDING_TTL", 5*time.Minute)
    v.SetDefault("TAG_PAYLOAD_TTL", 365*24*time.Hour)
    v.SetDefault("SESSION_MAX_AGE", 4*time.Hour)
    v.SetDefault("SESSION_SWEEP_INTERVAL", time.Minute)
    v.SetDefault("ALERT_LOG_DIR", "logs")

    v.SetDefault("NFC_RATE_MAX", 10)
    v.SetDefault("NFC_RATE_WINDOW", 60*time.Second)
    v.SetDefault("NFC_RATE_PREFIX", "nfc:rl")

    v.SetDefault("RATE_LIMIT_ENABLED", true)
    v.SetDefault("RATE_LIMIT_CAPACITY", 60)
    v.SetDefault("RATE_LIMIT_REFILL_TOKENS", 1)
    v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", time.Second)
    v.SetDefault("RATE_LIMIT_TTL", 10*time.Minute)
    v.SetDefault("RATE_LIMIT_KEY_STRATEGY", "ip_subject_route")
    v.SetDefault("RATE_LIMIT_PREFIX", "rl")

    v.SetDefault("RULE_CACHE_ENABLED", true)
    v.SetDefault("RULE_CACHE_TTL", 30*time.Second)
    v.SetDefault("RULE_CACHE_PREFIX", "rules")

    v.SetDefault("REDIS_ADDR", "localhost:6379")
    v.SetDefault("REDIS_DB", 0)
    return v
}

// Load reads the server configuration.  Required variables are enforced
// by must() and missing values stop the process.
func Load() Config {
    v := newViper()
    return Config{
        Env:            v.GetString("APP_ENV"),
        Port:           v.GetString("APP_PORT"),
        LogLevel:       v.GetString("LOG_LEVEL"),
        DBUser:         must(v, "DB_USER"),
        DBPass:         v.GetString("DB_PASS"),
        DBHost:         must(v, "DB_HOST"),
        DBPort:         v.GetString("DB_PORT"),
        DBName:         must(v, "DB_NAME"),
        DBMaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
        JWTSecret:      must(v, "JWT_SECRET"),

        CredentialKeys:      must(v, "CREDENTIAL_KEYS"),
        CredentialActiveKey: v.GetString("CREDENTIAL_ACTIVE_KEY"),
        BandSecretMaster:    must(v, "BAND_SECRET_MASTER"),

        BandTokenTTL:         v.GetDuration("BAND_TOKEN_TTL"),
        BindingTTL:           v.GetDuration("BINDING_TTL"),
        TagPayloadTTL:        v.GetDuration("TAG_PAYLOAD_TTL"),
        SessionMaxAge:        v.GetDuration("SESSION_MAX_AGE"),
        SessionSweepInterval: v.GetDuration("SESSION_SWEEP_INTERVAL"),

        RabbitURL:   v.GetString("RABBITMQ_URL"),
        AlertLogDir: v.GetString("ALERT_LOG_DIR"),
    }
}

// must retrieves a required setting.  If it is unset or empty the
// process logs a fatal error and exits.
func must(v *viper.Viper, key string) string {
    s := v.GetString(key)
    if s == "" {
        logrus.Fatalf("missing required env var: %s", key)
    }
    return s
}

// LoadJWTSecret reads only JWT_SECRET, for tooling that mints access
// tokens without touching the database.
func LoadJWTSecret() string {
    return must(newViper(), "JWT_SECRET")
}
