package config

import (
    "os"

    "github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger: JSON in production,
// colourless text elsewhere.
func SetupLogging(env, level string) {
    logrus.SetOutput(os.Stdout)
    if env == "prod" || env == "production" {
        logrus.SetFormatter(&logrus.JSONFormatter{})
    } else {
        logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
    }
    lvl, err := logrus.ParseLevel(level)
    if err != nil {
        lvl = logrus.InfoLevel
    }
    logrus.SetLevel(lvl)
}
