package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
)

// Logger logs one line per request after it has been handled.
func Logger() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                // let echo's error handler set the final status first
                c.Error(err)
            }

            status := c.Response().Status
            entry := logrus.WithFields(logrus.Fields{
                "method":    c.Request().Method,
                "path":      c.Path(),
                "status":    status,
                "duration":  time.Since(start),
                "client_ip": c.RealIP(),
                "subject":   SubjectID(c),
            })
            switch {
            case status >= 500:
                entry.Error("request failed")
            case status >= 400:
                entry.Warn("request rejected")
            default:
                entry.Info("request processed")
            }
            return nil
        }
    }
}
