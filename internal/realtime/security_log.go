package realtime

import (
	"os"

	"github.com/sirupsen/logrus"
)

// SecurityLogger emits structured JSON security events. It can be
// toggled off at runtime without touching the enforcement itself.
type SecurityLogger struct {
	enabled bool
	log     *logrus.Logger
}

func NewSecurityLogger(enabled bool) *SecurityLogger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)
	return &SecurityLogger{enabled: enabled, log: logger}
}

// RateLimited records one rejected attempt. kind is the limited action
// ("connection" or "bid").
func (l *SecurityLogger) RateLimited(kind, bidderID, ip string) {
	if !l.enabled {
		return
	}
	l.log.WithFields(logrus.Fields{
		"event":     "rate_limited",
		"kind":      kind,
		"bidder_id": bidderID,
		"ip":        ip,
	}).Warn("rate limit exceeded")
}

// AuthFailure records a failed socket authentication.
func (l *SecurityLogger) AuthFailure(ip string, err error) {
	if !l.enabled {
		return
	}
	l.log.WithFields(logrus.Fields{
		"event": "auth_failure",
		"ip":    ip,
		"error": err.Error(),
	}).Warn("socket authentication failed")
}
