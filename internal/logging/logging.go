// Package logging configures the structured logger shared by every
// component of the ingestion core.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Level mirrors the LOG_LEVEL configuration values.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  Level
	Format string // "json" or "text"
}

// New builds the root *logrus.Logger for the process. Components derive
// their own *logrus.Entry from it with WithField("component", name),
// never constructing a second root logger.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	return logger
}

// Component returns a *logrus.Entry tagged with the owning component's
// name, the pattern every package in this repo uses to obtain its logger.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
