// Package logging wires structured, leveled logging for the daemon using
// logrus. The teacher (zph-mup) declares sirupsen/logrus directly in its
// go.mod but never actually imports it anywhere in pkg/logger/logger.go,
// which hand-rolls fmt.Printf-based leveled logging instead; this package
// is the corrected version that actually exercises the declared
// dependency, in the teacher's own leveled-logging shape (Debug/Info/Warn/
// Error, an env-var level switch).
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger configured from the LOG_LEVEL environment
// variable (debug/info/warn/error, default info), matching the level names
// the teacher's hand-rolled logger recognised.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(levelFromEnv())
	return l
}

func levelFromEnv() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// ForSite returns a logger with site/branch fields set, so every log line
// emitted while handling one site is attributable to it without repeating
// the fields at every call site.
func ForSite(base *logrus.Logger, site, branch string) *logrus.Entry {
	return base.WithFields(logrus.Fields{"site": site, "branch": branch})
}
