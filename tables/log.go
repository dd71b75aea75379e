package tables

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a text logger on stderr with wall clock timestamps.
// Verbose enables per pass debug messages.
func NewLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
