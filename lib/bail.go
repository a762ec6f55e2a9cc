package lib

import (
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Bail logs the error and exits with a nonzero code. Aggregates are logged
// one error per line; the full trace is added in debug mode.
func Bail(err error) {
	errs := []error{err}
	if agg, ok := trace.Unwrap(err).(trace.Aggregate); ok {
		errs = agg.Errors()
	}
	for _, err := range errs {
		entry := log.WithField("error", trace.UserMessage(err))
		if log.IsLevelEnabled(log.DebugLevel) {
			entry = entry.WithField("trace", trace.DebugReport(err))
		}
		entry.Error("Command failed")
	}
	os.Exit(1)
}
