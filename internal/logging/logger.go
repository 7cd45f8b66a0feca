package logging

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level. Unknown levels
// fall back to info.
func New(w io.Writer, level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
		Prefix:          "tldigest",
	})
}
