package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowOperation marks operations worth a warning. Trades hold a user lock for
// their whole duration, so anything past this is noticeable to that user.
const slowOperation = 2 * time.Second

// OperationTimer starts timing operation; the returned func logs the elapsed
// time and is meant to be deferred.
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()
	return func() {
		logDuration(log, "operation", operation, time.Since(start), nil)
	}
}

// MeasureDBQuery starts timing a query; the returned func logs the elapsed
// time together with the number of rows the query touched.
func MeasureDBQuery(queryName string, log zerolog.Logger) func(rows int64) {
	start := time.Now()
	return func(rows int64) {
		logDuration(log, "query", queryName, time.Since(start), func(e *zerolog.Event) {
			e.Int64("rows", rows)
		})
	}
}

func logDuration(log zerolog.Logger, key, name string, elapsed time.Duration, extra func(*zerolog.Event)) {
	event := log.Debug()
	if elapsed > slowOperation {
		event = log.Warn().Bool("slow", true)
	}
	if extra != nil {
		extra(event)
	}
	event.Str(key, name).Dur("duration", elapsed).Msg("Timed " + key + " completed")
}
