package telemetry

import (
	"context"

	"github.com/oshokin/ship-safety/internal/logger"
)

// LogWriter logs samples at debug level.
type LogWriter struct{}

// Write logs every sample.
func (LogWriter) Write(ctx context.Context, samples []Sample) error {
	for _, sample := range samples {
		logger.DebugKV(ctx, "Health sample",
			"system", sample.System,
			"status", sample.Status,
			"score", sample.Score,
			"penalty", sample.Penalty,
			"active_alarms", sample.ActiveAlarms,
			"active_sessions", sample.ActiveSessions,
			"faulty_devices", sample.FaultyDevices,
		)
	}

	return nil
}

// Close does nothing.
func (LogWriter) Close() error {
	return nil
}
