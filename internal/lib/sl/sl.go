// Package sl holds small helpers for log/slog attributes.
package sl

import "log/slog"

// Err returns an slog attribute carrying the error text under the "error" key.
//
//	log.Error("failed to reserve position", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}
