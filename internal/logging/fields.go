package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldComponent     = "component"
	FieldSource        = "source"
	FieldObservationID = "observation_id"
	FieldEventID       = "event_id"
	FieldAddr          = "addr"
	FieldSubject       = "subject"
	FieldError         = "error"
	FieldCount         = "count"
)

// Component returns a slog attribute naming the pipeline component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Source returns a slog attribute for a feed source ID.
func Source(id string) slog.Attr {
	return slog.String(FieldSource, id)
}

// ObservationID returns a slog attribute for an observation ID.
func ObservationID(id string) slog.Attr {
	return slog.String(FieldObservationID, id)
}

// EventID returns a slog attribute for an attack event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Addr returns a slog attribute for a network address or prefix.
func Addr(addr string) slog.Attr {
	return slog.String(FieldAddr, addr)
}

// Subject returns a slog attribute for a message bus subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Count returns a slog attribute for a generic count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
