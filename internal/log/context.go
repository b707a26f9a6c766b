package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	eventIDKey  ctxKey = "event_id"
	uploadIDKey ctxKey = "upload_id"
)

// ContextWithEventID stores the provided event ID in the context.
func ContextWithEventID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventIDKey, id)
}

// ContextWithUploadID stores the provided upload session ID in the context.
func ContextWithUploadID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, uploadIDKey, id)
}

// EventIDFromContext extracts the event ID from context if present.
func EventIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(eventIDKey).(string); ok {
		return v
	}
	return ""
}

// UploadIDFromContext extracts the upload session ID from context if present.
func UploadIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(uploadIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if eid := EventIDFromContext(ctx); eid != "" {
		builder = builder.Str(FieldEventID, eid)
		added = true
	}
	if uid := UploadIDFromContext(ctx); uid != "" {
		builder = builder.Str(FieldUploadID, uid)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := FromContext(ctx)
	return WithContext(ctx, l.With().Str(FieldComponent, component).Logger())
}

// FromContext returns a logger from the context, or the base logger if not present.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}
