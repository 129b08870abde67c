package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
type LogFields struct {
	DisputeID *string
	JurorID   *string
	ActorID   *string
	Tier      *int
	Component string // e.g. "disputeflow.reconciler"
}

// WithLogFields merges fields into the context; newer non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.DisputeID != nil {
		result.DisputeID = next.DisputeID
	}
	if next.JurorID != nil {
		result.JurorID = next.JurorID
	}
	if next.ActorID != nil {
		result.ActorID = next.ActorID
	}
	if next.Tier != nil {
		result.Tier = next.Tier
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Ptr returns a pointer to v, handy for inline LogFields literals.
func Ptr[T any](v T) *T {
	return &v
}
