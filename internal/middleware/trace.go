package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// TraceHeader carries the trace identifier on requests and responses.
const TraceHeader = "X-Trace-ID"

type traceIDKey struct{}

// TraceID ensures every request carries a trace identifier. The same value is
// written to submission logs and queue payloads.
func TraceID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		incoming := ""
		for _, header := range []string{TraceHeader, "X-Correlation-ID", "X-Request-ID"} {
			if value := strings.TrimSpace(c.Get(header)); value != "" {
				incoming = value
				break
			}
		}
		if incoming == "" || len(incoming) > 64 {
			incoming = uuid.NewString()
		}

		c.Locals("trace_id", incoming)
		c.Set(TraceHeader, incoming)
		c.SetUserContext(context.WithValue(c.UserContext(), traceIDKey{}, incoming))

		return c.Next()
	}
}

// TraceIDFromContext extracts the trace identifier from context, if present.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetTraceID returns the trace identifier bound to the active request.
func GetTraceID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals("trace_id").(string); ok {
		return id
	}
	return TraceIDFromContext(c.UserContext())
}
