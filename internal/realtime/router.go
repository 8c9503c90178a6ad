package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
)

// HandlerFunc processes one inbound event for one connection.
type HandlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

// Router maps inbound event names to handlers with typed, validated
// payloads. It replaces framework annotation wiring with an explicit
// dispatch table.
type Router struct {
	handlers map[string]HandlerFunc
	validate *validator.Validate
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		validate: validator.New(),
	}
}

// Handle registers a handler for an event name. Registering the same
// name twice is a programming error.
func (r *Router) Handle(event string, fn HandlerFunc) {
	if _, dup := r.handlers[event]; dup {
		panic(fmt.Sprintf("realtime: duplicate handler for %q", event))
	}
	r.handlers[event] = fn
}

// Bind unmarshals a payload into v and validates its struct tags.
func (r *Router) Bind(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := r.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// Dispatch decodes one inbound frame and invokes its handler. Failures
// are reported to the sending socket only.
func (r *Router) Dispatch(ctx context.Context, c *Conn, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.SendError("MALFORMED_FRAME", "frames must be {\"event\": ..., \"data\": ...}")
		return
	}

	handler, ok := r.handlers[envelope.Event]
	if !ok {
		c.SendError("UNKNOWN_EVENT", fmt.Sprintf("no handler for event %q", envelope.Event))
		return
	}

	if err := handler(ctx, c, envelope.Data); err != nil {
		log.Printf("[REALTIME] %s handler: %v", envelope.Event, err)
	}
}
