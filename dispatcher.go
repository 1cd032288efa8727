package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// Handler is a registered event callback. Identity is by pointer: the same
// *Handler registered twice for one event is invoked once per frame.
type Handler struct {
	fn func(Event)
}

// NewHandler wraps fn in a Handler that can later be passed to Off.
func NewHandler(fn func(Event)) *Handler {
	return &Handler{fn: fn}
}

// Sender writes one outbound envelope.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// Dispatcher is the typed handler table on top of the channel. Frames are
// decoded once and delivered to every handler synchronously, in arrival order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventName][]*Handler
	sender   Sender
	log      *zap.Logger
}

// NewDispatcher creates a dispatcher that emits through sender.
func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[EventName][]*Handler),
		sender:   sender,
		log:      logger.Named("dispatcher"),
	}
}

// Attach routes the manager's frames and state transitions into d.
func (d *Dispatcher) Attach(m *ChannelManager) {
	m.OnFrame(d.Deliver)
	m.OnState(func(state ConnState, reason string) {
		switch state {
		case StateConnected:
			d.raise(ConnectEvent{})
		case StateDisconnected:
			d.raise(DisconnectEvent{Reason: reason})
		}
	})
}

// On registers h for name. Registering the same handler again is a no-op.
func (d *Dispatcher) On(name EventName, h *Handler) {
	if h == nil || h.fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.handlers[name] {
		if existing == h {
			return
		}
	}
	d.handlers[name] = append(d.handlers[name], h)
}

// Off removes h from name. Removing an unregistered handler is a no-op.
func (d *Dispatcher) Off(name EventName, h *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.handlers[name]
	for i, existing := range list {
		if existing == h {
			next := make([]*Handler, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(d.handlers, name)
			} else {
				d.handlers[name] = next
			}
			return
		}
	}
}

// Handlers returns the number of handlers registered for name.
func (d *Dispatcher) Handlers(name EventName) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}

// Emit sends one outbound frame. It does not wait for a reply.
func (d *Dispatcher) Emit(ctx context.Context, typ string, payload any, requestID string) error {
	if d.sender == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	return d.sender.Send(ctx, Envelope{Type: typ, Payload: data, RequestID: requestID})
}

// Deliver decodes env and fans it out. Malformed and unknown frames are
// logged and dropped.
func (d *Dispatcher) Deliver(env Envelope) {
	ev, err := decodeEvent(env)
	if err != nil {
		d.log.Warn("dropping inbound frame", zap.String("event", env.Type), zap.Error(err))
		return
	}
	switch e := ev.(type) {
	case ConnectedEvent:
		d.log.Info("server greeting", zap.String("user_id", e.UserID), zap.String("username", e.Username))
	case ErrorEvent:
		d.log.Warn("server error", zap.String("message", e.Message))
	}
	d.raise(ev)
}

func (d *Dispatcher) raise(ev Event) {
	d.mu.RLock()
	handlers := append([]*Handler(nil), d.handlers[ev.Name()]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(h, ev)
	}
}

func (d *Dispatcher) invoke(h *Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", zap.String("event", string(ev.Name())), zap.Any("panic", r))
		}
	}()
	h.fn(ev)
}
