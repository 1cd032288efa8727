package chatsync

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventName identifies an inbound event.
type EventName string

const (
	EventConnect          EventName = "connect"
	EventDisconnect       EventName = "disconnect"
	EventConnected        EventName = "connected"
	EventJoinedRoom       EventName = "joinedRoom"
	EventNewMessage       EventName = "newMessage"
	EventOlderMessages    EventName = "olderMessages"
	EventNewDirectMessage EventName = "newDirectMessage"
	EventUserJoined       EventName = "userJoined"
	EventUserLeft         EventName = "userLeft"
	EventError            EventName = "error"
)

// Event is one decoded inbound frame. The concrete type is determined by Name.
type Event interface {
	Name() EventName
}

// ConnectEvent is raised locally when the channel reaches StateConnected.
type ConnectEvent struct{}

// DisconnectEvent is raised locally when the channel drops.
type DisconnectEvent struct {
	Reason string
}

// ConnectedEvent is the server greeting sent after the handshake.
type ConnectedEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// JoinedRoomEvent carries the snapshot of a room the client just joined.
type JoinedRoomEvent struct {
	RoomID      string    `json:"roomId"`
	Messages    []Message `json:"messages"`
	OnlineUsers []string  `json:"onlineUsers"`
}

// NewMessageEvent is a message pushed to a room.
type NewMessageEvent struct {
	Message Message
}

// OlderMessagesEvent is one page of history, oldest first.
type OlderMessagesEvent struct {
	RoomID    string    `json:"roomId"`
	Messages  []Message `json:"messages"`
	HasMore   bool      `json:"hasMore"`
	RequestID string    `json:"requestId,omitempty"`
}

// NewDirectMessageEvent is a direct message sent by or to the current user.
type NewDirectMessageEvent struct {
	Message Message
}

// PresenceEvent is the authoritative online set of a room after a user
// joined or left it.
type PresenceEvent struct {
	Kind        EventName `json:"-"`
	RoomID      string    `json:"roomId"`
	OnlineUsers []string  `json:"onlineUsers"`
}

// ErrorEvent is a server-side error report.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ConnectEvent) Name() EventName          { return EventConnect }
func (DisconnectEvent) Name() EventName       { return EventDisconnect }
func (ConnectedEvent) Name() EventName        { return EventConnected }
func (JoinedRoomEvent) Name() EventName       { return EventJoinedRoom }
func (NewMessageEvent) Name() EventName       { return EventNewMessage }
func (OlderMessagesEvent) Name() EventName    { return EventOlderMessages }
func (NewDirectMessageEvent) Name() EventName { return EventNewDirectMessage }
func (e PresenceEvent) Name() EventName       { return e.Kind }
func (ErrorEvent) Name() EventName            { return EventError }

var errUnknownEvent = errors.New("unknown event")

// decodeEvent turns a raw envelope into its typed variant.
func decodeEvent(env Envelope) (Event, error) {
	name := EventName(env.Type)
	fail := func(err error) (Event, error) {
		return nil, &ProtocolError{Event: env.Type, Err: err}
	}

	switch name {
	case EventConnected:
		var e ConnectedEvent
		if err := unmarshalPayload(env.Payload, &e); err != nil {
			return fail(err)
		}
		return e, nil

	case EventJoinedRoom:
		var e JoinedRoomEvent
		if err := unmarshalPayload(env.Payload, &e); err != nil {
			return fail(err)
		}
		if e.RoomID == "" {
			return fail(errors.New("missing roomId"))
		}
		return e, nil

	case EventNewMessage:
		var m Message
		if err := unmarshalPayload(env.Payload, &m); err != nil {
			return fail(err)
		}
		if !m.valid() || m.IsDirect() {
			return fail(errors.New("room message without _id or roomId"))
		}
		return NewMessageEvent{Message: m}, nil

	case EventOlderMessages:
		var e OlderMessagesEvent
		if err := unmarshalPayload(env.Payload, &e); err != nil {
			return fail(err)
		}
		if e.RoomID == "" {
			return fail(errors.New("missing roomId"))
		}
		if e.RequestID == "" {
			e.RequestID = env.RequestID
		}
		return e, nil

	case EventNewDirectMessage:
		var m Message
		if err := unmarshalPayload(env.Payload, &m); err != nil {
			return fail(err)
		}
		if !m.valid() || !m.IsDirect() {
			return fail(errors.New("direct message without _id or receiverId"))
		}
		return NewDirectMessageEvent{Message: m}, nil

	case EventUserJoined, EventUserLeft:
		e := PresenceEvent{Kind: name}
		if err := unmarshalPayload(env.Payload, &e); err != nil {
			return fail(err)
		}
		if e.RoomID == "" {
			return fail(errors.New("missing roomId"))
		}
		return e, nil

	case EventError:
		var e ErrorEvent
		if len(env.Payload) > 0 && env.Payload[0] == '"' {
			if err := json.Unmarshal(env.Payload, &e.Message); err != nil {
				return fail(err)
			}
			return e, nil
		}
		if err := unmarshalPayload(env.Payload, &e); err != nil {
			return fail(err)
		}
		return e, nil
	}

	return fail(errUnknownEvent)
}

func unmarshalPayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(data, v)
}
