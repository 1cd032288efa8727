package chatsync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	t.Run("joinedRoom", func(t *testing.T) {
		ev, err := decodeEvent(Envelope{Type: "joinedRoom", Payload: json.RawMessage(
			`{"roomId":"R","messages":[{"_id":"a","content":"hi","senderId":{"_id":"u1","username":"x"},"roomId":"R","type":"text","createdAt":"t"}],"onlineUsers":["u1"]}`)})
		require.NoError(t, err)
		e := ev.(JoinedRoomEvent)
		assert.Equal(t, "R", e.RoomID)
		require.Len(t, e.Messages, 1)
		assert.Equal(t, "x", e.Messages[0].Sender.Username)
		assert.Equal(t, []string{"u1"}, e.OnlineUsers)
	})

	t.Run("newDirectMessage", func(t *testing.T) {
		ev, err := decodeEvent(Envelope{Type: "newDirectMessage", Payload: json.RawMessage(
			`{"_id":"d","content":"yo","senderId":{"_id":"u1","username":"a"},"receiverId":{"_id":"u2","username":"b"},"type":"text","createdAt":"t"}`)})
		require.NoError(t, err)
		m := ev.(NewDirectMessageEvent).Message
		assert.True(t, m.IsDirect())
		assert.Equal(t, "u2", m.Receiver.ID)
	})

	t.Run("olderMessages takes envelope request id", func(t *testing.T) {
		ev, err := decodeEvent(Envelope{Type: "olderMessages", RequestID: "req-1", Payload: json.RawMessage(
			`{"roomId":"R","messages":[],"hasMore":true}`)})
		require.NoError(t, err)
		e := ev.(OlderMessagesEvent)
		assert.Equal(t, "req-1", e.RequestID)
		assert.True(t, e.HasMore)
	})

	t.Run("presence keeps its name", func(t *testing.T) {
		ev, err := decodeEvent(Envelope{Type: "userLeft", Payload: json.RawMessage(`{"roomId":"R","onlineUsers":[]}`)})
		require.NoError(t, err)
		assert.Equal(t, EventUserLeft, ev.Name())
	})

	t.Run("error as object or string", func(t *testing.T) {
		ev, err := decodeEvent(Envelope{Type: "error", Payload: json.RawMessage(`{"message":"denied"}`)})
		require.NoError(t, err)
		assert.Equal(t, "denied", ev.(ErrorEvent).Message)

		ev, err = decodeEvent(Envelope{Type: "error", Payload: json.RawMessage(`"denied"`)})
		require.NoError(t, err)
		assert.Equal(t, "denied", ev.(ErrorEvent).Message)
	})

	t.Run("connected greeting", func(t *testing.T) {
		ev, err := decodeEvent(Envelope{Type: "connected", Payload: json.RawMessage(`{"userId":"u1","username":"alice"}`)})
		require.NoError(t, err)
		assert.Equal(t, ConnectedEvent{UserID: "u1", Username: "alice"}, ev)
	})
}

func TestDecodeEventRejects(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"unknown type", Envelope{Type: "typing", Payload: json.RawMessage(`{}`)}},
		{"empty payload", Envelope{Type: "joinedRoom"}},
		{"bad json", Envelope{Type: "newMessage", Payload: json.RawMessage(`{"_id":`)}},
		{"joinedRoom without room", Envelope{Type: "joinedRoom", Payload: json.RawMessage(`{"messages":[]}`)}},
		{"room message without id", Envelope{Type: "newMessage", Payload: json.RawMessage(`{"roomId":"R"}`)}},
		{"room message with receiver", Envelope{Type: "newMessage", Payload: json.RawMessage(
			`{"_id":"a","roomId":"R","receiverId":{"_id":"u2"}}`)}},
		{"direct message without receiver", Envelope{Type: "newDirectMessage", Payload: json.RawMessage(`{"_id":"a"}`)}},
		{"presence without room", Envelope{Type: "userJoined", Payload: json.RawMessage(`{"onlineUsers":[]}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeEvent(tc.env)
			require.Error(t, err)
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tc.env.Type, perr.Event)
		})
	}
}
