package chatsync

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// User is a reference to a chat user. It is copied by value out of messages,
// rooms and conversation summaries; the client never owns user records.
type User struct {
	ID          string `json:"_id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"isOnline"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Message is an immutable chat message. Exactly one of RoomID or Receiver is set.
type Message struct {
	ID        string `json:"_id"`
	Content   string `json:"content"`
	Sender    User   `json:"senderId"`
	Receiver  *User  `json:"receiverId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
}

// IsDirect reports whether m is a direct message rather than a room message.
func (m Message) IsDirect() bool {
	return m.RoomID == "" && m.Receiver != nil
}

func (m Message) valid() bool {
	if m.ID == "" {
		return false
	}
	return (m.RoomID != "") != (m.Receiver != nil)
}

// Room is a multi-member chat room. Messages and OnlineUsers are only
// populated after the room has been joined over the realtime channel.
type Room struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPrivate   bool      `json:"isPrivate"`
	Members     []string  `json:"members"`
	OnlineUsers []string  `json:"onlineUsers"`
	Messages    []Message `json:"messages"`
	CreatedBy   *User     `json:"createdBy,omitempty"`
}

// DirectConversation is a one-to-one thread keyed by the counterpart user.
type DirectConversation struct {
	OtherUser   User      `json:"otherUser"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	Messages    []Message `json:"messages"`
}

// ============================================================================
// Selection
// ============================================================================

// SelectionKind tells which collection the active selection points into.
type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectRoom
	SelectConversation
)

func (k SelectionKind) String() string {
	switch k {
	case SelectRoom:
		return "room"
	case SelectConversation:
		return "conversation"
	default:
		return "none"
	}
}

// Selection is the single active target. ID is a room id for SelectRoom and
// the counterpart user id for SelectConversation.
type Selection struct {
	Kind SelectionKind
	ID   string
}

// IsRoom reports whether the selection is the room with the given id.
func (s Selection) IsRoom(id string) bool {
	return s.Kind == SelectRoom && s.ID == id
}

// IsConversation reports whether the selection is the conversation with userID.
func (s Selection) IsConversation(userID string) bool {
	return s.Kind == SelectConversation && s.ID == userID
}

// ============================================================================
// Connection state
// ============================================================================

// ConnState represents the realtime connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Credential is the bearer token plus the identity it belongs to.
type Credential struct {
	Token  string
	UserID string
}

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format for every realtime frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Outbound event names.
const (
	CmdJoinRoom          = "joinRoom"
	CmdLeaveRoom         = "leaveRoom"
	CmdSendMessage       = "sendMessage"
	CmdSendDirectMessage = "sendDirectMessage"
	CmdLoadOlderMessages = "loadOlderMessages"
)

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type sendMessageRequest struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type sendDirectRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type olderMessagesRequest struct {
	RoomID        string `json:"roomId"`
	LastMessageID string `json:"lastMessageId"`
	Limit         int    `json:"limit"`
}

// ============================================================================
// Collaborator types
// ============================================================================

// CreateRoomOptions are the fields accepted by the room creation endpoint.
type CreateRoomOptions struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// LoginResult is returned by the login endpoint.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName,omitempty"`
	} `json:"user"`
}
