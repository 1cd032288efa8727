// Package chatsync is a client for a realtime chat server: it keeps an
// in-memory view of rooms, direct conversations and the active selection in
// sync with the server's WebSocket pushes and REST snapshots.
//
// Example:
//
//	s := chatsync.NewSession(&chatsync.Config{
//		BaseURL:       "http://localhost:5000/api",
//		AutoReconnect: true,
//	})
//	defer s.Close()
//
//	if err := s.Connect(ctx, chatsync.Credential{Token: token, UserID: userID}); err != nil {
//		return err
//	}
//	_ = s.WaitSynced(ctx)
//
//	// Joining is asynchronous; the room becomes active when its snapshot lands.
//	_ = s.JoinRoom(ctx, roomID)
//	stop := s.Store().Watch(func(c chatsync.Change) {
//		if room, ok := s.Store().ActiveRoom(); ok {
//			render(room.Messages)
//		}
//	})
//	defer stop()
//
//	_ = s.SendMessage(ctx, roomID, "hello")
//	_ = s.LoadOlderMessages(ctx, roomID, "")
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) { s.dialer = d }
}

// WithCollaborator replaces the REST collaborator.
func WithCollaborator(c Collaborator) SessionOption {
	return func(s *Session) { s.api = c }
}

// Session is the synchronization façade for one authenticated user. It owns
// the channel, the dispatcher, the correlator and the store, and exposes the
// operations the presentation layer calls.
type Session struct {
	config *Config
	log    *zap.Logger

	dialer  Dialer
	api     Collaborator
	store   *Store
	disp    *Dispatcher
	channel *ChannelManager
	pages   *Correlator

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	user   string
	synced chan struct{}

	// epoch changes whenever the identity is dropped or switched. Snapshots
	// fetched under an older epoch are discarded.
	epochMu     sync.Mutex
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc
}

// NewSession wires a session from config. Nothing is dialed until Connect.
func NewSession(config *Config, opts ...SessionOption) *Session {
	cfg := *config
	cfg.defaults()

	s := &Session{
		config: &cfg,
		log:    cfg.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = &WSDialer{URL: cfg.WSURL, ReadLimit: cfg.ReadLimit}
	}
	if s.api == nil {
		s.api = NewAPIClient(&cfg)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.epochCtx, s.epochCancel = context.WithCancel(s.ctx)

	s.channel = NewChannelManager(s.dialer, &cfg)
	s.disp = NewDispatcher(s.channel, cfg.Logger)
	s.disp.Attach(s.channel)

	// The store must see each page before the correlator settles the waiter.
	s.store = NewStore(cfg.Logger)
	s.store.Bind(s.disp)
	s.pages = NewCorrelator(s.disp, &cfg)

	s.disp.On(EventConnect, NewHandler(func(Event) {
		done := make(chan struct{})
		s.mu.Lock()
		s.synced = done
		s.mu.Unlock()
		epoch, ctx := s.currentEpoch()
		go func() {
			defer close(done)
			s.refresh(ctx, epoch)
		}()
	}))
	return s
}

// Store returns the session's state store.
func (s *Session) Store() *Store { return s.store }

// State returns the connection state.
func (s *Session) State() ConnState { return s.channel.State() }

// On registers a presentation handler for an inbound event.
func (s *Session) On(name EventName, h *Handler) { s.disp.On(name, h) }

// Off removes a handler registered with On.
func (s *Session) Off(name EventName, h *Handler) { s.disp.Off(name, h) }

// ============================================================================
// Lifecycle
// ============================================================================

// Connect opens the realtime channel for cred. Connecting again with the same
// identity is a no-op; a different identity discards the previous state.
func (s *Session) Connect(ctx context.Context, cred Credential) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switched := s.user != "" && s.user != cred.UserID
	s.user = cred.UserID
	s.mu.Unlock()

	if switched {
		s.log.Info("switching identity", zap.String("user_id", cred.UserID))
		s.nextEpoch()
		if err := s.channel.Disconnect(); err != nil {
			s.log.Debug("close previous channel", zap.Error(err))
		}
		s.store.Reset()
	}
	s.store.SetSelf(cred.UserID)
	if ts, ok := s.api.(interface{ SetToken(string) }); ok {
		ts.SetToken(cred.Token)
	}
	return s.channel.Connect(ctx, cred)
}

// SetCredential connects with cred, or tears the session state down when
// cred is nil.
func (s *Session) SetCredential(ctx context.Context, cred *Credential) error {
	if cred != nil {
		return s.Connect(ctx, *cred)
	}
	s.mu.Lock()
	s.user = ""
	s.mu.Unlock()

	s.nextEpoch()
	err := s.channel.Disconnect()
	if ts, ok := s.api.(interface{ SetToken(string) }); ok {
		ts.SetToken("")
	}
	s.store.Reset()
	s.store.SetSelf("")
	return err
}

// Disconnect closes the channel but keeps the store.
func (s *Session) Disconnect() error {
	return s.channel.Disconnect()
}

// Close disconnects, fails pending page requests and discards all state.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.nextEpoch()
	s.cancel()
	s.pages.Close()
	err := s.channel.Disconnect()
	s.store.Reset()
	return err
}

// WaitSynced blocks until the snapshot refresh started by the latest
// connect has finished, successfully or not.
func (s *Session) WaitSynced(ctx context.Context) error {
	s.mu.Lock()
	done := s.synced
	s.mu.Unlock()
	if done == nil {
		return ErrNotConnected
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextEpoch cancels in-flight snapshot fetches and invalidates any that
// already returned but have not been applied.
func (s *Session) nextEpoch() {
	s.epochMu.Lock()
	s.epochCancel()
	s.epoch++
	s.epochCtx, s.epochCancel = context.WithCancel(s.ctx)
	s.epochMu.Unlock()
}

func (s *Session) currentEpoch() (uint64, context.Context) {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.epoch, s.epochCtx
}

// applyInEpoch runs apply only if no identity change happened since epoch.
// Holding epochMu orders it against nextEpoch, so a teardown reset always
// lands after it.
func (s *Session) applyInEpoch(epoch uint64, what string, apply func()) {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if epoch != s.epoch {
		s.log.Debug("dropping stale snapshot", zap.String("snapshot", what))
		return
	}
	apply()
}

// refresh loads both snapshots after the channel comes up.
func (s *Session) refresh(epochCtx context.Context, epoch uint64) {
	g, ctx := errgroup.WithContext(epochCtx)
	g.Go(func() error {
		if err := s.fetchRooms(ctx, epoch); err != nil {
			return fmt.Errorf("fetch rooms: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.fetchConversations(ctx, epoch); err != nil {
			return fmt.Errorf("fetch conversations: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("snapshot refresh failed", zap.Error(err))
	}
}

// ============================================================================
// Rooms
// ============================================================================

// JoinRoom asks the server to join roomID. State changes only when the
// joinedRoom snapshot arrives, which also makes the room active.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	s.store.ExpectJoin(roomID)
	if err := s.disp.Emit(ctx, CmdJoinRoom, roomRequest{RoomID: roomID}, ""); err != nil {
		s.store.CancelJoin(roomID)
		return err
	}
	return nil
}

// JoinAvailableRoom joins a room from the joinable list: membership through
// the collaborator, then the realtime join.
func (s *Session) JoinAvailableRoom(ctx context.Context, room Room) error {
	if err := s.api.JoinRoom(ctx, room.ID); err != nil {
		return err
	}
	s.store.AddRoom(room)
	return s.JoinRoom(ctx, room.ID)
}

// LeaveRoom leaves roomID and drops it from the store once the request is sent.
func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	if err := s.disp.Emit(ctx, CmdLeaveRoom, roomRequest{RoomID: roomID}, ""); err != nil {
		return err
	}
	s.store.RemoveRoom(roomID)
	return nil
}

// LoadOlderMessages loads the page before lastMessageID into the store. An
// empty lastMessageID pages from the oldest message held.
func (s *Session) LoadOlderMessages(ctx context.Context, roomID, lastMessageID string) error {
	if lastMessageID == "" {
		if r, ok := s.store.Room(roomID); ok && len(r.Messages) > 0 {
			lastMessageID = r.Messages[0].ID
		}
	}
	_, err := s.pages.RequestOlderMessages(ctx, roomID, lastMessageID, s.config.PageSize)
	return err
}

// CreateRoom creates a room and reloads the room snapshot.
func (s *Session) CreateRoom(ctx context.Context, opts CreateRoomOptions) (*Room, error) {
	room, err := s.api.CreateRoom(ctx, opts)
	if err != nil {
		return nil, err
	}
	return room, s.FetchRooms(ctx)
}

// FetchRooms replaces the rooms with the collaborator snapshot.
func (s *Session) FetchRooms(ctx context.Context) error {
	epoch, _ := s.currentEpoch()
	return s.fetchRooms(ctx, epoch)
}

func (s *Session) fetchRooms(ctx context.Context, epoch uint64) error {
	rooms, err := s.api.MyRooms(ctx)
	if err != nil {
		return err
	}
	s.applyInEpoch(epoch, "rooms", func() { s.store.ReplaceRooms(rooms) })
	return nil
}

// FetchDirectConversations replaces the conversations with the collaborator snapshot.
func (s *Session) FetchDirectConversations(ctx context.Context) error {
	epoch, _ := s.currentEpoch()
	return s.fetchConversations(ctx, epoch)
}

func (s *Session) fetchConversations(ctx context.Context, epoch uint64) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		return err
	}
	s.applyInEpoch(epoch, "conversations", func() { s.store.ReplaceConversations(convs) })
	return nil
}

// AvailableRooms lists the rooms that can be joined.
func (s *Session) AvailableRooms(ctx context.Context) ([]Room, error) {
	return s.api.AvailableRooms(ctx)
}

// ============================================================================
// Messaging
// ============================================================================

// SendMessage sends content to roomID. Blank content or a channel that is
// not connected makes it a no-op.
func (s *Session) SendMessage(ctx context.Context, roomID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" || s.State() != StateConnected {
		return nil
	}
	return s.disp.Emit(ctx, CmdSendMessage, sendMessageRequest{RoomID: roomID, Content: content}, "")
}

// SendDirectMessage sends content to userID with the same no-op rules as SendMessage.
func (s *Session) SendDirectMessage(ctx context.Context, userID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" || s.State() != StateConnected {
		return nil
	}
	return s.disp.Emit(ctx, CmdSendDirectMessage, sendDirectRequest{ReceiverID: userID, Content: content}, "")
}

// ============================================================================
// Selection
// ============================================================================

// SetActiveRoom selects roomID; empty clears the selection.
func (s *Session) SetActiveRoom(roomID string) { s.store.SetActiveRoom(roomID) }

// SetActiveConversation selects the conversation with userID; empty clears the selection.
func (s *Session) SetActiveConversation(userID string) { s.store.SetActiveConversation(userID) }
