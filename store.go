package chatsync

import (
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Store
// ============================================================================

// ChangeKind names the part of the Store a transition touched.
type ChangeKind string

const (
	ChangeRooms         ChangeKind = "rooms"
	ChangeRoom          ChangeKind = "room"
	ChangeConversations ChangeKind = "conversations"
	ChangeConversation  ChangeKind = "conversation"
	ChangeSelection     ChangeKind = "selection"
	ChangeReset         ChangeKind = "reset"
)

// Change describes one applied transition. ID is the room id or the
// counterpart user id, empty for collection-wide changes.
type Change struct {
	Kind ChangeKind
	ID   string
}

type roomEntry struct {
	room    Room
	seen    map[string]struct{}
	hasMore bool
}

type convEntry struct {
	conv DirectConversation
	seen map[string]struct{}
}

// Store is the in-memory model of the joined rooms, the direct conversations
// and the active selection for one session. Every inbound event is applied
// as a single transition under the store lock; accessors return copies.
type Store struct {
	mu          sync.RWMutex
	self        string
	rooms       map[string]*roomEntry
	roomOrder   []string
	convs       map[string]*convEntry
	convOrder   []string
	selection   Selection
	pendingJoin string

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextID   int

	log *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		rooms:    make(map[string]*roomEntry),
		convs:    make(map[string]*convEntry),
		watchers: make(map[int]func(Change)),
		log:      logger.Named("store"),
	}
}

// Bind registers the store's reducers on d.
func (s *Store) Bind(d *Dispatcher) {
	h := NewHandler(s.Apply)
	for _, name := range []EventName{
		EventJoinedRoom, EventNewMessage, EventOlderMessages,
		EventNewDirectMessage, EventUserJoined, EventUserLeft,
	} {
		d.On(name, h)
	}
}

// Watch calls fn after every applied transition. The returned func removes it.
// fn runs on the goroutine that applied the change and must not block on
// Session snapshot fetches.
func (s *Store) Watch(fn func(Change)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.watchMu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// SetSelf records the current user id used to resolve DM counterparts.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	s.self = userID
	s.mu.Unlock()
}

// Self returns the current user id.
func (s *Store) Self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// ── Reducers ─────────────────────────────────────────────

// Apply routes ev to its transition. Events the store does not model are ignored.
func (s *Store) Apply(ev Event) {
	switch e := ev.(type) {
	case JoinedRoomEvent:
		s.ApplyJoinedRoom(e)
	case NewMessageEvent:
		s.ApplyNewMessage(e.Message)
	case OlderMessagesEvent:
		s.ApplyOlderMessages(e)
	case NewDirectMessageEvent:
		s.ApplyNewDirectMessage(e.Message)
	case PresenceEvent:
		s.ApplyPresence(e)
	}
}

// ApplyJoinedRoom upserts the room snapshot. Messages already held that are
// not in the snapshot and are not older than its newest message stay after
// it. The room becomes active when it is the pending join target.
func (s *Store) ApplyJoinedRoom(e JoinedRoomEvent) {
	s.mu.Lock()
	entry, ok := s.rooms[e.RoomID]
	if !ok {
		entry = &roomEntry{room: Room{ID: e.RoomID}}
		s.rooms[e.RoomID] = entry
		s.roomOrder = append(s.roomOrder, e.RoomID)
	}

	merged := make([]Message, 0, len(e.Messages)+len(entry.room.Messages))
	seen := make(map[string]struct{}, len(e.Messages))
	for _, m := range e.Messages {
		if _, dup := seen[m.ID]; dup || m.ID == "" {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	var newest string
	if len(merged) > 0 {
		newest = merged[len(merged)-1].CreatedAt
	}
	for _, m := range entry.room.Messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if newest != "" && m.CreatedAt < newest {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	entry.room.Messages = merged
	entry.room.OnlineUsers = cloneStrings(e.OnlineUsers)
	entry.seen = seen
	entry.hasMore = len(e.Messages) > 0

	activated := s.pendingJoin == e.RoomID
	if activated {
		s.pendingJoin = ""
		s.selection = Selection{Kind: SelectRoom, ID: e.RoomID}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRoom, ID: e.RoomID})
	if activated {
		s.notify(Change{Kind: ChangeSelection, ID: e.RoomID})
	}
}

// ApplyNewMessage appends m to its room unless its id is already present.
func (s *Store) ApplyNewMessage(m Message) {
	s.mu.Lock()
	entry, ok := s.rooms[m.RoomID]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("message for unknown room", zap.String("room_id", m.RoomID), zap.String("message_id", m.ID))
		return
	}
	if !entry.add(m) {
		s.mu.Unlock()
		return
	}
	entry.room.Messages = append(entry.room.Messages, m)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRoom, ID: m.RoomID})
}

// ApplyOlderMessages prepends a chronologically ordered page, skipping ids
// already present, and records whether more history exists.
func (s *Store) ApplyOlderMessages(e OlderMessagesEvent) {
	s.mu.Lock()
	entry, ok := s.rooms[e.RoomID]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("page for unknown room", zap.String("room_id", e.RoomID))
		return
	}
	page := make([]Message, 0, len(e.Messages))
	for _, m := range e.Messages {
		if entry.add(m) {
			page = append(page, m)
		}
	}
	entry.room.Messages = append(page, entry.room.Messages...)
	entry.hasMore = e.HasMore
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRoom, ID: e.RoomID})
}

// ApplyNewDirectMessage appends m to the conversation with the counterpart,
// creating the conversation when it does not exist yet.
func (s *Store) ApplyNewDirectMessage(m Message) {
	s.mu.Lock()
	other := m.Sender
	if m.Sender.ID == s.self && m.Receiver != nil {
		other = *m.Receiver
	}
	if other.ID == "" {
		s.mu.Unlock()
		s.log.Debug("direct message without counterpart", zap.String("message_id", m.ID))
		return
	}

	entry, ok := s.convs[other.ID]
	created := !ok
	if created {
		entry = &convEntry{
			conv: DirectConversation{OtherUser: other},
			seen: make(map[string]struct{}),
		}
		s.convs[other.ID] = entry
	}
	if !entry.add(m) {
		s.mu.Unlock()
		return
	}
	entry.conv.Messages = append(entry.conv.Messages, m)
	last := m
	entry.conv.LastMessage = &last
	if m.Sender.ID != s.self && !s.selection.IsConversation(other.ID) {
		entry.conv.UnreadCount++
	}
	s.convOrder = moveToFront(s.convOrder, other.ID)
	s.mu.Unlock()

	if created {
		s.notify(Change{Kind: ChangeConversations})
	}
	s.notify(Change{Kind: ChangeConversation, ID: other.ID})
}

// ApplyPresence replaces the room's online set.
func (s *Store) ApplyPresence(e PresenceEvent) {
	s.mu.Lock()
	entry, ok := s.rooms[e.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.room.OnlineUsers = cloneStrings(e.OnlineUsers)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRoom, ID: e.RoomID})
}

// ── Snapshots ────────────────────────────────────────────

// ReplaceRooms swaps in a collaborator snapshot. Messages and online sets are
// reset and repopulated by the next join.
func (s *Store) ReplaceRooms(rooms []Room) {
	s.mu.Lock()
	s.rooms = make(map[string]*roomEntry, len(rooms))
	s.roomOrder = s.roomOrder[:0]
	for _, r := range rooms {
		if r.ID == "" {
			continue
		}
		if _, dup := s.rooms[r.ID]; dup {
			continue
		}
		s.rooms[r.ID] = newRoomEntry(r)
		s.roomOrder = append(s.roomOrder, r.ID)
	}
	selCleared := false
	if s.selection.Kind == SelectRoom {
		if _, ok := s.rooms[s.selection.ID]; !ok {
			s.selection = Selection{}
			selCleared = true
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRooms})
	if selCleared {
		s.notify(Change{Kind: ChangeSelection})
	}
}

// ReplaceConversations swaps in a conversation summary snapshot. Unread
// counts come from the snapshot; message lists start empty.
func (s *Store) ReplaceConversations(convs []DirectConversation) {
	s.mu.Lock()
	_, selHeld := s.convs[s.selection.ID]
	selHeld = selHeld && s.selection.Kind == SelectConversation
	s.convs = make(map[string]*convEntry, len(convs))
	s.convOrder = s.convOrder[:0]
	for _, c := range convs {
		id := c.OtherUser.ID
		if id == "" {
			continue
		}
		if _, dup := s.convs[id]; dup {
			continue
		}
		c.Messages = []Message{}
		if c.LastMessage != nil {
			last := *c.LastMessage
			c.LastMessage = &last
		}
		s.convs[id] = &convEntry{conv: c, seen: make(map[string]struct{})}
		s.convOrder = append(s.convOrder, id)
	}
	// A selected counterpart with no conversation yet is a thread being
	// started, so only a conversation that vanished clears the selection.
	selCleared := false
	if selHeld {
		if _, ok := s.convs[s.selection.ID]; !ok {
			s.selection = Selection{}
			selCleared = true
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeConversations})
	if selCleared {
		s.notify(Change{Kind: ChangeSelection})
	}
}

// AddRoom inserts a room summary if the room is not held yet.
func (s *Store) AddRoom(r Room) {
	s.mu.Lock()
	if _, ok := s.rooms[r.ID]; ok || r.ID == "" {
		s.mu.Unlock()
		return
	}
	s.rooms[r.ID] = newRoomEntry(r)
	s.roomOrder = append(s.roomOrder, r.ID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRooms})
}

// RemoveRoom drops a room and clears the selection if it pointed there.
func (s *Store) RemoveRoom(roomID string) {
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, roomID)
	s.roomOrder = removeString(s.roomOrder, roomID)
	if s.pendingJoin == roomID {
		s.pendingJoin = ""
	}
	selCleared := s.selection.IsRoom(roomID)
	if selCleared {
		s.selection = Selection{}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRooms})
	if selCleared {
		s.notify(Change{Kind: ChangeSelection})
	}
}

// ExpectJoin marks roomID as the room whose joinedRoom snapshot should
// become the active selection.
func (s *Store) ExpectJoin(roomID string) {
	s.mu.Lock()
	s.pendingJoin = roomID
	s.mu.Unlock()
}

// CancelJoin withdraws ExpectJoin for roomID. A later join request for
// another room is left alone.
func (s *Store) CancelJoin(roomID string) {
	s.mu.Lock()
	if s.pendingJoin == roomID {
		s.pendingJoin = ""
	}
	s.mu.Unlock()
}

// Reset discards all state except the current user id.
func (s *Store) Reset() {
	s.mu.Lock()
	s.rooms = make(map[string]*roomEntry)
	s.roomOrder = nil
	s.convs = make(map[string]*convEntry)
	s.convOrder = nil
	s.selection = Selection{}
	s.pendingJoin = ""
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReset})
}

// ── Selection ────────────────────────────────────────────

// SetActiveRoom selects roomID and clears any active conversation. An empty
// id clears the selection.
func (s *Store) SetActiveRoom(roomID string) {
	s.mu.Lock()
	if roomID == "" {
		s.selection = Selection{}
	} else {
		s.selection = Selection{Kind: SelectRoom, ID: roomID}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSelection, ID: roomID})
}

// SetActiveConversation selects the conversation with userID, clears any
// active room and zeroes its unread count. An empty id clears the selection.
func (s *Store) SetActiveConversation(userID string) {
	s.mu.Lock()
	if userID == "" {
		s.selection = Selection{}
	} else {
		s.selection = Selection{Kind: SelectConversation, ID: userID}
		if entry, ok := s.convs[userID]; ok {
			entry.conv.UnreadCount = 0
		}
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSelection, ID: userID})
}

// ClearSelection deselects whatever is active.
func (s *Store) ClearSelection() {
	s.SetActiveRoom("")
}

// ── Accessors ────────────────────────────────────────────

// Selection returns the active selection.
func (s *Store) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// Rooms returns the joined rooms in insertion order.
func (s *Store) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.roomOrder))
	for _, id := range s.roomOrder {
		out = append(out, copyRoom(s.rooms[id].room))
	}
	return out
}

// Room returns a copy of one room.
func (s *Store) Room(roomID string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return copyRoom(entry.room), true
}

// HasMore reports whether older history exists for roomID as of the last page.
func (s *Store) HasMore(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[roomID]
	return ok && entry.hasMore
}

// Conversations returns the conversations, most recently active first.
func (s *Store) Conversations() []DirectConversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DirectConversation, 0, len(s.convOrder))
	for _, id := range s.convOrder {
		out = append(out, copyConversation(s.convs[id].conv))
	}
	return out
}

// Conversation returns a copy of the conversation with userID.
func (s *Store) Conversation(userID string) (DirectConversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.convs[userID]
	if !ok {
		return DirectConversation{}, false
	}
	return copyConversation(entry.conv), true
}

// ActiveRoom returns the selected room, if a held room is selected.
func (s *Store) ActiveRoom() (Room, bool) {
	sel := s.Selection()
	if sel.Kind != SelectRoom {
		return Room{}, false
	}
	return s.Room(sel.ID)
}

// ActiveConversation returns the selected conversation, if one is held.
func (s *Store) ActiveConversation() (DirectConversation, bool) {
	sel := s.Selection()
	if sel.Kind != SelectConversation {
		return DirectConversation{}, false
	}
	return s.Conversation(sel.ID)
}

// ── Helpers ──────────────────────────────────────────────

func newRoomEntry(r Room) *roomEntry {
	r.Members = cloneStrings(r.Members)
	r.Messages = []Message{}
	r.OnlineUsers = []string{}
	return &roomEntry{room: r, seen: make(map[string]struct{})}
}

// add records m's id and reports whether it was new.
func (e *roomEntry) add(m Message) bool {
	if _, ok := e.seen[m.ID]; ok {
		return false
	}
	e.seen[m.ID] = struct{}{}
	return true
}

func (e *convEntry) add(m Message) bool {
	if _, ok := e.seen[m.ID]; ok {
		return false
	}
	e.seen[m.ID] = struct{}{}
	return true
}

func copyRoom(r Room) Room {
	r.Members = cloneStrings(r.Members)
	r.OnlineUsers = cloneStrings(r.OnlineUsers)
	r.Messages = append([]Message(nil), r.Messages...)
	return r
}

func copyConversation(c DirectConversation) DirectConversation {
	c.Messages = append([]Message(nil), c.Messages...)
	if c.LastMessage != nil {
		last := *c.LastMessage
		c.LastMessage = &last
	}
	return c
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func moveToFront(list []string, v string) []string {
	list = removeString(list, v)
	return append([]string{v}, list...)
}
