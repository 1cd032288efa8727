package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	chatsync "github.com/wardSultan96/chatProject-frontend"
)

var (
	roomsAvailable bool
	roomsJSON      bool

	createRoomDescription string
	createRoomPrivate     bool

	conversationsJSON bool
)

func init() {
	roomsCmd.Flags().BoolVar(&roomsAvailable, "available", false, "List rooms you can join instead of your rooms")
	roomsCmd.Flags().BoolVar(&roomsJSON, "json", false, "Output raw JSON")
	createRoomCmd.Flags().StringVarP(&createRoomDescription, "description", "d", "", "Room description")
	createRoomCmd.Flags().BoolVar(&createRoomPrivate, "private", false, "Create a private room")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(createRoomCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(conversationsCmd)
}

// ============================================================================
// rooms
// ============================================================================

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your rooms, or joinable rooms with --available",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAuthedConfig()
		if err != nil {
			return err
		}
		s := getSession(cfg)
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var rooms []chatsync.Room
		if roomsAvailable {
			rooms, err = s.AvailableRooms(ctx)
		} else {
			err = s.FetchRooms(ctx)
			rooms = s.Store().Rooms()
		}
		if err != nil {
			return fmt.Errorf("failed to list rooms: %w", err)
		}

		if roomsJSON {
			return printJSON(rooms)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms.")
			return nil
		}
		fmt.Printf("%-26s %-24s %-8s %s\n", "ID", "NAME", "MEMBERS", "DESCRIPTION")
		for _, r := range rooms {
			name := r.Name
			if r.IsPrivate {
				name += " (private)"
			}
			fmt.Printf("%-26s %-24s %-8d %s\n", r.ID, name, len(r.Members), r.Description)
		}
		return nil
	},
}

// ============================================================================
// create-room
// ============================================================================

var createRoomCmd = &cobra.Command{
	Use:   "create-room <name>",
	Short: "Create a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAuthedConfig()
		if err != nil {
			return err
		}
		s := getSession(cfg)
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		room, err := s.CreateRoom(ctx, chatsync.CreateRoomOptions{
			Name:        args[0],
			Description: createRoomDescription,
			IsPrivate:   createRoomPrivate,
		})
		if err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}

		fmt.Printf("Room created: %s (%s)\n", room.Name, room.ID)
		fmt.Printf("You are now in %d room(s).\n", len(s.Store().Rooms()))
		return nil
	},
}

// ============================================================================
// join / leave
// ============================================================================

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and print its recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := connectSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := joinAndWait(ctx, s, roomID); err != nil {
			return err
		}

		room, _ := s.Store().Room(roomID)
		fmt.Printf("Joined %s (%d online)\n", valueOrDefault(room.Name, roomID), len(room.OnlineUsers))
		for _, m := range room.Messages {
			fmt.Println(formatMessage(m))
		}
		return nil
	},
}

var leaveCmd = &cobra.Command{
	Use:   "leave <room-id>",
	Short: "Leave a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		s, err := connectSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.LeaveRoom(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to leave room: %w", err)
		}
		fmt.Printf("Left %s\n", args[0])
		return nil
	},
}

// joinAndWait joins roomID, going through the membership endpoint when the
// room is only in the joinable list, and waits for its snapshot.
func joinAndWait(ctx context.Context, s *chatsync.Session, roomID string) error {
	joined := make(chan struct{}, 1)
	stop := s.Store().Watch(func(c chatsync.Change) {
		if c.Kind == chatsync.ChangeSelection && s.Store().Selection().IsRoom(roomID) {
			select {
			case joined <- struct{}{}:
			default:
			}
		}
	})
	defer stop()

	if _, member := s.Store().Room(roomID); member {
		if err := s.JoinRoom(ctx, roomID); err != nil {
			return fmt.Errorf("failed to join room: %w", err)
		}
	} else {
		available, err := s.AvailableRooms(ctx)
		if err != nil {
			return fmt.Errorf("failed to list rooms: %w", err)
		}
		room, ok := findRoom(available, roomID)
		if !ok {
			return fmt.Errorf("room %s not found", roomID)
		}
		if err := s.JoinAvailableRoom(ctx, room); err != nil {
			return fmt.Errorf("failed to join room: %w", err)
		}
	}

	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for room %s", roomID)
	}
}

func findRoom(rooms []chatsync.Room, id string) (chatsync.Room, bool) {
	for _, r := range rooms {
		if r.ID == id {
			return r, true
		}
	}
	return chatsync.Room{}, false
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List direct conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAuthedConfig()
		if err != nil {
			return err
		}
		s := getSession(cfg)
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.FetchDirectConversations(ctx); err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		convs := s.Store().Conversations()

		if conversationsJSON {
			return printJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			status := "offline"
			if c.OtherUser.IsOnline {
				status = "online"
			}
			line := fmt.Sprintf("%-26s %-20s %-8s unread=%d", c.OtherUser.ID, c.OtherUser.Name(), status, c.UnreadCount)
			if c.LastMessage != nil {
				line += "  " + c.LastMessage.Content
			}
			fmt.Println(line)
		}
		return nil
	},
}
