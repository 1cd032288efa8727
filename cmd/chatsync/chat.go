package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chatsync "github.com/wardSultan96/chatProject-frontend"
)

var (
	sendTimeout  time.Duration
	historyPages int
	historyJSON  bool
)

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the server echo")
	dmCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the server echo")
	historyCmd.Flags().IntVarP(&historyPages, "pages", "n", 1, "Number of older pages to load")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(dmCmd)
	rootCmd.AddCommand(historyCmd)
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Join a room and stream its traffic until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s, err := connectSession(connectCtx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := joinAndWait(connectCtx, s, roomID); err != nil {
			return err
		}
		room, _ := s.Store().Room(roomID)
		for _, m := range room.Messages {
			fmt.Println(formatMessage(m))
		}
		fmt.Printf("-- watching %s, %d online (Ctrl+C to stop)\n", valueOrDefault(room.Name, roomID), len(room.OnlineUsers))

		handlers := map[chatsync.EventName]*chatsync.Handler{
			chatsync.EventNewMessage: chatsync.NewHandler(func(ev chatsync.Event) {
				m := ev.(chatsync.NewMessageEvent).Message
				if m.RoomID == roomID {
					fmt.Println(formatMessage(m))
				}
			}),
			chatsync.EventNewDirectMessage: chatsync.NewHandler(func(ev chatsync.Event) {
				m := ev.(chatsync.NewDirectMessageEvent).Message
				fmt.Printf("(dm) %s\n", formatMessage(m))
			}),
			chatsync.EventUserJoined: presencePrinter(roomID),
			chatsync.EventUserLeft:   presencePrinter(roomID),
			chatsync.EventDisconnect: chatsync.NewHandler(func(ev chatsync.Event) {
				fmt.Printf("-- disconnected: %s\n", valueOrDefault(ev.(chatsync.DisconnectEvent).Reason, "connection lost"))
			}),
			chatsync.EventConnect: chatsync.NewHandler(func(chatsync.Event) {
				fmt.Println("-- reconnected")
				// The server forgets room membership with the socket, and the
				// room snapshot must land before the rejoin does.
				go func() {
					rejoinCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()
					if err := s.WaitSynced(rejoinCtx); err != nil {
						logger.Warn("resync failed", zap.Error(err))
					}
					if err := s.JoinRoom(rejoinCtx, roomID); err != nil {
						logger.Warn("rejoin failed", zap.String("room", roomID), zap.Error(err))
					}
				}()
			}),
			chatsync.EventError: chatsync.NewHandler(func(ev chatsync.Event) {
				fmt.Fprintf(os.Stderr, "-- server error: %s\n", ev.(chatsync.ErrorEvent).Message)
			}),
		}
		for name, h := range handlers {
			s.On(name, h)
		}
		defer func() {
			for name, h := range handlers {
				s.Off(name, h)
			}
		}()

		<-ctx.Done()
		fmt.Println()
		return nil
	},
}

func presencePrinter(roomID string) *chatsync.Handler {
	return chatsync.NewHandler(func(ev chatsync.Event) {
		p := ev.(chatsync.PresenceEvent)
		if p.RoomID != roomID {
			return
		}
		verb := "joined"
		if p.Kind == chatsync.EventUserLeft {
			verb = "left"
		}
		fmt.Printf("-- a user %s, %d online\n", verb, len(p.OnlineUsers))
	})
}

// ============================================================================
// send / dm
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <text...>",
	Short: "Send a message to a room",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, text := args[0], strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return errors.New("message is empty")
		}
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

		m, err := sendAndAwait(ctx, s, chatsync.EventNewMessage,
			func(ev chatsync.Event) (chatsync.Message, bool) {
				m := ev.(chatsync.NewMessageEvent).Message
				return m, m.RoomID == roomID && m.Content == text && m.Sender.ID == s.Store().Self()
			},
			func(ctx context.Context) error { return s.SendMessage(ctx, roomID, text) })
		if err != nil {
			return err
		}
		fmt.Println(formatMessage(m))
		return nil
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <user-id> <text...>",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, text := args[0], strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return errors.New("message is empty")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := connectSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := sendAndAwait(ctx, s, chatsync.EventNewDirectMessage,
			func(ev chatsync.Event) (chatsync.Message, bool) {
				m := ev.(chatsync.NewDirectMessageEvent).Message
				return m, m.Receiver != nil && m.Receiver.ID == userID && m.Content == text
			},
			func(ctx context.Context) error { return s.SendDirectMessage(ctx, userID, text) })
		if err != nil {
			return err
		}
		fmt.Println(formatMessage(m))
		return nil
	},
}

// sendAndAwait runs send and waits for the first event matching match, which
// is how the server acknowledges a message.
func sendAndAwait(ctx context.Context, s *chatsync.Session, name chatsync.EventName,
	match func(chatsync.Event) (chatsync.Message, bool), send func(context.Context) error) (chatsync.Message, error) {

	echo := make(chan chatsync.Message, 1)
	h := chatsync.NewHandler(func(ev chatsync.Event) {
		if m, ok := match(ev); ok {
			select {
			case echo <- m:
			default:
			}
		}
	})
	s.On(name, h)
	defer s.Off(name, h)

	if err := send(ctx); err != nil {
		return chatsync.Message{}, fmt.Errorf("send failed: %w", err)
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case m := <-echo:
		return m, nil
	case <-timer.C:
		return chatsync.Message{}, errors.New("no confirmation from server, the message may not have been delivered")
	case <-ctx.Done():
		return chatsync.Message{}, ctx.Err()
	}
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Print a room's messages, paging back through older history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		s, err := connectSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := joinAndWait(ctx, s, roomID); err != nil {
			return err
		}

		for i := 0; i < historyPages && s.Store().HasMore(roomID); i++ {
			if err := s.LoadOlderMessages(ctx, roomID, ""); err != nil {
				if errors.Is(err, chatsync.ErrTimeout) {
					fmt.Fprintln(os.Stderr, "warning: server did not answer a history request")
					break
				}
				return fmt.Errorf("failed to load history: %w", err)
			}
		}

		room, _ := s.Store().Room(roomID)
		if historyJSON {
			return printJSON(room.Messages)
		}
		for _, m := range room.Messages {
			fmt.Println(formatMessage(m))
		}
		if s.Store().HasMore(roomID) {
			fmt.Println("-- more history available, use --pages to load further back")
		}
		return nil
	},
}
