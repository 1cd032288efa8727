//go:build integration

package chatsync_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	chatsync "github.com/wardSultan96/chatProject-frontend"
)

// helpers ---------------------------------------------------------------

func envOr(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Fatalf("%s environment variable is required", key)
	}
	return v
}

func testConfig(t *testing.T) *chatsync.Config {
	t.Helper()
	return &chatsync.Config{BaseURL: envOr(t, "CHATSYNC_BASE_URL_TEST")}
}

func login(t *testing.T, cfg *chatsync.Config) chatsync.Credential {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := chatsync.NewAPIClient(cfg)
	res, err := api.Login(ctx, envOr(t, "CHATSYNC_EMAIL_TEST"), envOr(t, "CHATSYNC_PASSWORD_TEST"))
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if res.AccessToken == "" {
		t.Fatal("expected non-empty access token")
	}
	return chatsync.Credential{Token: res.AccessToken, UserID: res.User.ID}
}

func connect(t *testing.T) *chatsync.Session {
	t.Helper()
	cfg := testConfig(t)
	cred := login(t, cfg)

	s := chatsync.NewSession(cfg)
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Connect(ctx, cred); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	return s
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// =======================================================================
// Live server
// =======================================================================

func TestIntegration_ConnectAndSnapshot(t *testing.T) {
	s := connect(t)
	if s.State() != chatsync.StateConnected {
		t.Fatalf("expected connected, got %s", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.FetchRooms(ctx); err != nil {
		t.Fatalf("FetchRooms returned error: %v", err)
	}
	if err := s.FetchDirectConversations(ctx); err != nil {
		t.Fatalf("FetchDirectConversations returned error: %v", err)
	}
	t.Logf("rooms=%d conversations=%d", len(s.Store().Rooms()), len(s.Store().Conversations()))
}

func TestIntegration_CreateJoinSend(t *testing.T) {
	s := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	name := uniqueName("it_room")
	room, err := s.CreateRoom(ctx, chatsync.CreateRoomOptions{Name: name, Description: "integration"})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}

	if err := s.JoinRoom(ctx, room.ID); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}
	waitUntil(t, "joinedRoom", func() bool { return s.Store().Selection().IsRoom(room.ID) })

	if err := s.SendMessage(ctx, room.ID, "hello from integration"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	waitUntil(t, "newMessage echo", func() bool {
		r, ok := s.Store().Room(room.ID)
		return ok && len(r.Messages) > 0 && r.Messages[len(r.Messages)-1].Content == "hello from integration"
	})

	if err := s.LoadOlderMessages(ctx, room.ID, ""); err != nil {
		t.Fatalf("LoadOlderMessages returned error: %v", err)
	}
	t.Logf("room %s hasMore=%v", room.ID, s.Store().HasMore(room.ID))

	if err := s.LeaveRoom(ctx, room.ID); err != nil {
		t.Fatalf("LeaveRoom returned error: %v", err)
	}
}
