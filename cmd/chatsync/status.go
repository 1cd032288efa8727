package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, token state and server reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Server:         %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
		fmt.Printf("  Realtime:       %s\n", valueOrDefault(cfg.Default.WSURL, "(derived from server)"))
		fmt.Printf("  Auto reconnect: %v\n", cfg.Default.AutoReconnect)

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username: %s\n", cfg.Auth.Username)
			fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Username: (not logged in)")
		}
		fmt.Printf("  Token:    %s\n", tokenStatus(cfg.Auth.Token))

		if cfg.Default.BaseURL == "" || cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rooms, err := getAPIClient(cfg).MyRooms(ctx)
		if err != nil {
			fmt.Printf("  Error fetching rooms: %v\n", err)
			return nil
		}
		fmt.Printf("  Joined rooms: %d\n", len(rooms))

		s, err := connectSession(ctx)
		if err != nil {
			fmt.Printf("  Realtime: %v\n", err)
			return nil
		}
		defer s.Close()
		fmt.Printf("  Realtime: %s\n", s.State())
		return nil
	},
}

func tokenStatus(token string) string {
	if token == "" {
		return "none"
	}
	info, err := parseToken(token)
	if err != nil {
		return "present (not a JWT)"
	}
	if info.Expires.IsZero() {
		return "present (no expiry)"
	}
	if time.Now().Before(info.Expires) {
		return fmt.Sprintf("valid (expires %s)", info.Expires.Format(time.RFC3339))
	}
	return fmt.Sprintf("EXPIRED (expired %s)", info.Expires.Format(time.RFC3339))
}
