package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	chatsync "github.com/wardSultan96/chatProject-frontend"
)

// ============================================================================
// Clients
// ============================================================================

// libConfig maps the CLI config onto the library config.
func libConfig(cfg *Config) *chatsync.Config {
	return &chatsync.Config{
		BaseURL:       cfg.Default.BaseURL,
		WSURL:         cfg.Default.WSURL,
		PageSize:      cfg.Default.PageSize,
		AutoReconnect: cfg.Default.AutoReconnect,
		SendRate:      5,
		Logger:        logger,
	}
}

// loadAuthedConfig loads the config and fails unless a server and a token are set.
func loadAuthedConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.BaseURL == "" {
		return nil, errors.New("no server configured, run 'chatsync init <base-url>' first")
	}
	if cfg.Auth.Token == "" {
		return nil, errors.New("not logged in, run 'chatsync login' first")
	}
	return cfg, nil
}

// getAPIClient creates a REST client authenticated with the stored token.
func getAPIClient(cfg *Config) *chatsync.APIClient {
	api := chatsync.NewAPIClient(libConfig(cfg))
	api.SetToken(cfg.Auth.Token)
	return api
}

// getSession creates a session that shares one REST client with the caller.
func getSession(cfg *Config) *chatsync.Session {
	return chatsync.NewSession(libConfig(cfg), chatsync.WithCollaborator(getAPIClient(cfg)))
}

// credential returns the stored credential, filling the user id from the
// token claims when the config does not carry it.
func credential(cfg *Config) (chatsync.Credential, error) {
	cred := chatsync.Credential{Token: cfg.Auth.Token, UserID: cfg.Auth.UserID}
	if cred.UserID == "" {
		info, err := parseToken(cred.Token)
		if err != nil {
			return cred, err
		}
		cred.UserID = info.UserID
	}
	if cred.UserID == "" {
		return cred, errors.New("cannot determine user id, log in again")
	}
	return cred, nil
}

// connectSession builds a session, opens the realtime channel and waits for
// the initial room and conversation snapshots.
func connectSession(ctx context.Context) (*chatsync.Session, error) {
	cfg, err := loadAuthedConfig()
	if err != nil {
		return nil, err
	}
	cred, err := credential(cfg)
	if err != nil {
		return nil, err
	}
	s := getSession(cfg)
	if err := s.Connect(ctx, cred); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	if err := s.WaitSynced(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("initial sync failed: %w", err)
	}
	return s, nil
}

// ============================================================================
// Token claims
// ============================================================================

type tokenInfo struct {
	UserID   string
	Username string
	Expires  time.Time
}

// parseToken reads identity claims without verifying the signature; the
// server is the only party that can verify it.
func parseToken(token string) (tokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenInfo{}, fmt.Errorf("cannot parse token: %w", err)
	}

	var info tokenInfo
	for _, key := range []string{"sub", "userId", "id", "_id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			info.UserID = v
			break
		}
	}
	if v, ok := claims["username"].(string); ok {
		info.Username = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.Expires = exp.Time
	}
	return info, nil
}

// ============================================================================
// Output
// ============================================================================

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatMessage(m chatsync.Message) string {
	ts := m.CreatedAt
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	return fmt.Sprintf("[%s] %s: %s", ts, m.Sender.Name(), m.Content)
}
