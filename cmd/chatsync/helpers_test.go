package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatsync "github.com/wardSultan96/chatProject-frontend"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("sub claim", func(t *testing.T) {
		info, err := parseToken(signedToken(t, jwt.MapClaims{"sub": "u1", "username": "alice", "exp": exp.Unix()}))
		require.NoError(t, err)
		assert.Equal(t, "u1", info.UserID)
		assert.Equal(t, "alice", info.Username)
		assert.True(t, info.Expires.Equal(exp))
	})

	t.Run("userId fallback", func(t *testing.T) {
		info, err := parseToken(signedToken(t, jwt.MapClaims{"userId": "u2"}))
		require.NoError(t, err)
		assert.Equal(t, "u2", info.UserID)
		assert.True(t, info.Expires.IsZero())
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := parseToken("opaque-token")
		assert.Error(t, err)
	})
}

func TestCredential(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "u1"})

	cred, err := credential(&Config{Auth: ConfigAuth{Token: tok}})
	require.NoError(t, err)
	assert.Equal(t, chatsync.Credential{Token: tok, UserID: "u1"}, cred)

	cred, err = credential(&Config{Auth: ConfigAuth{Token: tok, UserID: "stored"}})
	require.NoError(t, err)
	assert.Equal(t, "stored", cred.UserID)

	_, err = credential(&Config{Auth: ConfigAuth{Token: signedToken(t, jwt.MapClaims{"name": "x"})}})
	assert.Error(t, err)
}

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "default.base_url", "http://localhost:5000/api"))
	require.NoError(t, setConfigValue(cfg, "default.page_size", "50"))
	require.NoError(t, setConfigValue(cfg, "default.auto_reconnect", "false"))
	require.NoError(t, setConfigValue(cfg, "auth.user_id", "u1"))

	assert.Equal(t, "http://localhost:5000/api", cfg.Default.BaseURL)
	assert.Equal(t, 50, cfg.Default.PageSize)
	assert.False(t, cfg.Default.AutoReconnect)
	assert.Equal(t, "u1", cfg.Auth.UserID)

	for _, bad := range [][2]string{
		{"base_url", "x"},
		{"default.page_size", "-1"},
		{"default.auto_reconnect", "maybe"},
		{"default.nope", "x"},
		{"other.base_url", "x"},
	} {
		assert.Error(t, setConfigValue(cfg, bad[0], bad[1]), bad[0])
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "****", maskToken("short"))
	assert.Equal(t, "eyJhbG...wxyz", maskToken("eyJhbGciOiJIUzI1NiJ9.wxyz"))
}

func TestFormatMessage(t *testing.T) {
	m := chatsync.Message{
		Content:   "hi",
		Sender:    chatsync.User{Username: "alice", DisplayName: "Alice"},
		CreatedAt: "not-a-time",
	}
	assert.Equal(t, "[not-a-time] Alice: hi", formatMessage(m))
}
