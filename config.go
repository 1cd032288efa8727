package chatsync

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultPageTimeout = 10 * time.Second
	DefaultPageSize    = 20
	DefaultReadLimit   = 4 << 20
)

// Config configures a Session and the components it owns.
type Config struct {
	// BaseURL is the REST collaborator root, e.g. "http://localhost:5000/api".
	BaseURL string
	// WSURL is the realtime endpoint. Derived from BaseURL when empty.
	WSURL string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	// ReadLimit caps one inbound frame in bytes. Room snapshots easily
	// exceed the websocket default of 32 KiB.
	ReadLimit int64

	// PageTimeout bounds a single loadOlderMessages round trip.
	PageTimeout time.Duration
	PageSize    int

	// SendRate limits outbound frames per second; zero means unlimited.
	SendRate  float64
	SendBurst int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (c *Config) defaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.WSURL == "" && c.BaseURL != "" {
		c.WSURL = wsURLFrom(c.BaseURL)
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.PageTimeout == 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.SendBurst == 0 {
		c.SendBurst = 5
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func (c *Config) sendLimit() rate.Limit {
	if c.SendRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.SendRate)
}

// wsURLFrom maps an http(s) base URL onto the realtime endpoint.
func wsURLFrom(base string) string {
	u := strings.Replace(base, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.TrimSuffix(u, "/api")
	return u + "/ws"
}
