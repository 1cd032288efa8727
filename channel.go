package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChannelManager owns the lifecycle of the realtime connection for one
// identity. Transport loss is reported as a state transition, never as an
// error to the caller.
type ChannelManager struct {
	dialer  Dialer
	config  *Config
	log     *zap.Logger
	limiter *rate.Limiter

	mu               sync.Mutex
	state            ConnState
	cred             Credential
	conn             Conn
	generation       uint64
	intentionalClose bool
	sessCancel       context.CancelFunc
	connCancel       context.CancelFunc
	recon            *reconnector

	onState func(ConnState, string)
	onFrame func(Envelope)
}

// NewChannelManager creates a manager in StateDisconnected.
func NewChannelManager(dialer Dialer, config *Config) *ChannelManager {
	cfg := *config
	cfg.defaults()
	return &ChannelManager{
		dialer:  dialer,
		config:  &cfg,
		log:     cfg.Logger.Named("channel"),
		limiter: rate.NewLimiter(cfg.sendLimit(), cfg.SendBurst),
		state:   StateDisconnected,
		recon:   newReconnector(&cfg),
	}
}

// OnState sets the callback receiving every state transition.
func (m *ChannelManager) OnState(fn func(state ConnState, reason string)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// OnFrame sets the callback receiving every inbound envelope, in arrival order.
func (m *ChannelManager) OnFrame(fn func(Envelope)) {
	m.mu.Lock()
	m.onFrame = fn
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *ChannelManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the credential of the current or last connection.
func (m *ChannelManager) Identity() Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Connect opens the channel for cred. It is a no-op when a channel for the
// same identity is already open or being opened; a different identity closes
// the previous channel first.
func (m *ChannelManager) Connect(ctx context.Context, cred Credential) error {
	m.mu.Lock()
	if m.cred == cred && m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	active := m.sessCancel != nil
	prev := m.cred
	m.mu.Unlock()

	if active {
		if prev != cred {
			m.log.Info("identity changed, closing previous channel", zap.String("user_id", prev.UserID))
		}
		if err := m.Disconnect(); err != nil {
			m.log.Debug("close previous channel", zap.Error(err))
		}
	}

	m.mu.Lock()
	sessCtx, cancel := context.WithCancel(context.Background())
	m.cred = cred
	m.intentionalClose = false
	m.sessCancel = cancel
	m.recon.reset()
	m.mu.Unlock()

	err := m.dial(ctx, sessCtx)
	if err != nil && m.config.AutoReconnect && !errors.Is(err, ErrClosed) {
		go m.reconnectLoop(sessCtx)
	}
	return err
}

// Disconnect closes the channel and stops any pending reconnect.
func (m *ChannelManager) Disconnect() error {
	m.mu.Lock()
	m.intentionalClose = true
	cancel := m.sessCancel
	m.sessCancel = nil
	m.connCancel = nil
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	// Close before cancelling so the read loop can complete the close handshake.
	var err error
	if conn != nil {
		err = conn.Close("client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	m.setState(StateDisconnected, "client disconnect")
	return err
}

// Send writes one outbound envelope. It does not wait for any reply.
func (m *ChannelManager) Send(ctx context.Context, env Envelope) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	if err := conn.WriteFrame(ctx, env); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTransport, env.Type, err)
	}
	return nil
}

func (m *ChannelManager) dial(ctx, sessCtx context.Context) error {
	m.setState(StateConnecting, "")

	m.mu.Lock()
	token := m.cred.Token
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, token)
	if err != nil {
		m.log.Warn("dial failed", zap.Error(err))
		if sessCtx.Err() == nil {
			m.setState(StateDisconnected, err.Error())
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	m.mu.Lock()
	if m.intentionalClose || sessCtx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close("client disconnect")
		return ErrClosed
	}
	m.generation++
	gen := m.generation
	connCtx, cancel := context.WithCancel(sessCtx)
	m.conn = conn
	m.connCancel = cancel
	m.recon.markConnected()
	m.mu.Unlock()

	m.setState(StateConnected, "")

	go m.readLoop(connCtx, sessCtx, conn, gen)
	go m.heartbeatLoop(connCtx, conn)
	return nil
}

func (m *ChannelManager) readLoop(ctx, sessCtx context.Context, conn Conn, gen uint64) {
	for {
		env, err := conn.ReadFrame(ctx)
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				m.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			m.handleLoss(sessCtx, gen, err)
			return
		}

		m.mu.Lock()
		deliver := m.onFrame
		m.mu.Unlock()
		if deliver != nil {
			deliver(env)
		}
	}
}

func (m *ChannelManager) handleLoss(sessCtx context.Context, gen uint64, cause error) {
	m.mu.Lock()
	if m.intentionalClose || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.mu.Unlock()

	m.log.Info("connection lost", zap.Error(cause))
	m.setState(StateDisconnected, cause.Error())

	if m.config.AutoReconnect {
		m.reconnectLoop(sessCtx)
	}
}

func (m *ChannelManager) reconnectLoop(sessCtx context.Context) {
	for {
		m.mu.Lock()
		if !m.recon.shouldReconnect() {
			attempts := m.recon.attempt
			m.mu.Unlock()
			m.log.Warn("giving up reconnect", zap.Int("attempts", attempts))
			return
		}
		delay := m.recon.nextDelay()
		attempt := m.recon.attempt
		m.mu.Unlock()

		m.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-sessCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		dialCtx, cancel := context.WithTimeout(sessCtx, DefaultTimeout)
		err := m.dial(dialCtx, sessCtx)
		cancel()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
	}
}

func (m *ChannelManager) heartbeatLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				m.log.Warn("heartbeat failed, closing connection", zap.Error(err))
				_ = conn.Close("heartbeat timeout")
				return
			}
		}
	}
}

func (m *ChannelManager) setState(state ConnState, reason string) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	notify := m.onState
	m.mu.Unlock()

	m.log.Debug("state change", zap.String("state", string(state)), zap.String("reason", reason))
	if notify != nil {
		notify(state, reason)
	}
}
