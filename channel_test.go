package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake transport
// ============================================================================

type fakeConn struct {
	frames    chan Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Envelope
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Envelope, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.frames:
		if env.Type == "" {
			return Envelope{}, &ProtocolError{Err: errors.New("garbage")}
		}
		return env, nil
	case <-c.closed:
		return Envelope{}, errors.New("connection closed")
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, env Envelope) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) failPings(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) Close(string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
	fail   error
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (l *stateLog) record(s ConnState, _ string) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnState(nil), l.states...)
}

var (
	credAlice = Credential{Token: "tok-alice", UserID: "u-alice"}
	credBob   = Credential{Token: "tok-bob", UserID: "u-bob"}
)

// ============================================================================
// Channel Manager
// ============================================================================

func TestChannelConnect(t *testing.T) {
	t.Run("state transitions", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{})
		log := &stateLog{}
		m.OnState(log.record)

		require.NoError(t, m.Connect(context.Background(), credAlice))
		assert.Equal(t, StateConnected, m.State())
		assert.Equal(t, []ConnState{StateConnecting, StateConnected}, log.snapshot())
		assert.Equal(t, []string{"tok-alice"}, d.tokens)

		require.NoError(t, m.Disconnect())
		assert.Equal(t, StateDisconnected, m.State())
		assert.Equal(t, []ConnState{StateConnecting, StateConnected, StateDisconnected}, log.snapshot())
	})

	t.Run("same identity is a no-op", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{})
		require.NoError(t, m.Connect(context.Background(), credAlice))
		require.NoError(t, m.Connect(context.Background(), credAlice))

		assert.Equal(t, 1, d.dials())
		m.Disconnect()
	})

	t.Run("different identity closes previous channel", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{})
		require.NoError(t, m.Connect(context.Background(), credAlice))
		require.NoError(t, m.Connect(context.Background(), credBob))

		assert.Equal(t, 2, d.dials())
		assert.True(t, d.conn(0).isClosed())
		assert.False(t, d.conn(1).isClosed())
		assert.Equal(t, credBob, m.Identity())
		m.Disconnect()
	})

	t.Run("dial failure", func(t *testing.T) {
		d := &fakeDialer{fail: errors.New("connection refused")}
		m := NewChannelManager(d, &Config{})

		err := m.Connect(context.Background(), credAlice)
		require.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, StateDisconnected, m.State())
	})
}

func TestChannelFrames(t *testing.T) {
	d := &fakeDialer{}
	m := NewChannelManager(d, &Config{})

	var mu sync.Mutex
	var got []string
	m.OnFrame(func(env Envelope) {
		mu.Lock()
		got = append(got, env.Type)
		mu.Unlock()
	})
	require.NoError(t, m.Connect(context.Background(), credAlice))
	defer m.Disconnect()

	c := d.conn(0)
	c.frames <- Envelope{Type: "first"}
	c.frames <- Envelope{}
	c.frames <- Envelope{Type: "second"}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first", "second"}, got)
	mu.Unlock()
	assert.Equal(t, StateConnected, m.State())
}

func TestChannelSend(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		m := NewChannelManager(&fakeDialer{}, &Config{})
		err := m.Send(context.Background(), Envelope{Type: CmdJoinRoom})
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("writes to the live connection", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{})
		require.NoError(t, m.Connect(context.Background(), credAlice))
		defer m.Disconnect()

		require.NoError(t, m.Send(context.Background(), Envelope{Type: CmdJoinRoom}))
		c := d.conn(0)
		c.mu.Lock()
		defer c.mu.Unlock()
		require.Len(t, c.written, 1)
		assert.Equal(t, CmdJoinRoom, c.written[0].Type)
	})
}

func TestChannelTransportLoss(t *testing.T) {
	t.Run("becomes disconnected without reconnect", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{})
		require.NoError(t, m.Connect(context.Background(), credAlice))

		d.conn(0).Close("server gone")
		assert.Eventually(t, func() bool { return m.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, d.dials())
	})

	t.Run("reconnects when enabled", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{
			AutoReconnect:      true,
			ReconnectBaseDelay: 5 * time.Millisecond,
			ReconnectMaxDelay:  20 * time.Millisecond,
		})
		log := &stateLog{}
		m.OnState(log.record)
		require.NoError(t, m.Connect(context.Background(), credAlice))
		defer m.Disconnect()

		d.conn(0).Close("server gone")
		assert.Eventually(t, func() bool { return d.dials() == 2 && m.State() == StateConnected }, time.Second, 5*time.Millisecond)
		assert.Contains(t, log.snapshot(), StateDisconnected)
	})

	t.Run("disconnect stops reconnect", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewChannelManager(d, &Config{
			AutoReconnect:      true,
			ReconnectBaseDelay: 50 * time.Millisecond,
			ReconnectMaxDelay:  50 * time.Millisecond,
		})
		require.NoError(t, m.Connect(context.Background(), credAlice))

		d.conn(0).Close("server gone")
		assert.Eventually(t, func() bool { return m.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
		require.NoError(t, m.Disconnect())

		time.Sleep(120 * time.Millisecond)
		assert.Equal(t, 1, d.dials())
		assert.Equal(t, StateDisconnected, m.State())
	})
}

// ============================================================================
// Reconnector
// ============================================================================

func TestReconnector(t *testing.T) {
	r := newReconnector(&Config{ReconnectBaseDelay: 100 * time.Millisecond, ReconnectMaxDelay: time.Second, MaxReconnectAttempts: 3})

	prev := time.Duration(0)
	for i := 0; i < 3; i++ {
		require.True(t, r.shouldReconnect())
		delay := r.nextDelay()
		assert.LessOrEqual(t, delay, time.Second)
		assert.GreaterOrEqual(t, delay, prev)
		prev = delay
	}
	assert.False(t, r.shouldReconnect())

	r.reset()
	assert.True(t, r.shouldReconnect())

	unlimited := newReconnector(&Config{MaxReconnectAttempts: -1})
	unlimited.attempt = 1000
	assert.True(t, unlimited.shouldReconnect())
}

func TestChannelHeartbeat(t *testing.T) {
	d := &fakeDialer{}
	m := NewChannelManager(d, &Config{HeartbeatInterval: 20 * time.Millisecond})
	log := &stateLog{}
	m.OnState(log.record)
	t.Cleanup(func() { m.Disconnect() })

	require.NoError(t, m.Connect(context.Background(), credAlice))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateConnected, m.State(), "healthy pings keep the channel up")

	d.conn(0).failPings(errors.New("pong timeout"))
	require.Eventually(t, func() bool { return d.conn(0).isClosed() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ConnState{StateConnecting, StateConnected, StateDisconnected}, log.snapshot())
}
