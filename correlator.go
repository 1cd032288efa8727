package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Pagination Correlator
// ============================================================================

type pageResult struct {
	page OlderMessagesEvent
	err  error
}

type pendingPage struct {
	roomID string
	done   chan pageResult
}

// Correlator turns the push-only olderMessages event into a request with a
// bounded wait. Requests are keyed by a generated request id; a push without
// a request id settles every outstanding request for its room.
type Correlator struct {
	disp     *Dispatcher
	timeout  time.Duration
	pageSize int
	log      *zap.Logger
	handler  *Handler

	mu      sync.Mutex
	pending map[string]*pendingPage
}

// NewCorrelator registers its olderMessages handler on d. Handlers registered
// on d before this call, such as the Store's, see each page first.
func NewCorrelator(d *Dispatcher, config *Config) *Correlator {
	cfg := *config
	cfg.defaults()
	c := &Correlator{
		disp:     d,
		timeout:  cfg.PageTimeout,
		pageSize: cfg.PageSize,
		log:      cfg.Logger.Named("correlator"),
		pending:  make(map[string]*pendingPage),
	}
	c.handler = NewHandler(c.onOlderMessages)
	d.On(EventOlderMessages, c.handler)
	return c
}

// RequestOlderMessages asks for the page of roomID before beforeID and waits
// for it. The page has already been applied to the Store when this returns.
// A limit <= 0 uses the configured page size.
func (c *Correlator) RequestOlderMessages(ctx context.Context, roomID, beforeID string, limit int) (OlderMessagesEvent, error) {
	if limit <= 0 {
		limit = c.pageSize
	}
	id := uuid.NewString()
	p := &pendingPage{roomID: roomID, done: make(chan pageResult, 1)}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	req := olderMessagesRequest{RoomID: roomID, LastMessageID: beforeID, Limit: limit}
	if err := c.disp.Emit(ctx, CmdLoadOlderMessages, req, id); err != nil {
		c.remove(id)
		return OlderMessagesEvent{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		return res.page, res.err
	case <-timer.C:
		if c.remove(id) {
			c.log.Debug("page request timed out", zap.String("room_id", roomID), zap.String("request_id", id))
			return OlderMessagesEvent{}, ErrTimeout
		}
		// Settled concurrently with the timer firing.
		res := <-p.done
		return res.page, res.err
	case <-ctx.Done():
		if c.remove(id) {
			return OlderMessagesEvent{}, ctx.Err()
		}
		res := <-p.done
		return res.page, res.err
	}
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every outstanding request with ErrClosed and detaches from the
// dispatcher.
func (c *Correlator) Close() {
	c.disp.Off(EventOlderMessages, c.handler)

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingPage)
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- pageResult{err: ErrClosed}
	}
}

// remove deletes id and reports whether this call owned the settlement.
func (c *Correlator) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Correlator) onOlderMessages(ev Event) {
	page, ok := ev.(OlderMessagesEvent)
	if !ok {
		return
	}

	var settled []*pendingPage
	c.mu.Lock()
	if page.RequestID != "" {
		if p, ok := c.pending[page.RequestID]; ok {
			delete(c.pending, page.RequestID)
			settled = append(settled, p)
		}
	} else {
		for id, p := range c.pending {
			if p.roomID == page.RoomID {
				delete(c.pending, id)
				settled = append(settled, p)
			}
		}
	}
	c.mu.Unlock()

	if len(settled) == 0 {
		c.log.Debug("uncorrelated page", zap.String("room_id", page.RoomID), zap.String("request_id", page.RequestID))
		return
	}
	for _, p := range settled {
		p.done <- pageResult{page: page}
	}
}
