package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
	"github.com/sonder-map/sonder/pkg/streaming"
)

const (
	sendChSize     = 1024
	maxReconnect   = 10
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	requestTimeout = 15 * time.Second
)

// ErrDisconnected is reported to subscribers when the connection drops and
// returned to requests that cannot be sent.
var ErrDisconnected = errors.New("websocket disconnected")

// remoteSub is a server-side subscription as seen by the client. Pushes
// are handed to a local feed so callbacks never run on the read loop.
type remoteSub struct {
	feed    *storage.Feed
	request []byte // subscribe frame, replayed on reconnect

	mu    sync.Mutex
	known map[string]struct{} // ids delivered and not yet removed
}

func newRemoteSub(feed *storage.Feed, request []byte) *remoteSub {
	return &remoteSub{feed: feed, request: request, known: make(map[string]struct{})}
}

// deliver records c and hands it to the subscriber.
func (s *remoteSub) deliver(c core.Change) {
	s.mu.Lock()
	switch c.Type {
	case core.ChangeAdded, core.ChangeModified:
		s.known[c.ID] = struct{}{}
	case core.ChangeRemoved:
		delete(s.known, c.ID)
	}
	s.mu.Unlock()
	s.feed.Publish(c)
}

func (s *remoteSub) knownIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	return ids
}

// removeMissing delivers a removal for every id of stale that is absent
// from present.
func (s *remoteSub) removeMissing(stale []string, present map[string]struct{}) int {
	n := 0
	for _, id := range stale {
		if _, ok := present[id]; ok {
			continue
		}
		s.deliver(core.Removed(id))
		n++
	}
	return n
}

// connection manages a WebSocket connection with a single write goroutine.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	stop    chan struct{} // closed when conn is torn down
	sendCh  chan []byte
	done    chan struct{} // closed on shutdown
	closed  bool
	pending map[string]chan streaming.ResultPayload
	subs    map[string]*remoteSub
	nextID  atomic.Uint64

	wsURL  string
	secret string

	// backoff is the first reconnect delay; doubled up to maxBackoff.
	backoff time.Duration

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan streaming.ResultPayload),
		subs:    make(map[string]*remoteSub),
		backoff: time.Second,
		logger:  logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn, c.stop = conn, stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh and writes messages to conn.
// Only one writeLoop runs per connection; it returns on error or shutdown.
func (c *connection) writeLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop routes results to waiting requests and pushes to subscriptions.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Malformed message received", "raw", string(message))
			continue
		}
		c.route(env)
	}
}

func (c *connection) route(env streaming.Envelope) {
	switch env.Type {
	case streaming.TypeResult:
		var res streaming.ResultPayload
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			res = streaming.ResultPayload{Error: err.Error(), Code: streaming.CodeInternal}
		}
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ok {
			ch <- res
		}

	case streaming.TypeChange:
		var change core.Change
		if err := json.Unmarshal(env.Payload, &change); err != nil {
			c.logger.Warn("Malformed change received", "id", env.ID, "error", err)
			return
		}
		if sub := c.sub(env.ID); sub != nil {
			sub.deliver(change)
		}

	case streaming.TypeStreamError:
		var p streaming.StreamErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		if sub := c.sub(env.ID); sub != nil {
			sub.feed.Fail(errors.New(p.Error))
		}

	default:
		c.logger.Debug("Unknown message type", "type", env.Type)
	}
}

func (c *connection) sub(id string) *remoteSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. Subscribers see ErrDisconnected first; on success
// every subscribe frame is replayed so the server re-sends its snapshot,
// and entries deleted during the outage are delivered as removals.
func (c *connection) reconnect(old *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != old {
		// already shut down, or another loop got here first
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	close(c.stop)
	c.conn, c.stop = nil, nil
	subs := make([]*remoteSub, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	for id, ch := range c.pending {
		ch <- streaming.ResultPayload{Error: ErrDisconnected.Error(), Code: streaming.CodeInternal}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.feed.Fail(ErrDisconnected)
	}

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		stop := make(chan struct{})
		c.conn, c.stop = conn, stop
		replayed := make([]*remoteSub, 0, len(c.subs))
		for _, s := range c.subs {
			replayed = append(replayed, s)
		}
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn, stop)
		go c.readLoop(conn)
		stale := make([][]string, len(replayed))
		for i, s := range replayed {
			stale[i] = s.knownIDs()
			c.send(s.request)
		}
		if len(replayed) > 0 {
			c.resync(replayed, stale)
		}
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// resync queries the collection after the subscribe frames were replayed.
// The server handles frames in order, so any deletion after the query is
// already covered by the new subscriptions; ids that were known before the
// outage and are missing now were deleted while the client was away.
func (c *connection) resync(subs []*remoteSub, stale [][]string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := c.request(ctx, streaming.TypeQuery, streaming.QueryPayload{Query: storage.Query{}})
	if err == nil {
		err = resultError(res)
	}
	var out streaming.QueryResult
	if err == nil && len(res.Data) > 0 {
		err = json.Unmarshal(res.Data, &out)
	}
	if err != nil {
		c.logger.Warn("Resync after reconnect failed", "error", err)
		return
	}

	present := make(map[string]struct{}, len(out.Entries))
	for _, e := range out.Entries {
		present[e.ID] = struct{}{}
	}
	removed := 0
	for i, s := range subs {
		removed += s.removeMissing(stale[i], present)
	}
	if removed > 0 {
		c.logger.Info("Entries removed during outage", "count", removed)
	}
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return false
	}
}

func (c *connection) newRequestID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

// request sends a frame and blocks until the server answers with a result
// carrying the same ID. It gives up when ctx is done, after requestTimeout,
// or on shutdown.
func (c *connection) request(ctx context.Context, msgType string, payload any) (streaming.ResultPayload, error) {
	return c.requestWithID(ctx, c.newRequestID(), msgType, payload)
}

func (c *connection) requestWithID(ctx context.Context, id, msgType string, payload any) (streaming.ResultPayload, error) {
	data, err := streaming.Marshal(msgType, id, payload)
	if err != nil {
		return streaming.ResultPayload{}, fmt.Errorf("marshal %s: %w", msgType, err)
	}

	ch := make(chan streaming.ResultPayload, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return streaming.ResultPayload{}, ErrDisconnected
	}
	if c.conn == nil {
		c.mu.Unlock()
		return streaming.ResultPayload{}, ErrDisconnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if !c.send(data) {
		c.forget(id)
		return streaming.ResultPayload{}, fmt.Errorf("send %s: queue full", msgType)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		c.forget(id)
		return streaming.ResultPayload{}, ctx.Err()
	case <-timer.C:
		c.forget(id)
		return streaming.ResultPayload{}, fmt.Errorf("timeout waiting for result of %s %s", msgType, id)
	case <-c.done:
		return streaming.ResultPayload{}, fmt.Errorf("connection closed while waiting for result of %s %s", msgType, id)
	}
}

func (c *connection) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	subs := c.subs
	c.subs = make(map[string]*remoteSub)
	c.mu.Unlock()

	for _, s := range subs {
		s.feed.Close()
	}

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
