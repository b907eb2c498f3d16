package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
	"github.com/sonder-map/sonder/pkg/streaming"
)

// Handler serves a storage.Backend to WebSocket clients.
type Handler struct {
	backend  storage.Backend
	secret   string
	logger   *slog.Logger
	upgrader ws.Upgrader
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSecret requires clients to pass ?secret= matching s.
func WithSecret(s string) HandlerOption {
	return func(h *Handler) { h.secret = s }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a handler serving backend.
func NewHandler(backend storage.Backend, opts ...HandlerOption) *Handler {
	h := &Handler{
		backend: backend,
		logger:  slog.Default(),
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.URL.Query().Get("secret") != h.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		h:      h,
		conn:   conn,
		out:    make(chan []byte, sendChSize),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]storage.Unsubscribe),
	}
	go s.writeLoop()
	s.readLoop()
}

// session is one client connection.
type session struct {
	h      *Handler
	conn   *ws.Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]storage.Unsubscribe
}

func (s *session) readLoop() {
	defer s.shutdown()
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.h.logger.Debug("WebSocket client read error", "error", err)
			}
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.reply("", nil, fmt.Errorf("malformed envelope: %w", err), streaming.CodeBadRequest)
			continue
		}
		s.handle(env)
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.out:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.cancel()
				return
			}
			if err := s.conn.WriteMessage(ws.TextMessage, data); err != nil {
				s.h.logger.Debug("WebSocket client write error", "error", err)
				s.cancel()
				return
			}
		}
	}
}

func (s *session) shutdown() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]storage.Unsubscribe)
	s.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	s.cancel()
	_ = s.conn.Close()
}

// push queues a frame, waiting while the client is slow rather than
// dropping a change.
func (s *session) push(msgType, id string, payload any) {
	data, err := streaming.Marshal(msgType, id, payload)
	if err != nil {
		s.h.logger.Error("Failed to marshal frame", "type", msgType, "error", err)
		return
	}
	select {
	case s.out <- data:
	case <-s.ctx.Done():
	}
}

func (s *session) reply(id string, data any, err error, code string) {
	var res streaming.ResultPayload
	if err != nil {
		res.Error = err.Error()
		res.Code = code
	} else if data != nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			res.Error, res.Code = mErr.Error(), streaming.CodeInternal
		} else {
			res.Data = raw
		}
	}
	s.push(streaming.TypeResult, id, res)
}

func errorCode(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return streaming.CodeNotFound
	}
	return streaming.CodeInternal
}

func (s *session) handle(env streaming.Envelope) {
	decode := func(v any) bool {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			s.reply(env.ID, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err), streaming.CodeBadRequest)
			return false
		}
		return true
	}

	switch env.Type {
	case streaming.TypeQuery:
		var p streaming.QueryPayload
		if !decode(&p) {
			return
		}
		if err := p.Query.Validate(); err != nil {
			s.reply(env.ID, nil, err, streaming.CodeBadRequest)
			return
		}
		entries, err := s.h.backend.Query(s.ctx, p.Query)
		if entries == nil {
			entries = []core.Entry{}
		}
		s.reply(env.ID, streaming.QueryResult{Entries: entries}, err, errorCode(err))

	case streaming.TypeCreate:
		var p streaming.CreatePayload
		if !decode(&p) {
			return
		}
		id, err := s.h.backend.Create(s.ctx, p.Entry)
		s.reply(env.ID, streaming.CreateResult{ID: id}, err, errorCode(err))

	case streaming.TypeDelete:
		var p streaming.DeletePayload
		if !decode(&p) {
			return
		}
		err := s.h.backend.Delete(s.ctx, p.ID)
		s.reply(env.ID, nil, err, errorCode(err))

	case streaming.TypeBatchDelete:
		var p streaming.BatchDeletePayload
		if !decode(&p) {
			return
		}
		err := s.h.backend.BatchDelete(s.ctx, p.IDs)
		s.reply(env.ID, nil, err, errorCode(err))

	case streaming.TypeSubscribe:
		s.subscribe(env.ID)

	case streaming.TypeUnsubscribe:
		s.mu.Lock()
		unsub, ok := s.subs[env.ID]
		delete(s.subs, env.ID)
		s.mu.Unlock()
		if ok {
			unsub()
		}

	default:
		s.reply(env.ID, nil, fmt.Errorf("unknown message type %q", env.Type), streaming.CodeBadRequest)
	}
}

func (s *session) subscribe(id string) {
	s.mu.Lock()
	if old, ok := s.subs[id]; ok {
		old()
		delete(s.subs, id)
	}
	s.mu.Unlock()

	unsub, err := s.h.backend.Subscribe(s.ctx,
		func(c core.Change) { s.push(streaming.TypeChange, id, c) },
		func(err error) { s.push(streaming.TypeStreamError, id, streaming.StreamErrorPayload{Error: err.Error()}) },
	)
	if err != nil {
		s.reply(id, nil, err, errorCode(err))
		return
	}
	s.mu.Lock()
	s.subs[id] = unsub
	s.mu.Unlock()
	s.reply(id, nil, nil, "")
}
