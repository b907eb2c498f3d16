// Package websocket implements storage.Backend against a remote entries
// service over WebSocket, and the handler that serves any backend that way.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
	"github.com/sonder-map/sonder/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend is a client of a remote entries service.
type Backend struct {
	conn *connection
	cfg  Config
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

// New creates a new WebSocket storage backend.
func New(cfg Config) *Backend {
	return NewWithLogger(cfg, slog.Default())
}

// NewWithLogger creates a backend that logs connection events to logger.
func NewWithLogger(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// call runs one request and decodes the result data into out, if non-nil.
func (b *Backend) call(ctx context.Context, msgType string, payload, out any) error {
	res, err := b.conn.request(ctx, msgType, payload)
	if err != nil {
		return err
	}
	if err := resultError(res); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	if out != nil && len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, out); err != nil {
			return fmt.Errorf("decode %s result: %w", msgType, err)
		}
	}
	return nil
}

func resultError(res streaming.ResultPayload) error {
	if res.Error == "" {
		return nil
	}
	if res.Code == streaming.CodeNotFound {
		return fmt.Errorf("%s: %w", res.Error, storage.ErrNotFound)
	}
	return errors.New(res.Error)
}

func (b *Backend) Query(ctx context.Context, q storage.Query) ([]core.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out streaming.QueryResult
	if err := b.call(ctx, streaming.TypeQuery, streaming.QueryPayload{Query: q}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (b *Backend) Create(ctx context.Context, e core.Entry) (string, error) {
	var out streaming.CreateResult
	if err := b.call(ctx, streaming.TypeCreate, streaming.CreatePayload{Entry: e}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	return b.call(ctx, streaming.TypeDelete, streaming.DeletePayload{ID: id}, nil)
}

func (b *Backend) BatchDelete(ctx context.Context, ids []string) error {
	return b.call(ctx, streaming.TypeBatchDelete, streaming.BatchDeletePayload{IDs: ids}, nil)
}

// Subscribe opens a server-side subscription. The server's snapshot and
// live changes arrive as change pushes tagged with the request ID.
func (b *Backend) Subscribe(ctx context.Context, onChange storage.ChangeFunc, onError storage.ErrorFunc) (storage.Unsubscribe, error) {
	id := b.conn.newRequestID()
	frame, err := streaming.Marshal(streaming.TypeSubscribe, id, nil)
	if err != nil {
		return nil, err
	}

	feed := storage.NewFeed()
	feed.Subscribe(ctx, nil, onChange, onError)

	// register before sending so no push is lost
	b.conn.mu.Lock()
	b.conn.subs[id] = newRemoteSub(feed, frame)
	b.conn.mu.Unlock()

	drop := func() bool {
		b.conn.mu.Lock()
		_, ok := b.conn.subs[id]
		delete(b.conn.subs, id)
		b.conn.mu.Unlock()
		feed.Close()
		return ok
	}

	res, err := b.conn.requestWithID(ctx, id, streaming.TypeSubscribe, nil)
	if err == nil {
		err = resultError(res)
	}
	if err != nil {
		drop()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	unsubscribe := func() {
		if drop() {
			if data, err := streaming.Marshal(streaming.TypeUnsubscribe, id, nil); err == nil {
				b.conn.send(data)
			}
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.conn.done:
		}
	}()
	return unsubscribe, nil
}
