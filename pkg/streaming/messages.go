// Package streaming defines the wire messages of the remote entries protocol.
// Every frame is an Envelope. Requests carry a client-chosen ID that the
// server echoes on the matching result; change and stream_error pushes carry
// the ID of the subscribe request they belong to.
package streaming

import (
	"encoding/json"

	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	// client to server
	TypeQuery       = "query"
	TypeCreate      = "create"
	TypeDelete      = "delete"
	TypeBatchDelete = "batch_delete"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// server to client
	TypeResult      = "result"
	TypeChange      = "change"
	TypeStreamError = "stream_error"
)

// Error codes carried in ResultPayload.Code.
const (
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeInternal   = "internal"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QueryPayload carries a one-shot query.
type QueryPayload struct {
	Query storage.Query `json:"query"`
}

// QueryResult lists the matching entries.
type QueryResult struct {
	Entries []core.Entry `json:"entries"`
}

// CreatePayload carries the entry to store.
type CreatePayload struct {
	Entry core.Entry `json:"entry"`
}

// CreateResult carries the assigned entry ID.
type CreateResult struct {
	ID string `json:"id"`
}

// DeletePayload names one entry to remove.
type DeletePayload struct {
	ID string `json:"id"`
}

// BatchDeletePayload names entries to remove together.
type BatchDeletePayload struct {
	IDs []string `json:"ids"`
}

// ResultPayload answers a request. Error is empty on success.
type ResultPayload struct {
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StreamErrorPayload reports a failure of a subscription.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

// Marshal builds a JSON-encoded Envelope from a message type, ID, and payload.
// A nil payload leaves Payload empty.
func Marshal(msgType, id string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
