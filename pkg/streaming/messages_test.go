package streaming

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/pkg/core"
)

func TestMarshal_Envelope(t *testing.T) {
	data, err := Marshal(TypeDelete, "7", DeletePayload{ID: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"delete","id":"7","payload":{"id":"abc"}}`, string(data))
}

func TestMarshal_NilPayload(t *testing.T) {
	data, err := Marshal(TypeUnsubscribe, "3", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unsubscribe","id":"3"}`, string(data))
}

func TestQueryPayload_KeepsTimestampFilter(t *testing.T) {
	since := time.Date(2025, 12, 4, 9, 0, 0, 0, time.UTC)
	data, err := Marshal(TypeQuery, "1", QueryPayload{Query: storage.RecentSince(since, 500)})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	var p QueryPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))

	require.Len(t, p.Query.Filters, 1)
	assert.Equal(t, since, p.Query.Filters[0].Value)
	assert.Equal(t, 500, p.Query.Limit)
	assert.NoError(t, p.Query.Validate())
}

func TestChangeEnvelope(t *testing.T) {
	data, err := Marshal(TypeChange, "sub1", core.Removed("e1"))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	var c core.Change
	require.NoError(t, json.Unmarshal(env.Payload, &c))
	assert.Equal(t, core.ChangeRemoved, c.Type)
	assert.Equal(t, "e1", c.ID)
}
