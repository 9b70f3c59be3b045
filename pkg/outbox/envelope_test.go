package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
)

func TestNewEnvelopeDefaults(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	occurred := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)
	env, err := newEnvelope(DomainEvent{
		EventType:  enums.EventBorrowCreated,
		OccurredAt: occurred,
		Data:       payloads.BorrowCreatedEvent{BorrowID: uuid.New()},
	})
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.True(t, env.OccurredAt.Equal(occurred))

	_, err = newEnvelope(DomainEvent{EventType: enums.EventBorrowCreated})
	assert.Error(t, err, "nil data")
	_, err = newEnvelope(DomainEvent{EventType: enums.EventBorrowCreated, Data: func() {}})
	assert.Error(t, err, "unencodable data")
}

func TestDecodeEnvelope(t *testing.T) {
	good, err := json.Marshal(PayloadEnvelope{Version: 1, EventID: "e1", Data: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	env, err := DecodeEnvelope(good)
	require.NoError(t, err)
	assert.Equal(t, "e1", env.EventID)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))

	for name, raw := range map[string]string{
		"not json":       `{`,
		"future version": `{"version":2,"eventId":"e","data":{}}`,
		"zero version":   `{"eventId":"e","data":{}}`,
		"no event id":    `{"version":1,"data":{}}`,
		"null data":      `{"version":1,"eventId":"e","data":null}`,
		"missing data":   `{"version":1,"eventId":"e"}`,
	} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.Error(t, err, name)
	}
}
