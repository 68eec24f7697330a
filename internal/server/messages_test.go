package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomID_UnmarshalJSON(t *testing.T) {
	tcases := []struct {
		name     string
		input    string
		expected RoomID
		wantErr  bool
	}{
		{name: "number", input: `{"room_id":5}`, expected: 5},
		{name: "numeric string", input: `{"room_id":"12"}`, expected: 12},
		{name: "null", input: `{"room_id":null}`, expected: 0},
		{name: "missing", input: `{}`, expected: 0},
		{name: "word", input: `{"room_id":"general"}`, wantErr: true},
		{name: "float", input: `{"room_id":1.5}`, wantErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var payload RoomPayload
			err := json.Unmarshal([]byte(tc.input), &payload)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, payload.RoomId)
		})
	}
}

func TestRoomID_orDefault(t *testing.T) {
	assert.Equal(t, 1, RoomID(0).orDefault())
	assert.Equal(t, 1, RoomID(-4).orDefault())
	assert.Equal(t, 7, RoomID(7).orDefault())
}

func TestClientMessage_decode(t *testing.T) {
	t.Run("full frame", func(t *testing.T) {
		var msg ClientMessage
		require.NoError(t, json.Unmarshal([]byte(`{"event":"send_message","data":{"room_id":1,"message":"hi","reply_to":4}}`), &msg))
		assert.Equal(t, EventSendMessage, msg.Event)

		var payload SendMessagePayload
		require.NoError(t, msg.decode(&payload))
		assert.Equal(t, RoomID(1), payload.RoomId)
		assert.Equal(t, "hi", payload.Message)
		require.NotNil(t, payload.ReplyTo)
		assert.Equal(t, 4, *payload.ReplyTo)
	})

	t.Run("missing data", func(t *testing.T) {
		msg := ClientMessage{Event: EventJoinRoom}
		var payload RoomPayload
		assert.NoError(t, msg.decode(&payload))
		assert.Zero(t, payload.RoomId)
	})

	t.Run("null data", func(t *testing.T) {
		msg := ClientMessage{Event: EventJoinRoom, Data: json.RawMessage("null")}
		var payload RoomPayload
		assert.NoError(t, msg.decode(&payload))
	})

	t.Run("wrong shape", func(t *testing.T) {
		msg := ClientMessage{Event: EventAuthenticate, Data: json.RawMessage(`["token"]`)}
		var payload AuthenticatePayload
		assert.Error(t, msg.decode(&payload))
	})
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "expected millisecond precision")
	assert.WithinDuration(t, time.Now(), now, time.Second)
}
