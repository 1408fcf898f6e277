package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(Event{Type: TypeJoin, Player: "Alice"}))
	assert.NoError(t, p.Close())
}

func TestEvent_JSONShape(t *testing.T) {
	ev := Event{
		Type:   TypeRoomChange,
		Player: "Alice",
		Room:   "pool",
		Addr:   "10.0.0.1:4242",
		Time:   time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "room_change", decoded["type"])
	assert.Equal(t, "Alice", decoded["player"])
	assert.Equal(t, "pool", decoded["room"])
	assert.Equal(t, "10.0.0.1:4242", decoded["addr"])
}

func TestEvent_LeaveOmitsRoom(t *testing.T) {
	data, err := json.Marshal(Event{Type: TypeLeave, Player: "Alice", Addr: "10.0.0.1:4242"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	_, hasRoom := decoded["room"]
	assert.False(t, hasRoom)
}
