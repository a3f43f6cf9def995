package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// reencode pushes an event through the JSON envelope the redis bus uses on
// the wire. The memory bus hands the struct over directly; frames built
// from either side must be identical.
func reencode(t *testing.T, ev Event) Event {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func TestChatEnvelopeSurvivesWireTransport(t *testing.T) {
	req := require.New(t)

	msg := Message{
		ID:         "m-1",
		RoomID:     "room-5",
		SenderID:   "u-a",
		SenderName: "alice",
		Text:       "hi",
		ReplyTo:    "m-0",
		Seq:        7,
		Edited:     true,
	}
	ev, err := ChatEvent(msg)
	req.NoError(err)

	got := reencode(t, ev)
	req.Equal(ev.Type, got.Type)
	req.Equal(ev.RoomID, got.RoomID)
	req.Equal(ev.SenderID, got.SenderID)

	var local, remote ChatPayload
	req.NoError(ev.UnmarshalPayload(&local))
	req.NoError(got.UnmarshalPayload(&remote))
	req.Equal(local, remote)
	req.Equal(local.Frame(), remote.Frame())
}

func TestTypingEnvelopeSurvivesWireTransport(t *testing.T) {
	req := require.New(t)

	ev, err := TypingEvent("room-5", User{ID: "u-a", Name: "alice"})
	req.NoError(err)

	var local, remote TypingPayload
	req.NoError(ev.UnmarshalPayload(&local))
	req.NoError(reencode(t, ev).UnmarshalPayload(&remote))
	req.Equal(local.Frame(), remote.Frame())
	req.Equal("alice", remote.Frame().Username)
	req.True(remote.Frame().Typing)
}

func TestPresenceEnvelopeSurvivesWireTransport(t *testing.T) {
	req := require.New(t)

	lastSeen := time.Unix(1700000000, 0).UTC()
	ev, err := PresenceEvent("room-5", User{ID: "u-a", Name: "alice"}, PresenceState{
		Online:   false,
		LastSeen: lastSeen,
	})
	req.NoError(err)

	var local, remote PresencePayload
	req.NoError(ev.UnmarshalPayload(&local))
	req.NoError(reencode(t, ev).UnmarshalPayload(&remote))
	req.Equal(local.Frame(), remote.Frame())
	req.Equal(lastSeen.Unix(), remote.Frame().LastSeen)
	req.False(remote.Frame().Online)
}
