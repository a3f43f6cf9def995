package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/RustamovAkrom/minichat/internal/auth"
	"github.com/RustamovAkrom/minichat/internal/bus"
	"github.com/RustamovAkrom/minichat/internal/config"
	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/presence"
	"github.com/RustamovAkrom/minichat/internal/registry"
	"github.com/RustamovAkrom/minichat/internal/roster"
	"github.com/RustamovAkrom/minichat/internal/service"
	"github.com/RustamovAkrom/minichat/internal/store"
)

var (
	alice = domain.User{ID: "u-alice", Name: "alice"}
	bob   = domain.User{ID: "u-bob", Name: "bob"}
	eve   = domain.User{ID: "u-eve", Name: "eve"}
	carol = domain.User{ID: "u-carol", Name: "carol"}
)

type stack struct {
	srv      *httptest.Server
	chat     *service.Chat
	reg      *registry.Registry
	store    store.MessageStore
	verifier *auth.Verifier
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rst := roster.NewMemoryRoster()
	ctx := context.Background()
	require.NoError(t, rst.SaveRoom(ctx,
		domain.Room{ID: "room-5", Name: "general", Kind: domain.RoomGroup},
		[]domain.Membership{
			{RoomID: "room-5", UserID: alice.ID, Role: domain.RoleOwner},
			{RoomID: "room-5", UserID: bob.ID, Role: domain.RoleMember},
		}))
	require.NoError(t, rst.SaveRoom(ctx,
		domain.Room{ID: "room-dm", Kind: domain.RoomPrivate},
		[]domain.Membership{
			{RoomID: "room-dm", UserID: alice.ID, Role: domain.RoleMember},
			{RoomID: "room-dm", UserID: carol.ID, Role: domain.RoleMember},
		}))

	msgStore := store.NewPebbleStore(db, rst)
	reg := registry.New()
	fabric := bus.NewMemoryBus(reg, 64)
	t.Cleanup(func() { fabric.Close() })

	chat := service.NewChat(msgStore, fabric, reg, presence.NewTracker(), rst)
	verifier := auth.NewVerifier("test-secret")

	wsCfg := config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      5 * time.Second,
		MaxMessageSize: 8192,
		SendBuffer:     64,
		HistoryReplay:  0,
	}
	limits := config.LimitsConfig{EventsPerSecond: 100, Burst: 100}

	router := mux.NewRouter()
	NewWSHandler(chat, verifier, wsCfg, limits).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &stack{srv: srv, chat: chat, reg: reg, store: msgStore, verifier: verifier}
}

func (s *stack) wsURL(roomID, token string) string {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/chat/" + roomID
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func (s *stack) dial(t *testing.T, roomID string, user domain.User) *websocket.Conn {
	t.Helper()
	token, err := s.verifier.Issue(user)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(roomID, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) (map[string]interface{}, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame, nil
}

// awaitFrame reads frames until one satisfies pred, failing on timeout.
func awaitFrame(t *testing.T, conn *websocket.Conn, pred func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := readFrame(t, conn, time.Until(deadline))
		require.NoError(t, err)
		if pred(frame) {
			return frame
		}
	}
	t.Fatal("expected frame never arrived")
	return nil
}

func send(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestChatMessageFanout(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	connA := s.dial(t, "room-5", alice)
	connB := s.dial(t, "room-5", bob)

	// Both sessions announce themselves with an unread resync.
	awaitFrame(t, connA, func(f map[string]interface{}) bool {
		_, ok := f["unread_count"]
		return ok
	})
	awaitFrame(t, connB, func(f map[string]interface{}) bool {
		_, ok := f["unread_count"]
		return ok
	})

	send(t, connA, map[string]interface{}{"message": "hi"})

	// B receives the message, immediately followed by the updated count.
	frame := awaitFrame(t, connB, func(f map[string]interface{}) bool {
		return f["message"] == "hi"
	})
	req.Equal("alice", frame["username"])
	req.Equal(false, frame["edited"])
	req.NotEmpty(frame["id"])

	// Delivery to a live session acknowledges the message; the pushed
	// count is computed after that acknowledgment.
	next, err := readFrame(t, connB, 3*time.Second)
	req.NoError(err)
	req.Equal(float64(0), next["unread_count"])

	// A never sees its own message echoed back.
	for {
		frame, err := readFrame(t, connA, 300*time.Millisecond)
		if err != nil {
			break // read timeout: nothing more queued
		}
		req.NotEqual("hi", frame["message"])
	}
}

func TestTypingFanout(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	connA := s.dial(t, "room-5", alice)
	connB := s.dial(t, "room-5", bob)

	send(t, connA, map[string]interface{}{"typing": true})

	frame := awaitFrame(t, connB, func(f map[string]interface{}) bool {
		return f["typing"] == true
	})
	req.Equal("alice", frame["username"])

	// Typing is transient: nothing persisted, nothing unread.
	msgs, err := s.store.List(context.Background(), "room-5", 0)
	req.NoError(err)
	req.Empty(msgs)
	count, err := s.store.UnreadCount(context.Background(), "room-5", bob.ID)
	req.NoError(err)
	req.Zero(count)
}

func TestNonMemberIsRefused(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	token, err := s.verifier.Issue(eve)
	req.NoError(err)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("room-5", token), nil)
	req.NoError(err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	req.True(websocket.IsCloseError(err, CloseNotMember), "expected close %d, got %v", CloseNotMember, err)

	// The refused connection was never subscribed.
	req.Empty(s.reg.Members("room-5"))
}

func TestAnonymousIsRefused(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("room-5", ""), nil)
	req.NoError(err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	req.True(websocket.IsCloseError(err, CloseAuthFailed), "expected close %d, got %v", CloseAuthFailed, err)
}

func TestCrossRoomReplyReportedToSenderOnly(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	// A message in the private room, persisted out of band.
	dm, err := s.chat.SendText(context.Background(), "room-dm", alice, "private", "")
	req.NoError(err)

	connA := s.dial(t, "room-5", alice)
	connB := s.dial(t, "room-5", bob)

	send(t, connA, map[string]interface{}{"message": "look", "reply_to": dm.ID})

	frame := awaitFrame(t, connA, func(f map[string]interface{}) bool {
		_, ok := f["error"]
		return ok
	})
	req.Equal("REPLY_NOT_IN_ROOM", frame["error"])

	// No broadcast reached B.
	for {
		frame, err := readFrame(t, connB, 300*time.Millisecond)
		if err != nil {
			break
		}
		req.Nil(frame["message"])
	}
}

func TestEmptyMessageIsRejected(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	connA := s.dial(t, "room-5", alice)
	send(t, connA, map[string]interface{}{"message": "   "})

	frame := awaitFrame(t, connA, func(f map[string]interface{}) bool {
		_, ok := f["error"]
		return ok
	})
	req.Equal("VALIDATION_ERROR", frame["error"])
}

func TestHistoryReplayAndResyncOnReconnect(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	_, err := s.chat.SendText(context.Background(), "room-5", alice, "before", "")
	req.NoError(err)

	connB := s.dial(t, "room-5", bob)
	frame := awaitFrame(t, connB, func(f map[string]interface{}) bool {
		_, ok := f["unread_count"]
		return ok
	})
	req.Equal(float64(1), frame["unread_count"])
}
