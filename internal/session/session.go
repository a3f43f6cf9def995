package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/RustamovAkrom/minichat/internal/config"
	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/metrics"
	"github.com/RustamovAkrom/minichat/internal/service"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// State of a connection session. Transitions are one-way:
// Connecting -> Authorized -> Active -> Closed, with Connecting -> Closed
// on authorization failure.
type State int32

const (
	StateConnecting State = iota
	StateAuthorized
	StateActive
	StateClosed
)

var validate = validator.New()

// Session is the per-connection state machine. Identity fields are fixed at
// construction, after authorization succeeded; there is no partially
// initialized session reachable from concurrent handlers. All cross-session
// coordination goes through the service.
type Session struct {
	ID     string
	User   domain.User
	RoomID string

	conn    *websocket.Conn
	svc     *service.Chat
	events  <-chan domain.Event
	send    chan []byte
	done    chan struct{}
	state   atomic.Int32
	limiter *rate.Limiter

	wsCfg  config.WebSocketConfig
	closer sync.Once
}

// New constructs an authorized session. The caller must have verified room
// membership already.
func New(id string, user domain.User, roomID string, conn *websocket.Conn, svc *service.Chat, wsCfg config.WebSocketConfig, limits config.LimitsConfig) *Session {
	s := &Session{
		ID:      id,
		User:    user,
		RoomID:  roomID,
		conn:    conn,
		svc:     svc,
		send:    make(chan []byte, wsCfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(limits.EventsPerSecond), limits.Burst),
		wsCfg:   wsCfg,
	}
	s.state.Store(int32(StateAuthorized))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run activates the session and blocks until the connection closes. The
// read pump runs in the calling goroutine; the write pump and the bus
// delivery loop get their own.
func (s *Session) Run(ctx context.Context) error {
	events, err := s.svc.Join(ctx, s.RoomID, s.ID, s.User)
	if err != nil {
		s.teardown(ctx)
		return err
	}
	s.events = events
	s.state.Store(int32(StateActive))
	metrics.Connections.Inc()

	go s.writePump()
	go s.deliverLoop(ctx)

	s.replay(ctx)
	s.resync(ctx)

	s.readPump(ctx)
	s.teardown(ctx)
	return nil
}

// teardown unwinds the session exactly once: detach from the bus,
// unsubscribe from the room, flip presence. Repeated close signals are
// no-ops, so a close racing an in-flight inbound event cannot double-fire.
func (s *Session) teardown(ctx context.Context) {
	s.closer.Do(func() {
		active := s.State() == StateActive
		s.state.Store(int32(StateClosed))
		close(s.done)
		if active {
			s.svc.Leave(ctx, s.RoomID, s.ID, s.User)
			metrics.Connections.Dec()
		}
		s.conn.Close()
	})
}

// replay pushes the most recent room history to the freshly connected
// client in insertion order, skipping soft-deleted messages.
func (s *Session) replay(ctx context.Context) {
	if s.wsCfg.HistoryReplay <= 0 {
		return
	}
	msgs, err := s.svc.History(ctx, s.RoomID, s.wsCfg.HistoryReplay)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("history replay failed")
		return
	}
	for i := range msgs {
		m := &msgs[i]
		if m.Deleted {
			continue
		}
		s.enqueue(&domain.ChatFrame{
			ID:       m.ID,
			Username: m.SenderName,
			Message:  m.Text,
			Edited:   m.Edited,
			ReplyTo:  m.ReplyTo,
		})
	}
}

// resync pushes the current unread count on room entry.
func (s *Session) resync(ctx context.Context) {
	count, err := s.svc.Receipts().Resync(ctx, s.RoomID, s.User.ID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("unread resync failed")
		return
	}
	s.enqueue(&domain.UnreadFrame{UnreadCount: count})
}

// deliverLoop consumes bus events while Active. It exits when the bus
// detaches the delivery channel during teardown.
func (s *Session) deliverLoop(ctx context.Context) {
	for ev := range s.events {
		switch ev.Type {
		case domain.EventChatMessage:
			s.onChat(ctx, ev)
		case domain.EventTyping:
			s.onTyping(ev)
		case domain.EventPresence:
			s.onPresence(ev)
		default:
			l := log.Ctx(ctx)
			l.Warn().Str("event_type", string(ev.Type)).Msg("unknown bus event")
		}
	}
}

// onChat handles a delivered chat message: acknowledge it for this user,
// then emit the message and the refreshed unread count, in that order. The
// sender's own messages are never echoed back.
func (s *Session) onChat(ctx context.Context, ev domain.Event) {
	if ev.SenderID == s.User.ID {
		return
	}
	var p domain.ChatPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("undecodable chat payload")
		return
	}

	count, ackErr := s.svc.Receipts().Acknowledge(ctx, p.ID, ev.RoomID, s.User.ID)
	s.enqueue(p.Frame())
	if ackErr != nil {
		l := log.Ctx(ctx)
		l.Error().Str(log.FieldMsgID, p.ID).Err(ackErr).Msg("read acknowledgment failed")
		return
	}
	s.enqueue(&domain.UnreadFrame{UnreadCount: count})
}

func (s *Session) onTyping(ev domain.Event) {
	if ev.SenderID == s.User.ID {
		return
	}
	var p domain.TypingPayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		return
	}
	s.enqueue(p.Frame())
}

func (s *Session) onPresence(ev domain.Event) {
	var p domain.PresencePayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		return
	}
	s.enqueue(p.Frame())
}

// readPump parses inbound client frames until the connection drops.
func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(s.wsCfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.wsCfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.wsCfg.PongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.Ctx(ctx)
				l.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		s.handleInbound(ctx, data)
	}
}

// handleInbound dispatches one client frame. Inbound frames carry no type
// tag; a typing notification is {"typing": true}, anything else must be a
// text message.
func (s *Session) handleInbound(ctx context.Context, data []byte) {
	if s.State() != StateActive {
		return
	}
	if !s.limiter.Allow() {
		s.enqueue(domain.NewErrorFrame(domain.ErrCodeRateLimited, "too many events", true))
		return
	}

	var f domain.InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.enqueue(domain.NewErrorFrame(domain.ErrCodeValidation, "invalid frame", false))
		return
	}

	if f.Typing {
		if err := s.svc.Typing(ctx, s.RoomID, s.User); err != nil {
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("typing broadcast failed")
		}
		return
	}

	if strings.TrimSpace(f.Message) == "" {
		s.enqueue(domain.NewErrorFrame(domain.ErrCodeValidation, "message must not be empty", false))
		return
	}
	if err := validate.Struct(&f); err != nil {
		s.enqueue(domain.NewErrorFrame(domain.ErrCodeValidation, "malformed message", false))
		return
	}

	if _, err := s.svc.SendText(ctx, s.RoomID, s.User, f.Message, f.ReplyTo); err != nil {
		// Store errors go to the sender only; the connection stays open.
		s.enqueue(domain.NewErrorFrame(domain.WireCode(err), err.Error(), domain.Retryable(err)))
	}
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.wsCfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.wsCfg.WriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.wsCfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.wsCfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue marshals a frame onto the send queue. A full queue drops the
// frame; the per-connection buffer is the backpressure boundary.
func (s *Session) enqueue(frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
	default:
	}
}
