package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RustamovAkrom/minichat/internal/auth"
	"github.com/RustamovAkrom/minichat/internal/config"
	"github.com/RustamovAkrom/minichat/internal/metrics"
	"github.com/RustamovAkrom/minichat/internal/service"
	"github.com/RustamovAkrom/minichat/internal/session"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

// Close codes for refused connections.
const (
	CloseAuthFailed = 4401 // anonymous or invalid token
	CloseNotMember  = 4403 // authenticated but not a room member
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades chat connections and runs the authorize-then-activate
// sequence before handing the socket to a session.
type WSHandler struct {
	svc      *service.Chat
	verifier *auth.Verifier
	wsCfg    config.WebSocketConfig
	limits   config.LimitsConfig
}

func NewWSHandler(svc *service.Chat, verifier *auth.Verifier, wsCfg config.WebSocketConfig, limits config.LimitsConfig) *WSHandler {
	return &WSHandler{
		svc:      svc,
		verifier: verifier,
		wsCfg:    wsCfg,
		limits:   limits,
	}
}

// RegisterRoutes mounts the websocket endpoint plus health and metrics.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/chat/{roomID}", h.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	user, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		metrics.AuthFailures.Inc()
		refuse(conn, CloseAuthFailed, "authentication required")
		return
	}

	if err := h.svc.Authorize(r.Context(), roomID, user); err != nil {
		metrics.AuthFailures.Inc()
		l := log.L()
		l.Warn().
			Str(log.FieldRoomID, roomID).
			Str(log.FieldUserID, user.ID).
			Err(err).
			Msg("connection refused")
		refuse(conn, CloseNotMember, "not a room member")
		return
	}

	sess := session.New(uuid.NewString(), user, roomID, conn, h.svc, h.wsCfg, h.limits)

	logger := log.L().With().
		Str(log.FieldConnID, sess.ID).
		Str(log.FieldRoomID, roomID).
		Str(log.FieldUserID, user.ID).
		Str(log.FieldRemoteIP, r.RemoteAddr).
		Logger()
	ctx := log.WithLogger(context.Background(), logger)

	go func() {
		// The session outlives the HTTP request; Run blocks for the
		// connection's lifetime.
		if err := sess.Run(ctx); err != nil {
			l := log.L()
			l.Error().Str(log.FieldConnID, sess.ID).Err(err).Msg("session ended with error")
		}
	}()
}

// refuse closes a connection that never reached Active. The close frame
// carries the reason; the connection is never subscribed to anything.
func refuse(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
