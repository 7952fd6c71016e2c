package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/domain/session"
	"github.com/pawnfiddle/backend/internal/infrastructure/monitoring"
	"github.com/pawnfiddle/backend/internal/shared/id"
	"github.com/pawnfiddle/backend/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

// TokenSink receives verification tokens typed by connections, is told
// when a connection goes away, and names the challenge clients must
// render. Implemented by verify.Gate.
type TokenSink interface {
	Deliver(connID id.ConnID, token string) bool
	Drop(connID id.ConnID)
	IssueChallenge() string
}

// inbound is one client message. Data is decoded per event type.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// str decodes the payload as a bare JSON string; absent or malformed
// payloads decode to "".
func (m inbound) str() string {
	var s string
	_ = json.Unmarshal(m.Data, &s)
	return s
}

// Handler upgrades fiddle connections and pumps protocol events between the
// websocket and the session orchestrator.
type Handler struct {
	hub      *Hub
	registry *session.Registry
	tokens   TokenSink
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, registry *session.Registry, tokens TokenSink, log *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		registry: registry,
		tokens:   tokens,
		log:      log,
		metrics:  metrics,
	}
}

// HandleConnection handles the upgrade on GET /ws?fiddle=<id> and runs the
// read loop until the client goes away. An empty or absent fiddle id opens
// a brand-new fiddle.
func (h *Handler) HandleConnection(c *gin.Context) {
	fiddleID := c.Query("fiddle")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := id.NewConnID()
	sess, err := h.registry.Attach(c.Request.Context(), fiddleID, connID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = conn.WriteJSON(session.Event{Name: session.EvError, Data: "Not found"})
		} else {
			h.log.Error("session attach failed", zap.Error(err))
			_ = conn.WriteJSON(session.Event{Name: session.EvError, Data: "Internal error"})
		}
		return
	}

	h.metrics.AddWSConnections(1)
	client := h.hub.register(connID, sess.ID(), conn)
	defer func() {
		h.hub.unregister(client)
		h.tokens.Drop(connID)
		h.registry.Detach(connID)
		h.metrics.AddWSConnections(-1)
	}()

	log := h.log.With(
		zap.String("conn", connID.String()),
		zap.String("fiddle", sess.ID()),
	)
	log.Info("connection attached")
	sess.Sync(connID)
	if ref := h.tokens.IssueChallenge(); ref != "" {
		h.hub.Send(connID, session.ChallengeEvent(ref))
	}

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Event)
		h.dispatch(sess, connID, msg)
	}
}

// dispatch routes one client event. Share suspends on token delivery, so
// it runs off the read loop; everything else is quick enough inline.
func (h *Handler) dispatch(sess *session.Session, connID id.ConnID, msg inbound) {
	ctx := context.Background()

	var err error
	switch msg.Event {
	case session.EvRunScript:
		err = sess.Run(connID)
	case session.EvStopScript:
		err = sess.Stop(ctx)
	case session.EvSetTitle:
		err = sess.SetTitle(ctx, msg.str())
	case session.EvSetContent:
		err = sess.SetContent(ctx, msg.str())
	case session.EvShare:
		token := msg.str()
		go func() {
			if err := sess.Share(ctx, connID, token); err != nil {
				h.sendError(connID, err)
			}
		}()
	case session.EvFork:
		err = sess.Fork(ctx, connID)
	case session.EvVerificationToken:
		h.tokens.Deliver(connID, msg.str())
	default:
		h.log.Debug("unknown event", zap.String("event", msg.Event))
		h.hub.Send(connID, session.Event{Name: session.EvError, Data: "Unknown event"})
	}

	if err != nil {
		h.sendError(connID, err)
	}
}

func (h *Handler) sendError(connID id.ConnID, err error) {
	h.hub.Send(connID, session.Event{Name: session.EvError, Data: err.Error()})
}
