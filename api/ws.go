package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dispatchd/domain"
	"dispatchd/presence"
	"dispatchd/ratelimit"
	"dispatchd/storage"
)

const (
	writeTimeout = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// frame is the wire envelope in both directions.
type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// wsConn is one live contractor connection. Sends are buffered and
// written by a single goroutine; a full buffer drops the frame rather
// than block the sender.
type wsConn struct {
	id           string
	contractorID string
	sock         *websocket.Conn
	out          chan frame
	done         chan struct{}
	closeOnce    sync.Once
	logger       *log.Logger
}

func newWSConn(contractorID string, sock *websocket.Conn, buffer int, logger *log.Logger) *wsConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &wsConn{
		id:           uuid.NewString(),
		contractorID: contractorID,
		sock:         sock,
		out:          make(chan frame, buffer),
		done:         make(chan struct{}),
		logger:       logger,
	}
}

func (c *wsConn) ID() string           { return c.id }
func (c *wsConn) ContractorID() string { return c.contractorID }

func (c *wsConn) Send(event string, payload map[string]any) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- frame{Event: event, Data: payload}:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			data, err := sonic.Marshal(f)
			if err != nil {
				c.logger.WithError(err).WithField("event", f.Event).Error("frame encode failed")
				continue
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithError(err).WithField("conn", c.id).Debug("write failed, closing")
				c.close()
				return
			}
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

// ContractorStore is the contractor lookup the admission path needs.
type ContractorStore interface {
	GetContractor(ctx context.Context, id string) (*domain.Contractor, error)
}

// Acker marks durable notifications as seen.
type Acker interface {
	MarkDelivered(ctx context.Context, contractorID, notificationID string) (bool, error)
}

// Authenticator extracts contractor ids from Authorization header values.
type Authenticator interface {
	ContractorIDFromAuthHeader(string) (string, error)
}

// RealtimeHandler admits authenticated contractor connections, wires
// their inbound event handlers and tears presence down on disconnect.
type RealtimeHandler struct {
	auth     Authenticator
	store    ContractorStore
	rooms    *presence.Manager
	acker    Acker
	limiter  *ratelimit.Limiter
	logger   *log.Logger
	buffer   int
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(auth Authenticator, store ContractorStore, rooms *presence.Manager, acker Acker, limiter *ratelimit.Limiter, logger *log.Logger, buffer int) *RealtimeHandler {
	return &RealtimeHandler{
		auth:    auth,
		store:   store,
		rooms:   rooms,
		acker:   acker,
		limiter: limiter,
		logger:  logger,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle runs one connection from admission to teardown.
func (h *RealtimeHandler) Handle(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if tok := c.QueryParam("token"); tok != "" {
			authHeader = "Bearer " + tok
		}
	}
	contractorID, err := h.auth.ContractorIDFromAuthHeader(authHeader)
	if err != nil {
		// Admission failure: hard close, no payload.
		return c.NoContent(http.StatusUnauthorized)
	}
	contractor, err := h.store.GetContractor(c.Request().Context(), contractorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.NoContent(http.StatusUnauthorized)
		}
		h.logger.WithError(err).Error("admission contractor lookup failed")
		return c.NoContent(http.StatusInternalServerError)
	}

	sock, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written its error response.
		return nil
	}

	conn := newWSConn(contractorID, sock, h.buffer, h.logger)
	go conn.writeLoop()

	h.rooms.Register(conn, contractor.Skills)
	_ = conn.Send(domain.EventConnEstablished, stamp(map[string]any{
		"contractorId": contractorID,
		"rooms":        h.rooms.RoomsOf(conn.ID()),
	}))

	h.readLoop(conn)

	// Teardown is synchronous with the disconnect. Failures here are
	// logged, never surfaced: the client is already gone.
	h.rooms.Unregister(conn.ID())
	h.limiter.Forget(conn.ID())
	conn.close()
	return nil
}

func (h *RealtimeHandler) readLoop(conn *wsConn) {
	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithError(err).WithField("conn", conn.ID()).Debug("read loop ended")
			}
			return
		}
		var f frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			_ = conn.Send(domain.EventConnError, stamp(map[string]any{"message": "malformed frame"}))
			continue
		}
		if !h.limiter.Allow(conn.ID()) {
			h.sendError(conn, domain.CodeRateLimitExceeded, "rate limit exceeded")
			continue
		}
		h.dispatchEvent(conn, f)
	}
}

func (h *RealtimeHandler) dispatchEvent(conn *wsConn, f frame) {
	switch f.Event {
	case domain.EventLocationUpdate:
		h.handleLocationUpdate(conn, f.Data)
	case domain.EventTaskSubscribe:
		h.handleSubscribe(conn, f.Data)
	case domain.EventPing:
		_ = conn.Send(domain.EventPong, stamp(map[string]any{}))
	case domain.EventRoomInfo:
		_ = conn.Send(domain.EventRoomInfo, stamp(map[string]any{
			"rooms": h.rooms.RoomsOf(conn.ID()),
			"stats": h.rooms.Stats(),
		}))
	case domain.EventNotifyAck:
		h.handleNotifyAck(conn, f.Data)
	default:
		_ = conn.Send(domain.EventConnError, stamp(map[string]any{
			"message": "unknown event: " + f.Event,
		}))
	}
}

func (h *RealtimeHandler) handleLocationUpdate(conn *wsConn, data map[string]any) {
	lat, latOK := floatField(data, "lat")
	lng, lngOK := floatField(data, "lng")
	if !latOK || !lngOK || !domain.ValidCoordinates(lat, lng) {
		h.sendError(conn, domain.CodeInvalidLocation, "invalid coordinates")
		return
	}
	if radius, ok := floatField(data, "radius"); ok && radius <= 0 {
		h.sendError(conn, domain.CodeInvalidLocation, "radius must be greater than zero")
		return
	}
	if !h.rooms.UpdateLocation(conn.ID(), domain.Location{Lat: lat, Lng: lng}) {
		h.sendError(conn, domain.CodeLocationUpdateFailed, "location update failed")
		return
	}
	_ = conn.Send(domain.EventLocationUpdated, stamp(map[string]any{
		"lat": lat,
		"lng": lng,
	}))
}

// handleSubscribe acknowledges a task-filter subscription. No durable
// filter state is kept; the filters only shape this acknowledgment.
func (h *RealtimeHandler) handleSubscribe(conn *wsConn, data map[string]any) {
	if loc, ok := data["location"].(map[string]any); ok {
		lat, latOK := floatField(loc, "lat")
		lng, lngOK := floatField(loc, "lng")
		if !latOK || !lngOK || !domain.ValidCoordinates(lat, lng) {
			h.sendError(conn, domain.CodeSubscriptionFailed, "invalid subscription location")
			return
		}
	}
	_ = conn.Send(domain.EventTaskSubscribed, stamp(map[string]any{
		"skills":   data["skills"],
		"location": data["location"],
	}))
}

func (h *RealtimeHandler) handleNotifyAck(conn *wsConn, data map[string]any) {
	id, _ := data["notificationId"].(string)
	if id == "" {
		_ = conn.Send(domain.EventConnError, stamp(map[string]any{
			"message": "notificationId is required",
		}))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	ok, err := h.acker.MarkDelivered(ctx, conn.ContractorID(), id)
	if err != nil {
		h.logger.WithError(err).WithField("notification", id).Error("notification ack failed")
	}
	_ = conn.Send(domain.EventNotifyAck, stamp(map[string]any{
		"notificationId": id,
		"delivered":      err == nil && ok,
	}))
}

func (h *RealtimeHandler) sendError(conn *wsConn, code, message string) {
	_ = conn.Send(domain.EventError, stamp(map[string]any{
		"code":    code,
		"message": message,
	}))
}

// stamp adds the server timestamp to a freshly built payload.
func stamp(payload map[string]any) map[string]any {
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return payload
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
