package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

var (
	ErrConnectionFailed = errors.New("transport: connection failed")
	ErrNotConnected     = errors.New("transport: not connected")
)

const (
	// Destination conventions of the messaging server.
	topicPrefix        = "/topic/chat/"
	inboundDestination = "/app/sendMessage"

	handshakeTimeout  = 10 * time.Second
	heartbeatInterval = 4 * time.Second
)

// MessageHandler consumes inbound wire messages delivered on one room topic.
type MessageHandler func(msg models.WireMessage)

// RoomChannel is the duplex channel surface the session manager drives.
type RoomChannel interface {
	Connect(ctx context.Context, identityEmail, token string) error
	Disconnect()
	SubscribeToRoom(roomID int, handler MessageHandler) error
	UnsubscribeFromRoom(roomID int)
	SendMessage(roomID int, draft models.OutboundMessage) error
	SetOnClose(fn func())
}

type subscription struct {
	id      string
	roomID  int
	handler MessageHandler
}

// Channel owns the single physical STOMP-over-websocket connection of a
// session and multiplexes room topic subscriptions over it. One Channel per
// session; the session manager constructs and disposes it.
type Channel struct {
	url    string
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[int]subscription
	subSeq    int
	stopBeat  chan struct{}
	onClose   func()

	writeMu sync.Mutex
}

var _ RoomChannel = (*Channel)(nil)

// NewChannel builds a disconnected channel for the given websocket endpoint.
func NewChannel(url string) *Channel {
	return &Channel{
		url:    url,
		dialer: websocket.DefaultDialer,
		subs:   map[int]subscription{},
	}
}

// SetOnClose registers a hook invoked once when the connection drops without
// an explicit Disconnect call.
func (c *Channel) SetOnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Connect dials the endpoint and performs the STOMP handshake, authenticating
// with the identity email and bearer credential in the connect headers. It
// returns once the server acknowledges with CONNECTED. Callers gate
// concurrent attempts; a Connect on an already-connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context, identityEmail, token string) error {
	ctx, span := otel.Tracer("chat-client/transport").Start(ctx, "stomp.connect")
	defer span.End()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		observability.IncWSEvent("connect_error")
		return fmt.Errorf("%w: dial: %v", ErrConnectionFailed, err)
	}

	connect := NewFrame(CommandConnect)
	connect.Headers["accept-version"] = "1.2"
	connect.Headers["heart-beat"] = "4000,4000"
	connect.Headers["user-email"] = identityEmail
	if token != "" {
		connect.Headers["Authorization"] = "Bearer " + token
	}
	if err := conn.WriteMessage(websocket.TextMessage, connect.Marshal()); err != nil {
		conn.Close()
		observability.IncWSEvent("connect_error")
		return fmt.Errorf("%w: send connect: %v", ErrConnectionFailed, err)
	}

	reply, err := readHandshakeReply(ctx, conn)
	if err != nil {
		conn.Close()
		observability.IncWSEvent("connect_error")
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.subs = map[int]subscription{}
	c.stopBeat = make(chan struct{})
	stop := c.stopBeat
	c.mu.Unlock()

	if interval, ok := negotiatedHeartbeat(reply.Headers["heart-beat"]); ok {
		go c.heartbeatLoop(conn, interval, stop)
	}
	go c.readLoop(conn)

	observability.IncWSEvent("connect")
	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	_ = observability.PublishEvent(ctx, "ws_events.chat_client", observability.EventEnvelope{
		EventType: "ws",
		EventName: "connected",
		Payload:   map[string]interface{}{"url": c.url},
	}, observability.BuildHeaders("", traceID))
	return nil
}

func readHandshakeReply(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: closed before handshake: %v", ErrConnectionFailed, err)
		}
		if IsHeartbeat(raw) {
			continue
		}
		frame, err := UnmarshalFrame(raw)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		switch frame.Command {
		case CommandConnected:
			return frame, nil
		case CommandError:
			reason := frame.Headers["message"]
			if reason == "" {
				reason = string(frame.Body)
			}
			return Frame{}, fmt.Errorf("%w: server rejected handshake: %s", ErrConnectionFailed, reason)
		default:
			return Frame{}, fmt.Errorf("%w: unexpected %s before handshake", ErrConnectionFailed, frame.Command)
		}
	}
}

// negotiatedHeartbeat parses the server's "sx,sy" reply. sy is the interval
// the server expects to receive beats at; we send at the slower of that and
// our advertised rate.
func negotiatedHeartbeat(header string) (time.Duration, bool) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return 0, false
	}
	sy, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || sy <= 0 {
		return 0, false
	}
	interval := time.Duration(sy) * time.Millisecond
	if interval < heartbeatInterval {
		interval = heartbeatInterval
	}
	return interval, true
}

func (c *Channel) heartbeatLoop(conn *websocket.Conn, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, heartbeatPayload)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, err)
			return
		}
		if IsHeartbeat(raw) {
			continue
		}
		frame, err := UnmarshalFrame(raw)
		if err != nil {
			log.Printf("transport: dropping malformed frame: %v", err)
			observability.IncWSEvent("dropped")
			continue
		}
		switch frame.Command {
		case CommandMessage:
			c.dispatch(frame)
		case CommandError:
			log.Printf("transport: server error frame: %s", frame.Headers["message"])
			observability.IncWSEvent("error")
		}
	}
}

// dispatch routes a MESSAGE frame to the handler registered for its room.
// Malformed payloads are logged and dropped; they never close the connection.
func (c *Channel) dispatch(frame Frame) {
	roomID, ok := c.resolveRoom(frame)
	if !ok {
		log.Printf("transport: message for unknown subscription %q dropped", frame.Headers["destination"])
		observability.IncWSEvent("dropped")
		return
	}

	c.mu.Lock()
	sub, found := c.subs[roomID]
	c.mu.Unlock()
	if !found {
		observability.IncWSEvent("dropped")
		return
	}

	var wire models.WireMessage
	if err := json.Unmarshal(frame.Body, &wire); err != nil {
		log.Printf("transport: unparseable payload for room %d dropped: %v", roomID, err)
		observability.IncWSEvent("dropped")
		return
	}
	observability.IncWSEvent("message")
	sub.handler(wire)
}

func (c *Channel) resolveRoom(frame Frame) (int, bool) {
	if subID := frame.Headers["subscription"]; subID != "" {
		c.mu.Lock()
		for _, sub := range c.subs {
			if sub.id == subID {
				c.mu.Unlock()
				return sub.roomID, true
			}
		}
		c.mu.Unlock()
	}
	dest := frame.Headers["destination"]
	if !strings.HasPrefix(dest, topicPrefix) {
		return 0, false
	}
	roomID, err := strconv.Atoi(strings.TrimPrefix(dest, topicPrefix))
	if err != nil {
		return 0, false
	}
	return roomID, true
}

// SubscribeToRoom registers a handler for the room's topic. An existing
// subscription for the same room is torn down first; replace, not stack, so a
// resubscribe cycle cannot cause duplicate delivery.
func (c *Channel) SubscribeToRoom(roomID int, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	if existing, ok := c.subs[roomID]; ok {
		if err := c.writeFrame(unsubscribeFrame(existing.id)); err != nil {
			return fmt.Errorf("replace subscription for room %d: %w", roomID, err)
		}
		delete(c.subs, roomID)
		observability.DecActiveSubscriptions()
	}

	c.subSeq++
	sub := subscription{id: "sub-" + strconv.Itoa(c.subSeq), roomID: roomID, handler: handler}

	frame := NewFrame(CommandSubscribe)
	frame.Headers["id"] = sub.id
	frame.Headers["destination"] = topicPrefix + strconv.Itoa(roomID)
	frame.Headers["ack"] = "auto"
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("subscribe room %d: %w", roomID, err)
	}

	c.subs[roomID] = sub
	observability.IncActiveSubscriptions()
	return nil
}

// UnsubscribeFromRoom tears down the room's registration. No-op if absent.
func (c *Channel) UnsubscribeFromRoom(roomID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[roomID]
	if !ok {
		return
	}
	delete(c.subs, roomID)
	observability.DecActiveSubscriptions()
	if c.connected {
		if err := c.writeFrame(unsubscribeFrame(sub.id)); err != nil {
			log.Printf("transport: unsubscribe room %d: %v", roomID, err)
		}
	}
}

func unsubscribeFrame(subID string) Frame {
	frame := NewFrame(CommandUnsubscribe)
	frame.Headers["id"] = subID
	return frame
}

// SendMessage publishes the draft to the server's inbound destination.
// Fire-and-forget: delivery confirmation arrives later as an echo on the
// room's own topic.
func (c *Channel) SendMessage(roomID int, draft models.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	body, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode message for room %d: %w", roomID, err)
	}
	frame := NewFrame(CommandSend)
	frame.Headers["destination"] = inboundDestination
	frame.Headers["content-type"] = "application/json"
	frame.Body = body
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("send to room %d: %w", roomID, err)
	}
	observability.IncWSEvent("send")
	return nil
}

// Disconnect tears down all subscriptions and the physical connection.
// Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.connected
	if wasConnected {
		_ = c.writeFrame(NewFrame(CommandDisconnect))
	}
	c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		observability.IncWSEvent("disconnect")
	}
}

// handleClosed runs when the read loop observes a dead socket. The server
// does not need to be told about subscriptions on a dead connection; local
// bookkeeping is simply cleared.
func (c *Channel) handleClosed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn || !c.connected {
		// A newer connection superseded this one, or Disconnect got here first.
		c.mu.Unlock()
		return
	}
	onClose := c.onClose
	c.teardownLocked()
	c.mu.Unlock()

	conn.Close()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("transport: connection closed: %v", err)
		observability.IncWSEvent("error")
	}
	observability.IncWSEvent("disconnect")
	_ = observability.PublishEvent(context.Background(), "ws_events.chat_client", observability.EventEnvelope{
		EventType: "ws",
		EventName: "connection_lost",
		Payload:   map[string]interface{}{"error": err.Error()},
	}, nil)
	if onClose != nil {
		onClose()
	}
}

func (c *Channel) teardownLocked() {
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	if len(c.subs) > 0 {
		observability.SetActiveSubscriptions(0)
	}
	c.subs = map[int]subscription{}
	c.conn = nil
	c.connected = false
}

func (c *Channel) writeFrame(frame Frame) error {
	conn := c.conn
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame.Marshal())
}
