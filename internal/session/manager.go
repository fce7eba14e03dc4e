package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel"

	"chat-client/internal/models"
	"chat-client/internal/rest"
	"chat-client/internal/telemetry"
	"chat-client/internal/transport"
)

var (
	ErrNoIdentity     = errors.New("session: identity not available")
	ErrNotConnected   = errors.New("session: not connected")
	ErrNoRoomSelected = errors.New("session: no room selected")
	ErrUnknownRoom    = errors.New("session: room not in directory")
	ErrSessionClosed  = errors.New("session: torn down")
)

var tracer = otel.Tracer("chat-client/session")

// Manager is the session state store: the single source of truth for rooms,
// per-room message buffers, unread counters, inactive flags and connection
// status. Every mutation flows through its operations; the transport read
// loop feeds the inbound reducer, user actions drive the rest.
type Manager struct {
	channel transport.RoomChannel
	api     rest.RoomAPI
	audit   *telemetry.AuditEmitter

	mu            sync.Mutex
	identity      models.Identity
	token         rest.TokenSource
	status        models.ConnectionStatus
	epoch         int
	connectDone   chan struct{}
	connectErr    error
	rooms         []models.Room
	currentRoomID int // 0 means no selection
	messages      map[int][]models.Message
	unread        map[int]int
	inactive      map[int]bool

	// subscribed tracks which rooms have a live topic subscription on the
	// current connection. Distinct from the directory: a socket drop clears
	// it while the directory is retained, so a reconnect re-subscribes
	// every room.
	subscribed map[int]bool
}

// NewManager builds a session for one authenticated identity. The channel is
// owned by the manager's lifecycle: connected on Connect, disposed on
// Disconnect.
func NewManager(identity models.Identity, token rest.TokenSource, channel transport.RoomChannel, api rest.RoomAPI, audit *telemetry.AuditEmitter) *Manager {
	m := &Manager{
		channel:  channel,
		api:      api,
		audit:    audit,
		identity: identity,
		token:    token,
		messages:   map[int][]models.Message{},
		unread:     map[int]int{},
		inactive:   map[int]bool{},
		subscribed: map[int]bool{},
	}
	channel.SetOnClose(m.handleTransportClosed)
	return m
}

// Connect establishes the duplex connection and performs the initial room
// directory sync. Concurrent calls share a single physical attempt: while one
// is in flight, later callers wait for its outcome instead of dialing again.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.identity.Email == "" {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	switch m.status {
	case models.StatusConnected:
		m.mu.Unlock()
		return nil
	case models.StatusConnecting:
		done := m.connectDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.connectErr
		m.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	m.connectDone = done
	m.connectErr = nil
	m.status = models.StatusConnecting
	epoch := m.epoch
	email := m.identity.Email
	m.mu.Unlock()

	err := m.channel.Connect(ctx, email, m.token())
	if err == nil {
		err = m.refresh(ctx, epoch)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		// Torn down while the attempt was in flight; do not resurrect state.
		m.connectErr = ErrSessionClosed
		close(done)
		m.mu.Unlock()
		m.channel.Disconnect()
		return ErrSessionClosed
	}
	if err != nil {
		m.status = models.StatusDisconnected
		m.connectErr = err
		close(done)
		m.mu.Unlock()
		m.channel.Disconnect()
		return err
	}
	m.status = models.StatusConnected
	close(done)
	userID := m.identity.ID
	m.mu.Unlock()

	m.audit.Emit(ctx, "connected", 0, "", &userID)
	return nil
}

// EnsureConnected is the required guard for call sites that need a live
// connection before proceeding: no-op when connected, waits when an attempt
// is already in flight, dials otherwise.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	return m.Connect(ctx)
}

// Disconnect tears the session down: epoch is advanced so late results of any
// in-flight fetch are discarded, all maps are cleared and the channel closed.
// Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	m.status = models.StatusDisconnected
	m.currentRoomID = 0
	m.rooms = nil
	m.messages = map[int][]models.Message{}
	m.unread = map[int]int{}
	m.inactive = map[int]bool{}
	m.subscribed = map[int]bool{}
	userID := m.identity.ID
	m.mu.Unlock()

	m.channel.Disconnect()
	m.audit.Emit(context.Background(), "disconnected", 0, "", &userID)
}

// handleTransportClosed reacts to the socket dropping underneath us. State is
// kept so a user-triggered reconnect can resume, but the subscription set is
// cleared with the dead connection: the transport forgot them too, and the
// reconnect sync must re-subscribe every room.
func (m *Manager) handleTransportClosed() {
	m.mu.Lock()
	m.status = models.StatusDisconnected
	m.connectDone = nil
	m.subscribed = map[int]bool{}
	m.mu.Unlock()
}

// Refresh reconciles the local room list with server truth without disturbing
// live subscriptions: only rooms without a subscription on the current
// connection are subscribed, so an unchanged list produces zero subscription
// churn and a still-valid room never sees a delivery gap. After a socket drop
// the subscription set is empty, so the reconnect sync re-subscribes every
// fetched room.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	return m.refresh(ctx, epoch)
}

func (m *Manager) refresh(ctx context.Context, epoch int) error {
	ctx, span := tracer.Start(ctx, "session.refresh")
	defer span.End()

	fetched, err := m.api.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("refresh rooms: %w", err)
	}
	unique := dedupeRooms(fetched)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil
	}

	for _, room := range unique {
		if m.subscribed[room.ID] {
			continue
		}
		roomID := room.ID
		handler := func(wire models.WireMessage) {
			m.applyInbound(epoch, roomID, wire)
		}
		if err := m.channel.SubscribeToRoom(roomID, handler); err != nil {
			// Left unmarked so the next refresh retries.
			log.Printf("session: subscribe room %d: %v", roomID, err)
			continue
		}
		m.subscribed[roomID] = true
	}
	m.rooms = unique
	return nil
}

// dedupeRooms drops duplicate ids, first occurrence wins, server order kept.
func dedupeRooms(rooms []models.Room) []models.Room {
	seen := map[int]bool{}
	unique := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if seen[room.ID] {
			log.Printf("session: duplicate room id %d in directory, keeping first", room.ID)
			continue
		}
		seen[room.ID] = true
		unique = append(unique, room)
	}
	return unique
}

// applyInbound is the reducer for every message delivered by any room
// subscription. Appends are keyed directly into the buffer map, so a message
// racing an in-flight history load lands safely in a fresh slice that the
// load later merge-appends onto.
func (m *Manager) applyInbound(epoch, fallbackRoomID int, wire models.WireMessage) {
	msg := wire.Normalize(fallbackRoomID)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	roomID := msg.RoomID
	m.messages[roomID] = append(m.messages[roomID], msg)

	becameInactive := false
	if msg.MessageType == models.MessageTypeLeaveNotification {
		// Sticky for the session: further normal messages do not clear it.
		if !m.inactive[roomID] {
			m.inactive[roomID] = true
			becameInactive = true
		}
	} else if roomID != m.currentRoomID {
		m.unread[roomID]++
	}
	userID := m.identity.ID
	m.mu.Unlock()

	if becameInactive {
		m.audit.Emit(context.Background(), "room_inactive", roomID, msg.Content, &userID)
	}
}

// SelectRoom makes the room current and resets its unread counter. The first
// selection of a room in a session triggers a backlog load; a present buffer,
// even an empty one, means "loaded" and is not re-fetched.
func (m *Manager) SelectRoom(ctx context.Context, room models.Room) error {
	m.mu.Lock()
	if m.status != models.StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if room.ID == m.currentRoomID {
		m.mu.Unlock()
		return nil
	}
	if !m.knownRoomLocked(room.ID) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownRoom, room.ID)
	}
	m.currentRoomID = room.ID
	m.unread[room.ID] = 0
	_, loaded := m.messages[room.ID]
	epoch := m.epoch
	m.mu.Unlock()

	if loaded {
		return nil
	}
	m.loadHistory(ctx, epoch, room.ID)
	return nil
}

// loadHistory fetches the room's durable backlog and installs it as the
// initial buffer. Live messages that arrived while the fetch was in flight
// are preserved after the history, keeping arrival order intact. A failed
// load installs an empty buffer: the room shows empty rather than being
// mistaken for "never attempted".
func (m *Manager) loadHistory(ctx context.Context, epoch, roomID int) {
	ctx, span := tracer.Start(ctx, "session.load_history")
	defer span.End()

	history, err := m.api.ListMessages(ctx, roomID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	if err != nil {
		log.Printf("session: history load for room %d failed: %v", roomID, err)
		if _, ok := m.messages[roomID]; !ok {
			m.messages[roomID] = []models.Message{}
		}
		return
	}
	live := m.messages[roomID]
	buffer := make([]models.Message, 0, len(history)+len(live))
	buffer = append(buffer, history...)
	buffer = append(buffer, live...)
	m.messages[roomID] = buffer
}

// SendMessage publishes the draft to the selected room. No optimistic local
// append: the message becomes visible when it round-trips back as an inbound
// echo, so the sender shares the single ordering code path with everyone
// else.
func (m *Manager) SendMessage(content string) error {
	m.mu.Lock()
	if m.identity.ID == 0 {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	if m.status != models.StatusConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.currentRoomID == 0 {
		m.mu.Unlock()
		return ErrNoRoomSelected
	}
	roomID := m.currentRoomID
	draft := models.OutboundMessage{
		SenderID:    m.identity.ID,
		SenderName:  m.identity.Name,
		SenderEmail: m.identity.Email,
		Content:     content,
		ChatRoomID:  roomID,
	}
	m.mu.Unlock()

	if err := m.channel.SendMessage(roomID, draft); err != nil {
		return fmt.Errorf("send to room %d: %w", roomID, err)
	}
	return nil
}

// CreateRoom issues the create request, re-syncs the directory so the new
// room gets its subscription the same way any discovered room would, then
// selects it.
func (m *Manager) CreateRoom(ctx context.Context, name string, participants []string) (models.Room, error) {
	room, err := m.api.CreateRoom(ctx, name, participants)
	if err != nil {
		return models.Room{}, fmt.Errorf("create room: %w", err)
	}

	if err := m.Refresh(ctx); err != nil {
		return room, err
	}
	if err := m.SelectRoom(ctx, room); err != nil {
		return room, err
	}

	m.mu.Lock()
	userID := m.identity.ID
	m.mu.Unlock()
	m.audit.Emit(ctx, "room_created", room.ID, room.Name, &userID)
	return room, nil
}

// DeleteRoom removes the room server-side and purges every local trace of it
// together: rooms, buffer, unread counter and inactive flag drop the key
// atomically. On failure state is left untouched.
func (m *Manager) DeleteRoom(ctx context.Context, roomID int) error {
	m.mu.Lock()
	if roomID == m.currentRoomID && m.currentRoomID != 0 {
		m.channel.UnsubscribeFromRoom(roomID)
		delete(m.subscribed, roomID)
		m.currentRoomID = 0
	}
	epoch := m.epoch
	m.mu.Unlock()

	if err := m.api.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("delete room %d: %w", roomID, err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	kept := m.rooms[:0]
	for _, room := range m.rooms {
		if room.ID != roomID {
			kept = append(kept, room)
		}
	}
	m.rooms = kept
	delete(m.messages, roomID)
	delete(m.unread, roomID)
	delete(m.inactive, roomID)
	delete(m.subscribed, roomID)
	userID := m.identity.ID
	m.mu.Unlock()

	m.audit.Emit(ctx, "room_deleted", roomID, "", &userID)
	return nil
}

// MarkRoomAsRead resets the room's unread counter unconditionally; used for
// out-of-band read acknowledgment independent of selection.
func (m *Manager) MarkRoomAsRead(roomID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unread[roomID] = 0
}

func (m *Manager) knownRoomLocked(roomID int) bool {
	for _, room := range m.rooms {
		if room.ID == roomID {
			return true
		}
	}
	return false
}
