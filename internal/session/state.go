package session

import "chat-client/internal/models"

// Snapshot is a point-in-time copy of the session state for the page layer.
type Snapshot struct {
	ConnectionStatus models.ConnectionStatus `json:"connectionStatus"`
	Rooms            []models.Room           `json:"rooms"`
	CurrentRoomID    int                     `json:"currentRoomId,omitempty"`
	UnreadCounts     map[int]int             `json:"unreadCounts"`
	InactiveRooms    map[int]bool            `json:"inactiveRooms"`
}

// Status reports the connection status.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Rooms returns the discovered room sequence in discovery order.
func (m *Manager) Rooms() []models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Room(nil), m.rooms...)
}

// CurrentRoom returns the selected room, if any.
func (m *Manager) CurrentRoom() (models.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range m.rooms {
		if room.ID == m.currentRoomID {
			return room, true
		}
	}
	return models.Room{}, false
}

// Messages returns the room's buffer in arrival order. The second return is
// false when the buffer was never loaded this session; a loaded-but-empty
// buffer returns true.
func (m *Manager) Messages(roomID int) ([]models.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buffer, ok := m.messages[roomID]
	return append([]models.Message(nil), buffer...), ok
}

// CurrentRoomMessages returns the selected room's buffer, empty when no room
// is selected.
func (m *Manager) CurrentRoomMessages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRoomID == 0 {
		return nil
	}
	return append([]models.Message(nil), m.messages[m.currentRoomID]...)
}

// UnreadCount returns the room's unread counter.
func (m *Manager) UnreadCount(roomID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[roomID]
}

// IsRoomInactive reports whether a leave notification was received for the
// room this session.
func (m *Manager) IsRoomInactive(roomID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inactive[roomID]
}

// Snapshot copies the full observable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	unread := make(map[int]int, len(m.unread))
	for id, n := range m.unread {
		unread[id] = n
	}
	inactive := make(map[int]bool, len(m.inactive))
	for id, flag := range m.inactive {
		inactive[id] = flag
	}
	return Snapshot{
		ConnectionStatus: m.status,
		Rooms:            append([]models.Room(nil), m.rooms...),
		CurrentRoomID:    m.currentRoomID,
		UnreadCounts:     unread,
		InactiveRooms:    inactive,
	}
}
