package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/models"
	"chat-client/internal/rest"
	"chat-client/internal/transport"
)

type RoomChannelMock struct {
	mock.Mock

	// Handlers captures the per-room subscription handlers so tests can
	// deliver inbound messages.
	Handlers map[int]transport.MessageHandler
	// OnClose captures the close hook installed by the session manager.
	OnClose func()
}

func (m *RoomChannelMock) Connect(ctx context.Context, identityEmail, token string) error {
	args := m.Called(ctx, identityEmail, token)
	return args.Error(0)
}

func (m *RoomChannelMock) Disconnect() {
	m.Called()
}

func (m *RoomChannelMock) SubscribeToRoom(roomID int, handler transport.MessageHandler) error {
	args := m.Called(roomID, handler)
	if m.Handlers == nil {
		m.Handlers = map[int]transport.MessageHandler{}
	}
	m.Handlers[roomID] = handler
	return args.Error(0)
}

func (m *RoomChannelMock) UnsubscribeFromRoom(roomID int) {
	m.Called(roomID)
	delete(m.Handlers, roomID)
}

func (m *RoomChannelMock) SendMessage(roomID int, draft models.OutboundMessage) error {
	args := m.Called(roomID, draft)
	return args.Error(0)
}

func (m *RoomChannelMock) SetOnClose(fn func()) {
	m.OnClose = fn
}

// Deliver invokes the captured handler for a room, mimicking an inbound
// topic message.
func (m *RoomChannelMock) Deliver(roomID int, wire models.WireMessage) {
	if handler, ok := m.Handlers[roomID]; ok {
		handler(wire)
	}
}

type RoomAPIMock struct {
	mock.Mock
}

func (m *RoomAPIMock) ListRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomAPIMock) CreateRoom(ctx context.Context, name string, participants []string) (models.Room, error) {
	args := m.Called(ctx, name, participants)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomAPIMock) DeleteRoom(ctx context.Context, roomID int) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *RoomAPIMock) ListMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var messages []models.Message
	if val := args.Get(0); val != nil {
		messages = val.([]models.Message)
	}
	return messages, args.Error(1)
}

var _ transport.RoomChannel = (*RoomChannelMock)(nil)
var _ rest.RoomAPI = (*RoomAPIMock)(nil)
