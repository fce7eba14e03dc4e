package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
	"chat-client/internal/rest"
	"chat-client/internal/session"
	"chat-client/internal/transport"
)

// SessionHandler exposes the session state and operation set over loopback
// HTTP for the page layer.
type SessionHandler struct {
	manager *session.Manager
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// Register wires the bridge routes.
func (h *SessionHandler) Register(router *gin.Engine) {
	router.GET("/state", h.GetState)
	router.POST("/connect", h.Connect)
	router.POST("/disconnect", h.Disconnect)
	router.GET("/rooms", h.ListRooms)
	router.POST("/rooms", h.CreateRoom)
	router.POST("/rooms/refresh", h.RefreshRooms)
	router.DELETE("/rooms/:room_id", h.DeleteRoom)
	router.POST("/rooms/:room_id/select", h.SelectRoom)
	router.POST("/rooms/:room_id/read", h.MarkRoomAsRead)
	router.GET("/rooms/:room_id/messages", h.GetRoomMessages)
	router.POST("/messages", h.SendMessage)
}

// GetState returns the full session snapshot.
func (h *SessionHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Snapshot())
}

// Connect establishes the duplex connection and syncs the room directory.
func (h *SessionHandler) Connect(c *gin.Context) {
	if err := h.manager.EnsureConnected(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connectionStatus": h.manager.Status()})
}

// Disconnect tears the session down.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	h.manager.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connectionStatus": h.manager.Status()})
}

// ListRooms returns the discovered rooms with their unread and inactive
// state.
func (h *SessionHandler) ListRooms(c *gin.Context) {
	type roomResponse struct {
		models.Room
		UnreadCount int  `json:"unreadCount"`
		Inactive    bool `json:"inactive"`
	}

	rooms := h.manager.Rooms()
	responses := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		responses = append(responses, roomResponse{
			Room:        room,
			UnreadCount: h.manager.UnreadCount(room.ID),
			Inactive:    h.manager.IsRoomInactive(room.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": responses})
}

// CreateRoom creates a room server-side, refreshes the directory and selects
// the new room.
func (h *SessionHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name         string   `json:"name" binding:"required"`
		Participants []string `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.manager.CreateRoom(c.Request.Context(), req.Name, req.Participants)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, room)
}

// RefreshRooms re-syncs the room directory.
func (h *SessionHandler) RefreshRooms(c *gin.Context) {
	if err := h.manager.Refresh(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": h.manager.Rooms()})
}

// DeleteRoom removes the room server-side and purges its local state.
func (h *SessionHandler) DeleteRoom(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	if err := h.manager.DeleteRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectRoom makes the room current, loading its backlog on first selection.
func (h *SessionHandler) SelectRoom(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	room, found := h.roomByID(roomID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not in directory"})
		return
	}
	if err := h.manager.SelectRoom(c.Request.Context(), room); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.manager.CurrentRoomMessages()})
}

// MarkRoomAsRead resets the room's unread counter.
func (h *SessionHandler) MarkRoomAsRead(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	h.manager.MarkRoomAsRead(roomID)
	c.Status(http.StatusNoContent)
}

// GetRoomMessages returns the room's buffer in arrival order.
func (h *SessionHandler) GetRoomMessages(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	messages, loaded := h.manager.Messages(roomID)
	c.JSON(http.StatusOK, gin.H{"messages": messages, "loaded": loaded})
}

// SendMessage publishes to the selected room.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.SendMessage(req.Content); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *SessionHandler) roomByID(roomID int) (models.Room, bool) {
	for _, room := range h.manager.Rooms() {
		if room.ID == roomID {
			return room, true
		}
	}
	return models.Room{}, false
}

func parseRoomID(c *gin.Context) (int, bool) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}
	return roomID, true
}

// statusFor maps the session and collaborator error taxonomy onto HTTP
// statuses for the page layer.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrNoRoomSelected),
		errors.Is(err, session.ErrNoIdentity),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownRoom), errors.Is(err, rest.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrConnectionFailed),
		errors.Is(err, transport.ErrNotConnected),
		errors.Is(err, rest.ErrRequestFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
