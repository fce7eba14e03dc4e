package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

func staticToken(token string) TokenSource {
	return func() string { return token }
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 5*time.Second, staticToken("token-abc"))
}

func TestListRoomsEnvelopeShapes(t *testing.T) {
	rooms := []models.Room{
		{ID: 1, Name: "Patent 7421 deal", Participants: []string{"a@x.com", "b@x.com"}},
		{ID: 2, Name: "Licensing"},
	}

	tests := []struct {
		name string
		body gin.H
	}{
		{name: "data is the array", body: gin.H{"data": rooms}},
		{name: "data wraps data", body: gin.H{"data": gin.H{"data": rooms}}},
		{name: "data wraps rooms", body: gin.H{"data": gin.H{"rooms": rooms}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.GET("/api/chat/rooms/my", func(c *gin.Context) {
				c.JSON(http.StatusOK, tt.body)
			})
			client := newTestClient(t, router)

			got, err := client.ListRooms(context.Background())
			require.NoError(t, err)
			assert.Equal(t, rooms, got)
		})
	}
}

func TestListRoomsEmptyDirectory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/chat/rooms/my", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []models.Room{}})
	})
	client := newTestClient(t, router)

	got, err := client.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListRoomsSendsBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var auth string
	router := gin.New()
	router.GET("/api/chat/rooms/my", func(c *gin.Context) {
		auth = c.GetHeader("Authorization")
		c.JSON(http.StatusOK, gin.H{"data": []models.Room{}})
	})
	client := newTestClient(t, router)

	_, err := client.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-abc", auth)
}

func TestListRoomsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/chat/rooms/my", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})
	client := newTestClient(t, router)

	_, err := client.ListRooms(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestCreateRoomEnvelopeAndBareShapes(t *testing.T) {
	created := models.Room{ID: 9, Name: "Offer review", Participants: []string{"a@x.com"}}

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "enveloped", body: gin.H{"data": created}},
		{name: "bare room", body: created},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.POST("/api/chat/rooms", func(c *gin.Context) {
				var req struct {
					Name         string   `json:"name"`
					Participants []string `json:"participants"`
				}
				require.NoError(t, c.ShouldBindJSON(&req))
				assert.Equal(t, "Offer review", req.Name)
				c.JSON(http.StatusCreated, tt.body)
			})
			client := newTestClient(t, router)

			got, err := client.CreateRoom(context.Background(), "Offer review", []string{"a@x.com"})
			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	}
}

func TestDeleteRoomNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.DELETE("/api/chat/rooms/:id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such room"})
	})
	client := newTestClient(t, router)

	err := client.DeleteRoom(context.Background(), 42)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestListMessagesNormalization(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/chat/rooms/:id/messages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []gin.H{
			{
				"id": 101, "senderId": 7, "senderName": "Dana",
				"content": "backlog one", "timestamp": "2026-08-30T10:00:00Z",
				"chatRoomId": 5, "messageType": "NORMAL",
			},
			{
				// No id, numeric senderId, createdAt instead of timestamp,
				// no room or type fields.
				"senderId": "8", "senderName": "Lee",
				"content": "backlog two", "createdAt": "2026-08-30T10:01:00Z",
			},
		}})
	})
	client := newTestClient(t, router)

	got, err := client.ListMessages(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "101", got[0].ID)
	assert.Equal(t, "7", got[0].SenderID)
	assert.Equal(t, "2026-08-30T10:00:00Z", got[0].Timestamp)
	assert.Equal(t, 5, got[0].RoomID)

	assert.NotEmpty(t, got[1].ID, "missing id must be synthesized")
	assert.Equal(t, "8", got[1].SenderID)
	assert.Equal(t, "2026-08-30T10:01:00Z", got[1].Timestamp, "createdAt is the fallback timestamp")
	assert.Equal(t, 5, got[1].RoomID, "room id falls back to the requested room")
	assert.Equal(t, models.MessageTypeNormal, got[1].MessageType)
}

func TestListMessagesUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 500*time.Millisecond, staticToken(""))

	_, err := client.ListMessages(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRequestFailed)
}
