package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRequestFailed = errors.New("collaborator request failed")
)

// TokenSource yields the current bearer credential. The auth collaborator
// owns the credential and its refresh; this client only attaches it.
type TokenSource func() string

// RoomAPI is the REST collaborator surface the session manager consumes:
// room directory, room lifecycle and the message backlog.
type RoomAPI interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
	CreateRoom(ctx context.Context, name string, participants []string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID int) error
	ListMessages(ctx context.Context, roomID int) ([]models.Message, error)
}

// Client is the http implementation of RoomAPI.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

var _ RoomAPI = (*Client)(nil)

// NewClient builds a Client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration, token TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// ListRooms fetches the authoritative room list for the current identity.
// The server has shipped the array under several envelope shapes over time;
// all observed shapes are tolerated.
func (c *Client) ListRooms(ctx context.Context) ([]models.Room, error) {
	body, err := c.do(ctx, "list_rooms", http.MethodGet, "/api/chat/rooms/my", nil)
	if err != nil {
		return nil, err
	}
	rooms, err := decodeRoomEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode room list: %v", ErrRequestFailed, err)
	}
	return rooms, nil
}

// CreateRoom issues the create request and returns the server-assigned room.
func (c *Client) CreateRoom(ctx context.Context, name string, participants []string) (models.Room, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"name":         name,
		"participants": participants,
	})
	if err != nil {
		return models.Room{}, fmt.Errorf("encode create room: %w", err)
	}

	body, err := c.do(ctx, "create_room", http.MethodPost, "/api/chat/rooms", payload)
	if err != nil {
		return models.Room{}, err
	}

	var envelope struct {
		Data *models.Room `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil && envelope.Data.ID != 0 {
		return *envelope.Data, nil
	}
	var room models.Room
	if err := json.Unmarshal(body, &room); err != nil || room.ID == 0 {
		return models.Room{}, fmt.Errorf("%w: decode created room", ErrRequestFailed)
	}
	return room, nil
}

// DeleteRoom requests removal of the room for the current identity.
func (c *Client) DeleteRoom(ctx context.Context, roomID int) error {
	_, err := c.do(ctx, "delete_room", http.MethodDelete, fmt.Sprintf("/api/chat/rooms/%d", roomID), nil)
	return err
}

// ListMessages fetches the room's durable backlog, normalized into the
// canonical Message shape.
func (c *Client) ListMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	body, err := c.do(ctx, "list_messages", http.MethodGet, fmt.Sprintf("/api/chat/rooms/%d/messages", roomID), nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []models.WireMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode backlog: %v", ErrRequestFailed, err)
	}

	messages := make([]models.Message, 0, len(envelope.Data))
	for _, record := range envelope.Data {
		messages = append(messages, record.Normalize(roomID))
	}
	return messages, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveCollaboratorRequest(operation, 0, time.Since(start))
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestFailed, operation, err)
	}
	defer resp.Body.Close()
	observability.ObserveCollaboratorRequest(operation, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrRequestFailed, operation, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, operation)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrRequestFailed, operation, resp.StatusCode)
	}
	return body, nil
}

// decodeRoomEnvelope unwraps {"data": rooms} where rooms is the array itself,
// or {"data": [...]}, or {"rooms": [...]}.
func decodeRoomEnvelope(body []byte) ([]models.Room, error) {
	var outer struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, err
	}
	raw := outer.Data
	if len(raw) == 0 {
		raw = body
	}

	var rooms []models.Room
	if err := json.Unmarshal(raw, &rooms); err == nil {
		return rooms, nil
	}

	var nested struct {
		Data  []models.Room `json:"data"`
		Rooms []models.Room `json:"rooms"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, err
	}
	if nested.Data != nil {
		return nested.Data, nil
	}
	if nested.Rooms != nil {
		return nested.Rooms, nil
	}
	return []models.Room{}, nil
}
