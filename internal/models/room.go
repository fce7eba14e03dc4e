package models

// Room is a server-owned chat room, discovered via the room directory or the
// create flow. Rooms are never mutated in place; a directory refresh replaces
// the stored sequence wholesale.
type Room struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}
