package models

// Identity describes the authenticated member. It is supplied by the auth
// collaborator together with a bearer credential; this client never owns or
// refreshes it.
type Identity struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
