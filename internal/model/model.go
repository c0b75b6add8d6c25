// Package model defines the entity records cached by the client stores.
// The gateway owns the authoritative copy of every record; ids are assigned
// by the server.
package model

import "time"

// Entity is implemented by every record kept in a store collection.
type Entity interface {
	EntityID() string
}

// User is a public profile.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

func (u User) EntityID() string { return u.ID }

// Party is a hosted event people can discover and join.
type Party struct {
	ID          string    `json:"id"`
	HostID      string    `json:"host_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Address     string    `json:"address,omitempty"`
	Latitude    float64   `json:"latitude,omitempty"`
	Longitude   float64   `json:"longitude,omitempty"`
	StartsAt    time.Time `json:"starts_at,omitzero"`
	EndsAt      time.Time `json:"ends_at,omitzero"`
	Attendees   int       `json:"attendees"`
	IsPrivate   bool      `json:"is_private,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

func (p Party) EntityID() string { return p.ID }

// Attendance links a user to a party they joined.
type Attendance struct {
	ID       string    `json:"id"`
	PartyID  string    `json:"party_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at,omitzero"`
}

func (a Attendance) EntityID() string { return a.ID }

// Photo is an image posted to a party.
type Photo struct {
	ID        string    `json:"id"`
	PartyID   string    `json:"party_id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	Caption   string    `json:"caption,omitempty"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (p Photo) EntityID() string { return p.ID }

// Like records a user liking a photo.
type Like struct {
	ID        string    `json:"id"`
	PhotoID   string    `json:"photo_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (l Like) EntityID() string { return l.ID }

// Friendship states.
const (
	FriendPending  = "pending"
	FriendAccepted = "accepted"
)

// Friend is a friendship edge from UserID to FriendID.
type Friend struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FriendID  string    `json:"friend_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (f Friend) EntityID() string { return f.ID }

// Message is a chat line in a party's conversation.
type Message struct {
	ID        string    `json:"id"`
	PartyID   string    `json:"party_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (m Message) EntityID() string { return m.ID }

// Location is the last reported position of a user.
type Location struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Sharing   bool      `json:"sharing"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func (l Location) EntityID() string { return l.ID }
