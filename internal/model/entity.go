package model

import "time"

// User is the registry record of one of the two fixed identities.
// The record outlives connections: Avatar survives a reconnect, SessionRef and CallAddress do not.
type User struct {
	Identity    string
	Connected   bool
	SessionRef  string // id of the live transport session, "" when disconnected
	CallAddress string // published after login, "" until registered
	Avatar      []byte
}

// UserStatus is the per-identity entry of the user-status broadcast.
type UserStatus struct {
	Connected bool `json:"connected"`
	HasAvatar bool `json:"hasAvatar"`
}

// Profile is the profile state handed to a freshly logged-in client.
type Profile struct {
	Connected bool   `json:"connected"`
	Avatar    []byte `json:"avatar,omitempty"`
}

// Attachment is an optional file carried by a chat message.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Message is a single entry of the chat log.
type Message struct {
	ID         string      `json:"id"`
	Author     string      `json:"author"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}
