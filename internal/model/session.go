package model

import "time"

// CallState represents the call session lifecycle.
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateInitiating CallState = "initiating"
	CallStateActive     CallState = "active"
	CallStateEnding     CallState = "ending"
)

// CallKind is voice or video.
type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindVideo CallKind = "video"
)

// Valid reports whether k is a known call kind.
func (k CallKind) Valid() bool {
	return k == CallKindVoice || k == CallKindVideo
}

// CallSession is the single call the coordinator tracks. The zero value is an idle session.
type CallSession struct {
	State     CallState  `json:"state"`
	Initiator string     `json:"initiator,omitempty"`
	Callee    string     `json:"callee,omitempty"`
	Kind      CallKind   `json:"kind,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndReason string     `json:"endReason,omitempty"`
}

// Involves reports whether identity is one of the call participants.
func (s CallSession) Involves(identity string) bool {
	return identity != "" && (s.Initiator == identity || s.Callee == identity)
}

// Counterpart returns the other participant of the call.
func (s CallSession) Counterpart(identity string) string {
	switch identity {
	case s.Initiator:
		return s.Callee
	case s.Callee:
		return s.Initiator
	}
	return ""
}

// Availability is the answer to check-availability.
type Availability struct {
	Available   bool   `json:"available"`
	CallAddress string `json:"callAddress,omitempty"`
}

// StatusResponse is the response for GET /status.
type StatusResponse struct {
	Users    map[string]UserStatus `json:"users"`
	Call     CallSession           `json:"call"`
	Messages int                   `json:"messages"`
	WSURL    string                `json:"ws_url"`
}
