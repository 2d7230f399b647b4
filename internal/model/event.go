package model

import (
	"encoding/json"
	"time"
)

// Envelope is the frame for every client↔server WebSocket event.
// Ref is echoed back on the direct reply so a client can pair query and answer.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// NewEnvelope marshals payload into a new envelope of the given type.
func NewEnvelope(typ string, payload any) *Envelope {
	env := &Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			raw, _ = json.Marshal(ErrorPayload{Code: "internal", Message: err.Error()})
			env.Type = EventError
		}
		env.Payload = raw
	}
	return env
}

// Client → server events. call-end and connectivity-candidate also travel
// server → client when forwarded to the counterpart.
const (
	EventLogin                 = "login"
	EventRegisterCallAddress   = "register-call-address"
	EventCheckAvailability     = "check-availability"
	EventCallInitiate          = "call-initiate"
	EventCallAccept            = "call-accept"
	EventCallReject            = "call-reject"
	EventCallEnd               = "call-end"
	EventCallError             = "call-error"
	EventConnectivityCandidate = "connectivity-candidate"
	EventSendMessage           = "send-message"
	EventDeleteMessage         = "delete-message"
	EventSetAvatar             = "set-avatar"
)

// Server → client events.
const (
	EventLoginSuccess  = "login-success"
	EventLoginFailed   = "login-failed"
	EventAvailability  = "availability"
	EventCallIncoming  = "call-incoming"
	EventCallFailed    = "call-failed"
	EventCallAccepted  = "call-accepted"
	EventCallActive    = "call-active"
	EventCallRejected  = "call-rejected"
	EventCallTimeout   = "call-timeout"
	EventMessage       = "message"
	EventLogUpdated    = "log-updated"
	EventAvatarUpdated = "avatar-updated"
	EventUserStatus    = "user-status"
	EventError         = "error"
)

// Call end reasons.
const (
	EndReasonHangup     = "hangup"
	EndReasonRejected   = "rejected"
	EndReasonTimeout    = "timeout"
	EndReasonDisconnect = "disconnect"
)

type LoginRequest struct {
	Identity string `json:"identity"`
}

type LoginSuccess struct {
	Identity string             `json:"identity"`
	Messages []Message          `json:"messages"`
	Profiles map[string]Profile `json:"profiles"`
}

type LoginFailed struct {
	Reason string `json:"reason"`
}

type CallAddressRequest struct {
	Address string `json:"address"`
}

type AvailabilityRequest struct {
	Identity string `json:"identity"`
}

type CallInitiateRequest struct {
	To    string          `json:"to"`
	Kind  CallKind        `json:"kind"`
	Offer json.RawMessage `json:"offer,omitempty"`
}

// CallControlRequest is the payload of call-accept, call-reject, call-end and call-error.
type CallControlRequest struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

type CandidateRequest struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

type SendMessageRequest struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type DeleteMessageRequest struct {
	ID string `json:"id"`
}

type AvatarRequest struct {
	Image []byte `json:"image"`
}

type CallIncoming struct {
	From        string          `json:"from"`
	Kind        CallKind        `json:"kind"`
	CallAddress string          `json:"callAddress"`
	Offer       json.RawMessage `json:"offer,omitempty"`
}

type CallFailed struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

type CallAccepted struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

type CallActive struct {
	Peer      string    `json:"peer"`
	Kind      CallKind  `json:"kind"`
	StartedAt time.Time `json:"startedAt"`
}

type CallRejected struct {
	From string `json:"from"`
}

type CallEnded struct {
	From            string `json:"from"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type CallTimeout struct {
	To string `json:"to"`
}

type Candidate struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type LogUpdated struct {
	Messages []Message `json:"messages"`
}

type AvatarUpdated struct {
	Identity string `json:"identity"`
	Image    []byte `json:"image"`
}

// ErrorPayload is the one-shot error reply to the originating session.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
