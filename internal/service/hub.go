package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
	"go.uber.org/zap"
)

// Session is one transport connection. Identity stays empty until login succeeds.
// Identity is written only by the hub loop.
type Session struct {
	ID         string
	RemoteAddr string
	Identity   string
	Send       chan *model.Envelope
}

// HubConfig holds coordinator settings.
type HubConfig struct {
	Identities         []string
	RingTimeout        time.Duration
	Cooldown           time.Duration
	AttachmentMaxBytes int
	SendBuffer         int

	// Now and Scheduler are overridable for tests; nil means wall clock and loop timers.
	Now       func() time.Time
	Scheduler Scheduler
}

type inbound struct {
	session *Session
	env     *model.Envelope
}

// Hub is the coordinator. A single goroutine running Run owns the registry,
// the message log and the call machine, so none of them needs a lock.
type Hub struct {
	sessions map[string]*Session
	registry *Registry
	messages *MessageLog
	calls    *CallMachine
	relay    *Relay

	register   chan *Session
	unregister chan *Session
	inbound    chan inbound
	tasks      chan func()
	done       chan struct{}

	sendBuffer int
	log        *zap.Logger
}

// NewHub creates the coordinator with both identities pre-seeded.
func NewHub(cfg HubConfig, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	h := &Hub{
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inbound),
		tasks:      make(chan func()),
		done:       make(chan struct{}),
		sendBuffer: cfg.SendBuffer,
		log:        log,
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = &loopScheduler{tasks: h.tasks, done: h.done}
	}
	h.registry = NewRegistry(cfg.Identities, cfg.AttachmentMaxBytes)
	h.messages = NewMessageLog(cfg.AttachmentMaxBytes, cfg.Now)
	h.calls = NewCallMachine(sched, cfg.RingTimeout, cfg.Cooldown, cfg.Now, log.Named("call"))
	h.relay = NewRelay(h.registry, h.calls, h, cfg.Now, log.Named("relay"))
	return h
}

// NewSession allocates a session for a freshly accepted connection.
func (h *Hub) NewSession(remoteAddr string) *Session {
	return &Session{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		Send:       make(chan *model.Envelope, h.sendBuffer),
	}
}

// Connect hands a new session to the loop.
func (h *Hub) Connect(s *Session) error {
	select {
	case h.register <- s:
		return nil
	case <-h.done:
		return errs.ErrHubStopped
	}
}

// Disconnect hands a closed session to the loop; the loop closes s.Send.
func (h *Hub) Disconnect(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Submit queues an inbound event from s.
func (h *Hub) Submit(s *Session, env *model.Envelope) error {
	select {
	case h.inbound <- inbound{session: s, env: env}:
		return nil
	case <-h.done:
		return errs.ErrHubStopped
	}
}

// Run processes events until ctx is cancelled. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			h.sessions[s.ID] = s
			h.log.Info("session registered", zap.String("session_id", s.ID), zap.String("remote_addr", s.RemoteAddr))
		case s := <-h.unregister:
			h.drop(s)
		case in := <-h.inbound:
			h.handle(in.session, in.env)
		case task := <-h.tasks:
			task()
		}
	}
}

// Status returns a consistent snapshot taken on the loop.
func (h *Hub) Status(ctx context.Context) (model.StatusResponse, error) {
	var out model.StatusResponse
	err := h.do(ctx, func() {
		out = model.StatusResponse{
			Users:    h.registry.Snapshot(),
			Call:     h.calls.Session(),
			Messages: h.messages.Len(),
		}
	})
	return out, err
}

// Availability answers check-availability for callers outside the WebSocket.
func (h *Hub) Availability(ctx context.Context, identity string) (model.Availability, error) {
	var out model.Availability
	err := h.do(ctx, func() { out = h.relay.CheckAvailability(identity) })
	return out, err
}

func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.tasks <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errs.ErrHubStopped
	}
	<-finished
	return nil
}

func (h *Hub) shutdown() {
	close(h.done)
	h.calls.stopTimer()
	for id, s := range h.sessions {
		close(s.Send)
		delete(h.sessions, id)
	}
	h.log.Info("hub stopped")
}

func (h *Hub) drop(s *Session) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	if s.Identity != "" {
		h.relay.ForceEnd(s.Identity, model.EndReasonDisconnect)
		if h.registry.Disconnect(s.Identity, s.ID) {
			h.broadcastStatus()
		}
		h.log.Info("user disconnected", zap.String("identity", s.Identity), zap.String("session_id", s.ID))
	}
	close(s.Send)
}

func (h *Hub) handle(s *Session, env *model.Envelope) {
	var err error
	if env.Type == model.EventLogin {
		err = h.login(s, env)
	} else if s.Identity == "" {
		err = fmt.Errorf("%s: %w", env.Type, errs.ErrNotLoggedIn)
	} else {
		err = h.dispatch(s, env)
	}
	if err != nil {
		h.fail(s, env, err)
	}
}

func (h *Hub) dispatch(s *Session, env *model.Envelope) error {
	switch env.Type {
	case model.EventRegisterCallAddress:
		addr, err := decodeName(env.Payload, "address")
		if err != nil {
			return err
		}
		return h.registry.SetCallAddress(s.Identity, addr)

	case model.EventCheckAvailability:
		target, err := decodeName(env.Payload, "identity")
		if err != nil {
			return err
		}
		h.reply(s, env, model.NewEnvelope(model.EventAvailability, h.relay.CheckAvailability(target)))
		return nil

	case model.EventCallInitiate:
		var req model.CallInitiateRequest
		if err := decode(env.Payload, &req); err != nil {
			return err
		}
		return h.relay.Initiate(s.Identity, req)

	case model.EventCallAccept, model.EventCallReject, model.EventCallEnd, model.EventCallError:
		var req model.CallControlRequest
		if err := decode(env.Payload, &req); err != nil {
			return err
		}
		switch env.Type {
		case model.EventCallAccept:
			return h.relay.Accept(s.Identity, req)
		case model.EventCallReject:
			return h.relay.Reject(s.Identity, req)
		case model.EventCallEnd:
			return h.relay.Hangup(s.Identity, req)
		default:
			return h.relay.Fail(s.Identity, req)
		}

	case model.EventConnectivityCandidate:
		var req model.CandidateRequest
		if err := decode(env.Payload, &req); err != nil {
			return err
		}
		return h.relay.Candidate(s.Identity, req)

	case model.EventSendMessage:
		var req model.SendMessageRequest
		if err := decode(env.Payload, &req); err != nil {
			return err
		}
		msg, err := h.messages.Append(s.Identity, req.Text, req.Attachment)
		if err != nil {
			return err
		}
		h.broadcast(model.NewEnvelope(model.EventMessage, msg))
		return nil

	case model.EventDeleteMessage:
		id, err := decodeName(env.Payload, "id")
		if err != nil {
			return err
		}
		if err := h.messages.Delete(id, s.Identity); err != nil {
			return err
		}
		h.broadcast(model.NewEnvelope(model.EventLogUpdated, model.LogUpdated{Messages: h.messages.Replay()}))
		return nil

	case model.EventSetAvatar:
		var req model.AvatarRequest
		if err := decode(env.Payload, &req); err != nil {
			return err
		}
		if err := h.registry.SetAvatar(s.Identity, req.Image); err != nil {
			return err
		}
		h.broadcast(model.NewEnvelope(model.EventAvatarUpdated, model.AvatarUpdated{Identity: s.Identity, Image: req.Image}))
		h.broadcastStatus()
		return nil
	}
	return fmt.Errorf("unknown event %q: %w", env.Type, errs.ErrBadRequest)
}

func (h *Hub) login(s *Session, env *model.Envelope) error {
	if s.Identity != "" {
		return fmt.Errorf("session already bound to %q: %w", s.Identity, errs.ErrAlreadyConnected)
	}
	name, err := decodeName(env.Payload, "identity")
	if err != nil {
		return err
	}
	identity := NormalizeIdentity(name)
	if err := h.registry.Register(identity, s.ID); err != nil {
		return err
	}
	s.Identity = identity
	h.log.Info("user logged in", zap.String("identity", identity), zap.String("session_id", s.ID))

	h.reply(s, env, model.NewEnvelope(model.EventLoginSuccess, model.LoginSuccess{
		Identity: identity,
		Messages: h.messages.Replay(),
		Profiles: h.registry.Profiles(),
	}))
	h.broadcastStatus()
	return nil
}

// fail sends the one-shot error reply for a rejected event.
func (h *Hub) fail(s *Session, env *model.Envelope, err error) {
	log := h.log.With(zap.String("session_id", s.ID), zap.String("identity", s.Identity), zap.String("event", env.Type))
	if errors.Is(err, errs.ErrNotOwner) {
		log.Warn("foreign delete ignored", zap.Error(err))
		return
	}
	log.Debug("event rejected", zap.Error(err))

	switch env.Type {
	case model.EventLogin:
		h.reply(s, env, model.NewEnvelope(model.EventLoginFailed, model.LoginFailed{Reason: loginReason(err)}))
	case model.EventCallInitiate:
		h.reply(s, env, model.NewEnvelope(model.EventCallFailed, model.CallFailed{Reason: err.Error(), Code: errs.Code(err)}))
	default:
		h.reply(s, env, model.NewEnvelope(model.EventError, model.ErrorPayload{Code: errs.Code(err), Message: err.Error(), Event: env.Type}))
	}
}

func loginReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrAlreadyConnected):
		return "User is already logged in."
	case errors.Is(err, errs.ErrUnknownIdentity):
		return "Unknown user."
	}
	return err.Error()
}

// SendTo implements Dispatcher.
func (h *Hub) SendTo(identity string, env *model.Envelope) bool {
	u, ok := h.registry.Lookup(identity)
	if !ok || !u.Connected {
		return false
	}
	s, ok := h.sessions[u.SessionRef]
	if !ok {
		return false
	}
	return h.deliver(s, env)
}

func (h *Hub) reply(s *Session, req, env *model.Envelope) {
	env.Ref = req.Ref
	h.deliver(s, env)
}

// broadcast fans env out to every logged-in session.
func (h *Hub) broadcast(env *model.Envelope) {
	for _, s := range h.sessions {
		if s.Identity != "" {
			h.deliver(s, env)
		}
	}
}

// broadcastStatus fans the registry snapshot out to every session, logged in or not.
func (h *Hub) broadcastStatus() {
	env := model.NewEnvelope(model.EventUserStatus, h.registry.Snapshot())
	for _, s := range h.sessions {
		h.deliver(s, env)
	}
}

// deliver never blocks the loop; a full buffer drops the event.
func (h *Hub) deliver(s *Session, env *model.Envelope) bool {
	select {
	case s.Send <- env:
		return true
	default:
		h.log.Warn("session send buffer full", zap.String("session_id", s.ID), zap.String("event", env.Type))
		return false
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errs.ErrBadRequest
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ErrBadRequest)
	}
	return nil
}

// decodeName accepts a bare JSON string or an object carrying the string under key.
func decodeName(raw json.RawMessage, key string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := decode(raw, &obj); err != nil {
		return "", err
	}
	field, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing %q: %w", key, errs.ErrBadRequest)
	}
	if err := json.Unmarshal(field, &s); err != nil {
		return "", fmt.Errorf("%q: %w", key, errs.ErrBadRequest)
	}
	return s, nil
}
