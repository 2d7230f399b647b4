package service

import (
	"fmt"
	"time"

	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
	"go.uber.org/zap"
)

// Dispatcher delivers an envelope to the live session of identity.
// It reports false when the identity has no session or its buffer is full.
type Dispatcher interface {
	SendTo(identity string, env *model.Envelope) bool
}

// Relay routes call control and connectivity negotiation between the two identities.
// It keeps no state of its own: legality comes from the CallMachine, routing from the Registry.
// Offer, answer and candidate payloads are forwarded untouched.
type Relay struct {
	registry *Registry
	calls    *CallMachine
	out      Dispatcher
	now      func() time.Time
	log      *zap.Logger
}

// NewRelay creates a relay and subscribes it to call timeouts.
func NewRelay(registry *Registry, calls *CallMachine, out Dispatcher, now func() time.Time, log *zap.Logger) *Relay {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{registry: registry, calls: calls, out: out, now: now, log: log}
	calls.OnTimeout(r.timedOut)
	return r
}

// CheckAvailability answers whether target is online with a registered call address.
func (r *Relay) CheckAvailability(target string) model.Availability {
	return r.registry.Available(NormalizeIdentity(target))
}

// Initiate starts a call from caller to req.To and rings the callee.
func (r *Relay) Initiate(caller string, req model.CallInitiateRequest) error {
	callee := NormalizeIdentity(req.To)
	if s := r.calls.Session(); s.State != model.CallStateIdle {
		return fmt.Errorf("call %s→%s: %w", caller, callee, errs.ErrBusy)
	}
	if !r.registry.Available(callee).Available {
		return fmt.Errorf("call %s→%s: %w", caller, callee, errs.ErrPeerUnavailable)
	}
	if err := r.calls.Initiate(caller, callee, req.Kind); err != nil {
		return err
	}

	from, _ := r.registry.Lookup(caller)
	incoming := model.NewEnvelope(model.EventCallIncoming, model.CallIncoming{
		From:        caller,
		Kind:        req.Kind,
		CallAddress: from.CallAddress,
		Offer:       req.Offer,
	})
	if !r.out.SendTo(callee, incoming) {
		r.log.Warn("call-incoming undeliverable", zap.String("caller", caller), zap.String("callee", callee))
		if _, err := r.calls.Fail(caller, "undeliverable"); err != nil {
			r.log.Error("call teardown failed", zap.String("caller", caller), zap.Error(err))
		}
		return fmt.Errorf("call %s→%s: %w", caller, callee, errs.ErrPeerUnavailable)
	}
	return nil
}

// Accept moves the ringing call to active and tells both parties the call is live.
func (r *Relay) Accept(callee string, req model.CallControlRequest) error {
	caller, err := r.counterpart(callee, req.To)
	if err != nil {
		return err
	}
	s, err := r.calls.Accept(callee)
	if err != nil {
		return err
	}
	r.out.SendTo(caller, model.NewEnvelope(model.EventCallAccepted, model.CallAccepted{From: callee, Answer: req.Answer}))
	r.out.SendTo(caller, model.NewEnvelope(model.EventCallActive, model.CallActive{Peer: callee, Kind: s.Kind, StartedAt: *s.StartedAt}))
	r.out.SendTo(callee, model.NewEnvelope(model.EventCallActive, model.CallActive{Peer: caller, Kind: s.Kind, StartedAt: *s.StartedAt}))
	return nil
}

// Reject declines the ringing call.
func (r *Relay) Reject(callee string, req model.CallControlRequest) error {
	caller, err := r.counterpart(callee, req.To)
	if err != nil {
		return err
	}
	if _, err := r.calls.Reject(callee); err != nil {
		return err
	}
	r.out.SendTo(caller, model.NewEnvelope(model.EventCallRejected, model.CallRejected{From: callee}))
	return nil
}

// Hangup ends the call on behalf of from and notifies the other party.
func (r *Relay) Hangup(from string, req model.CallControlRequest) error {
	to, err := r.counterpart(from, req.To)
	if err != nil {
		return err
	}
	s, err := r.calls.Hangup(from)
	if err != nil {
		return err
	}
	r.out.SendTo(to, r.ended(from, model.EndReasonHangup, s))
	return nil
}

// Fail tears the call down after from reported a media-negotiation error.
func (r *Relay) Fail(from string, req model.CallControlRequest) error {
	to, err := r.counterpart(from, req.To)
	if err != nil {
		return err
	}
	reason := req.Reason
	if reason == "" {
		reason = "negotiation failed"
	}
	s, err := r.calls.Fail(from, reason)
	if err != nil {
		return err
	}
	r.log.Warn("call failed", zap.String("identity", from), zap.String("reason", reason))
	r.out.SendTo(to, r.ended(from, reason, s))
	return nil
}

// Candidate forwards a connectivity candidate to the other participant of the current call.
func (r *Relay) Candidate(from string, req model.CandidateRequest) error {
	to := NormalizeIdentity(req.To)
	if len(req.Candidate) == 0 {
		return fmt.Errorf("candidate from %s: %w", from, errs.ErrBadRequest)
	}
	if !r.calls.Permits(from, to) {
		return fmt.Errorf("candidate %s→%s: %w", from, to, errs.ErrInvalidTransition)
	}
	r.out.SendTo(to, model.NewEnvelope(model.EventConnectivityCandidate, model.Candidate{From: from, Candidate: req.Candidate}))
	return nil
}

// ForceEnd tears down any ringing or active call of identity, e.g. on disconnect.
func (r *Relay) ForceEnd(identity, reason string) bool {
	s, ok := r.calls.ForceEnd(identity, reason)
	if !ok {
		return false
	}
	r.log.Info("call force-ended", zap.String("identity", identity), zap.String("reason", reason))
	r.out.SendTo(s.Counterpart(identity), r.ended(identity, reason, s))
	return true
}

func (r *Relay) timedOut(s model.CallSession) {
	r.log.Info("call timed out", zap.String("caller", s.Initiator), zap.String("callee", s.Callee))
	r.out.SendTo(s.Initiator, model.NewEnvelope(model.EventCallTimeout, model.CallTimeout{To: s.Callee}))
	r.out.SendTo(s.Callee, r.ended(s.Initiator, model.EndReasonTimeout, s))
}

// counterpart checks that to names the other participant of the current call.
func (r *Relay) counterpart(from, to string) (string, error) {
	to = NormalizeIdentity(to)
	s := r.calls.Session()
	if !s.Involves(from) || s.Counterpart(from) != to {
		return "", fmt.Errorf("%s→%s in %s: %w", from, to, s.State, errs.ErrInvalidTransition)
	}
	return to, nil
}

func (r *Relay) ended(from, reason string, s model.CallSession) *model.Envelope {
	var secs int64
	if s.StartedAt != nil {
		secs = int64(r.now().Sub(*s.StartedAt) / time.Second)
	}
	return model.NewEnvelope(model.EventCallEnd, model.CallEnded{From: from, Reason: reason, DurationSeconds: secs})
}
