package service

import (
	"fmt"
	"time"

	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
	"go.uber.org/zap"
)

// Default call timings.
const (
	DefaultRingTimeout = 30 * time.Second
	DefaultCooldown    = 5 * time.Second
)

type callTrigger string

const (
	triggerInitiate callTrigger = "initiate"
	triggerAccept   callTrigger = "accept"
	triggerReject   callTrigger = "reject"
	triggerHangup   callTrigger = "hangup"
	triggerTimeout  callTrigger = "timeout"
	triggerFail     callTrigger = "fail"
	triggerSettle   callTrigger = "settle"
)

// callTransitions is the complete set of legal moves; anything missing is rejected.
var callTransitions = map[model.CallState]map[callTrigger]model.CallState{
	model.CallStateIdle: {
		triggerInitiate: model.CallStateInitiating,
	},
	model.CallStateInitiating: {
		triggerAccept:  model.CallStateActive,
		triggerReject:  model.CallStateEnding,
		triggerHangup:  model.CallStateEnding,
		triggerTimeout: model.CallStateEnding,
		triggerFail:    model.CallStateEnding,
	},
	model.CallStateActive: {
		triggerHangup: model.CallStateEnding,
		triggerFail:   model.CallStateEnding,
	},
	model.CallStateEnding: {
		triggerSettle: model.CallStateIdle,
	},
}

// CallMachine governs the single call between the two identities.
// Every transition cancels the pending timer and bumps gen, so a timer
// armed for an earlier call can never act on a later one.
type CallMachine struct {
	session     model.CallSession
	gen         uint64
	cancel      func()
	sched       Scheduler
	ringTimeout time.Duration
	cooldown    time.Duration
	now         func() time.Time
	log         *zap.Logger
	onTimeout   func(model.CallSession)
}

// NewCallMachine creates an idle machine.
func NewCallMachine(sched Scheduler, ringTimeout, cooldown time.Duration, now func() time.Time, log *zap.Logger) *CallMachine {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CallMachine{
		session:     model.CallSession{State: model.CallStateIdle},
		sched:       sched,
		ringTimeout: ringTimeout,
		cooldown:    cooldown,
		now:         now,
		log:         log,
	}
}

// OnTimeout registers the callback run once when an unanswered call expires.
func (m *CallMachine) OnTimeout(fn func(model.CallSession)) { m.onTimeout = fn }

// Session returns a copy of the current call.
func (m *CallMachine) Session() model.CallSession { return m.session }

// Initiate starts ringing callee. Any non-idle state, cool-down included, is Busy.
func (m *CallMachine) Initiate(caller, callee string, kind model.CallKind) error {
	if m.session.State != model.CallStateIdle {
		return fmt.Errorf("initiate in %s: %w", m.session.State, errs.ErrBusy)
	}
	if caller == "" || caller == callee || !kind.Valid() {
		return fmt.Errorf("initiate %s→%s (%s): %w", caller, callee, kind, errs.ErrBadRequest)
	}
	m.session = model.CallSession{
		State:     model.CallStateIdle,
		Initiator: caller,
		Callee:    callee,
		Kind:      kind,
	}
	return m.fire(triggerInitiate, "")
}

// Accept answers the ringing call; only the callee may accept.
func (m *CallMachine) Accept(by string) (model.CallSession, error) {
	if by != m.session.Callee || m.session.State != model.CallStateInitiating {
		return m.session, m.illegal(triggerAccept, by)
	}
	err := m.fire(triggerAccept, "")
	return m.session, err
}

// Reject declines the ringing call; only the callee may reject.
func (m *CallMachine) Reject(by string) (model.CallSession, error) {
	if by != m.session.Callee {
		return m.session, m.illegal(triggerReject, by)
	}
	err := m.fire(triggerReject, model.EndReasonRejected)
	return m.session, err
}

// Hangup ends a ringing or active call on behalf of either participant.
func (m *CallMachine) Hangup(by string) (model.CallSession, error) {
	if !m.session.Involves(by) {
		return m.session, m.illegal(triggerHangup, by)
	}
	err := m.fire(triggerHangup, model.EndReasonHangup)
	return m.session, err
}

// Fail tears the call down after a transport or media-negotiation error.
func (m *CallMachine) Fail(by, reason string) (model.CallSession, error) {
	if !m.session.Involves(by) {
		return m.session, m.illegal(triggerFail, by)
	}
	err := m.fire(triggerFail, reason)
	return m.session, err
}

// ForceEnd tears down a ringing or active call involving identity.
// It reports false when there was nothing to end.
func (m *CallMachine) ForceEnd(identity, reason string) (model.CallSession, bool) {
	s, err := m.Fail(identity, reason)
	return s, err == nil
}

// Permits reports whether from may send negotiation traffic to to right now.
func (m *CallMachine) Permits(from, to string) bool {
	switch m.session.State {
	case model.CallStateInitiating, model.CallStateActive:
		return m.session.Involves(from) && m.session.Counterpart(from) == to
	}
	return false
}

func (m *CallMachine) illegal(t callTrigger, by string) error {
	return fmt.Errorf("%s by %q in %s: %w", t, by, m.session.State, errs.ErrInvalidTransition)
}

// fire is the only place the state changes.
func (m *CallMachine) fire(t callTrigger, reason string) error {
	from := m.session.State
	next, ok := callTransitions[from][t]
	if !ok {
		return fmt.Errorf("%s in %s: %w", t, from, errs.ErrInvalidTransition)
	}
	m.stopTimer()
	m.gen++
	m.session.State = next

	switch next {
	case model.CallStateInitiating:
		m.arm(m.ringTimeout, triggerTimeout)
	case model.CallStateActive:
		started := m.now()
		m.session.StartedAt = &started
	case model.CallStateEnding:
		m.session.EndReason = reason
		m.arm(m.cooldown, triggerSettle)
	case model.CallStateIdle:
		m.session = model.CallSession{State: model.CallStateIdle}
	}

	m.log.Info("call transition",
		zap.String("trigger", string(t)),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("reason", reason))
	return nil
}

func (m *CallMachine) arm(d time.Duration, t callTrigger) {
	gen := m.gen
	m.cancel = m.sched.Schedule(d, func() { m.expire(gen, t) })
}

func (m *CallMachine) stopTimer() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *CallMachine) expire(gen uint64, t callTrigger) {
	if gen != m.gen {
		m.log.Debug("stale call timer ignored", zap.String("trigger", string(t)))
		return
	}
	m.cancel = nil
	expired := m.session
	reason := ""
	if t == triggerTimeout {
		reason = model.EndReasonTimeout
	}
	if err := m.fire(t, reason); err != nil {
		m.log.Warn("call timer", zap.Error(err))
		return
	}
	if t == triggerTimeout && m.onTimeout != nil {
		m.onTimeout(expired)
	}
}
