package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/psds-microservice/call-relay-service/internal/errs"
	"github.com/psds-microservice/call-relay-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type relayFixture struct {
	sched    *fakeScheduler
	registry *Registry
	calls    *CallMachine
	out      *recorder
	relay    *Relay
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	f := &relayFixture{sched: &fakeScheduler{}, out: newRecorder()}
	f.registry = NewRegistry([]string{"rav", "mon"}, 0)
	f.calls = newMachine(f.sched)
	f.relay = NewRelay(f.registry, f.calls, f.out, f.sched.Now, nil)
	for _, id := range []string{"rav", "mon"} {
		require.NoError(t, f.registry.Register(id, "sess-"+id))
		require.NoError(t, f.registry.SetCallAddress(id, "peer-"+id))
	}
	return f
}

func TestRelayInitiateForwardsIncoming(t *testing.T) {
	f := newRelayFixture(t)
	offer := json.RawMessage(`{"sdp":"v=0"}`)

	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "Mon", Kind: model.CallKindVideo, Offer: offer}))

	require.Equal(t, []string{model.EventCallIncoming}, f.out.types("mon"))
	in := payloadOf[model.CallIncoming](t, f.out.sent["mon"][0])
	assert.Equal(t, "rav", in.From)
	assert.Equal(t, model.CallKindVideo, in.Kind)
	assert.Equal(t, "peer-rav", in.CallAddress)
	assert.JSONEq(t, string(offer), string(in.Offer))
	assert.Empty(t, f.out.sent["rav"])
}

func TestRelayInitiateBusyBeforePeerUnavailable(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVoice}))
	f.registry.Disconnect("mon", "sess-mon")

	err := f.relay.Initiate("mon", model.CallInitiateRequest{To: "rav", Kind: model.CallKindVoice})
	assert.ErrorIs(t, err, errs.ErrBusy)
}

func TestRelayInitiatePeerUnavailable(t *testing.T) {
	f := newRelayFixture(t)
	f.registry.Disconnect("mon", "sess-mon")

	err := f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVoice})
	assert.ErrorIs(t, err, errs.ErrPeerUnavailable)
	assert.Equal(t, model.CallStateIdle, f.calls.Session().State)
	assert.Empty(t, f.out.sent, "unavailable peer is reported to the caller only")

	err = f.relay.Initiate("rav", model.CallInitiateRequest{To: "eve", Kind: model.CallKindVoice})
	assert.ErrorIs(t, err, errs.ErrPeerUnavailable)
}

func TestRelayInitiateUndeliverableTearsDown(t *testing.T) {
	f := newRelayFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f.relay.log = zap.New(core)
	f.out.offline["mon"] = true

	err := f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVoice})
	assert.ErrorIs(t, err, errs.ErrPeerUnavailable)
	assert.Equal(t, model.CallStateEnding, f.calls.Session().State)
	assert.Equal(t, "undeliverable", f.calls.Session().EndReason)
	assert.Equal(t, 1, logs.FilterMessage("call-incoming undeliverable").Len())
	assert.Zero(t, logs.FilterMessage("call teardown failed").Len())
}

func TestRelayAcceptNotifiesBoth(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVideo}))

	require.NoError(t, f.relay.Accept("mon", model.CallControlRequest{To: "rav", Answer: json.RawMessage(`{"sdp":"answer"}`)}))

	assert.Equal(t, []string{model.EventCallAccepted, model.EventCallActive}, f.out.types("rav"))
	assert.Equal(t, []string{model.EventCallIncoming, model.EventCallActive}, f.out.types("mon"))
	active := payloadOf[model.CallActive](t, f.out.sent["rav"][1])
	assert.Equal(t, "mon", active.Peer)
	assert.True(t, epoch.Equal(active.StartedAt))
}

func TestRelayDropsIllegalForwards(t *testing.T) {
	f := newRelayFixture(t)

	assert.ErrorIs(t, f.relay.Accept("mon", model.CallControlRequest{To: "rav"}), errs.ErrInvalidTransition)
	assert.ErrorIs(t, f.relay.Hangup("rav", model.CallControlRequest{To: "mon"}), errs.ErrInvalidTransition)
	assert.ErrorIs(t, f.relay.Candidate("rav", model.CandidateRequest{To: "mon", Candidate: json.RawMessage(`{}`)}), errs.ErrInvalidTransition)

	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVideo}))
	assert.ErrorIs(t, f.relay.Accept("mon", model.CallControlRequest{To: "mon"}), errs.ErrInvalidTransition, "wrong addressee")
	assert.ErrorIs(t, f.relay.Accept("rav", model.CallControlRequest{To: "mon"}), errs.ErrInvalidTransition, "caller cannot accept")

	assert.Equal(t, []string{model.EventCallIncoming}, f.out.types("mon"))
	assert.Empty(t, f.out.sent["rav"])
}

func TestRelayRejectAndHangup(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVoice}))
	require.NoError(t, f.relay.Reject("mon", model.CallControlRequest{To: "rav"}))
	assert.Equal(t, []string{model.EventCallRejected}, f.out.types("rav"))

	f.sched.Advance(5 * time.Second)
	require.NoError(t, f.relay.Initiate("mon", model.CallInitiateRequest{To: "rav", Kind: model.CallKindVideo}))
	require.NoError(t, f.relay.Accept("rav", model.CallControlRequest{To: "mon"}))
	f.sched.Advance(75 * time.Second)
	require.NoError(t, f.relay.Hangup("rav", model.CallControlRequest{To: "mon"}))

	last := f.out.sent["mon"][len(f.out.sent["mon"])-1]
	require.Equal(t, model.EventCallEnd, last.Type)
	ended := payloadOf[model.CallEnded](t, last)
	assert.Equal(t, "rav", ended.From)
	assert.Equal(t, model.EndReasonHangup, ended.Reason)
	assert.Equal(t, int64(75), ended.DurationSeconds)
}

func TestRelayCandidateIsPureForward(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVideo}))

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54400 typ host","sdpMid":"0"}`)
	require.NoError(t, f.relay.Candidate("mon", model.CandidateRequest{To: "rav", Candidate: cand}))

	fwd := payloadOf[model.Candidate](t, f.out.sent["rav"][0])
	assert.Equal(t, "mon", fwd.From)
	assert.JSONEq(t, string(cand), string(fwd.Candidate))

	assert.ErrorIs(t, f.relay.Candidate("mon", model.CandidateRequest{To: "rav"}), errs.ErrBadRequest)
}

func TestRelayFailReportsReason(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVideo}))
	require.NoError(t, f.relay.Fail("mon", model.CallControlRequest{To: "rav", Reason: "ice failed"}))

	ended := payloadOf[model.CallEnded](t, f.out.sent["rav"][0])
	assert.Equal(t, "ice failed", ended.Reason)
	assert.Equal(t, "ice failed", f.calls.Session().EndReason)
}

func TestRelayTimeoutNotifiesCallerOnce(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVideo}))

	f.sched.Advance(time.Hour)

	assert.Equal(t, []string{model.EventCallTimeout}, f.out.types("rav"))
	assert.Equal(t, []string{model.EventCallIncoming, model.EventCallEnd}, f.out.types("mon"))
	assert.Equal(t, model.CallStateIdle, f.calls.Session().State)
}

func TestRelayForceEndNotifiesCounterpart(t *testing.T) {
	f := newRelayFixture(t)
	assert.False(t, f.relay.ForceEnd("mon", model.EndReasonDisconnect))

	require.NoError(t, f.relay.Initiate("rav", model.CallInitiateRequest{To: "mon", Kind: model.CallKindVideo}))
	require.NoError(t, f.relay.Accept("mon", model.CallControlRequest{To: "rav"}))
	assert.True(t, f.relay.ForceEnd("mon", model.EndReasonDisconnect))

	last := f.out.sent["rav"][len(f.out.sent["rav"])-1]
	assert.Equal(t, model.EventCallEnd, last.Type)
	assert.Equal(t, model.EndReasonDisconnect, payloadOf[model.CallEnded](t, last).Reason)
}

func TestRelayCheckAvailability(t *testing.T) {
	f := newRelayFixture(t)
	assert.Equal(t, model.Availability{Available: true, CallAddress: "peer-mon"}, f.relay.CheckAvailability(" MON "))
	f.registry.Disconnect("mon", "sess-mon")
	assert.Equal(t, model.Availability{}, f.relay.CheckAvailability("mon"))
}
