package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/psds-microservice/call-relay-service/internal/model"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeTimer struct {
	at   time.Duration
	fn   func()
	done bool
}

// fakeScheduler is a manual clock: timers fire only from Advance, on the calling goroutine.
// With leaky set, cancel is ignored, which simulates a timer that already escaped.
type fakeScheduler struct {
	elapsed time.Duration
	timers  []*fakeTimer
	leaky   bool
}

func (f *fakeScheduler) Schedule(d time.Duration, fn func()) func() {
	t := &fakeTimer{at: f.elapsed + d, fn: fn}
	f.timers = append(f.timers, t)
	return func() {
		if !f.leaky {
			t.done = true
		}
	}
}

func (f *fakeScheduler) Now() time.Time { return epoch.Add(f.elapsed) }

// Advance moves the clock forward and fires due timers in deadline order.
func (f *fakeScheduler) Advance(d time.Duration) {
	target := f.elapsed + d
	for {
		var next *fakeTimer
		for _, t := range f.timers {
			if !t.done && t.at <= target && (next == nil || t.at < next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.done = true
		if next.at > f.elapsed {
			f.elapsed = next.at
		}
		next.fn()
	}
	f.elapsed = target
}

func (f *fakeScheduler) Pending() int {
	n := 0
	for _, t := range f.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// recorder is a Dispatcher that keeps everything it is asked to deliver.
type recorder struct {
	sent    map[string][]*model.Envelope
	offline map[string]bool
}

func newRecorder() *recorder {
	return &recorder{sent: map[string][]*model.Envelope{}, offline: map[string]bool{}}
}

func (r *recorder) SendTo(identity string, env *model.Envelope) bool {
	if r.offline[identity] {
		return false
	}
	r.sent[identity] = append(r.sent[identity], env)
	return true
}

func (r *recorder) types(identity string) []string {
	var out []string
	for _, env := range r.sent[identity] {
		out = append(out, env.Type)
	}
	return out
}

func payloadOf[T any](t *testing.T, env *model.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v), "payload of %s", env.Type)
	return v
}
