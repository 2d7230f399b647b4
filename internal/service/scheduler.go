package service

import "time"

// Scheduler runs fn after d on the hub loop. The returned func cancels it;
// after cancel returns, fn is guaranteed not to run.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// loopScheduler posts expired timers back into the hub's task channel.
// Both cancel and the posted task run on the loop goroutine, so stopped needs no lock.
type loopScheduler struct {
	tasks chan<- func()
	done  <-chan struct{}
}

func (s *loopScheduler) Schedule(d time.Duration, fn func()) func() {
	stopped := false
	t := time.AfterFunc(d, func() {
		task := func() {
			if !stopped {
				fn()
			}
		}
		select {
		case s.tasks <- task:
		case <-s.done:
		}
	})
	return func() {
		stopped = true
		t.Stop()
	}
}
