// Package timer adapts the teacher's Timer type (device/timers.go: a
// "stopped timer" wrapping time.AfterFunc, with idempotent Mod/Del and a
// pending flag guarding against a fired-but-already-cancelled callback
// racing a fresh Mod) onto an injectable clock.Clock, so the peer
// package's request/resend/ping/disconnect/flush/fragment-timeout timers can be
// driven by a clock.Mock in tests instead of wall-clock time.
package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a resettable, idempotently-cancellable one-shot callback.
type Timer struct {
	clock       clock.Clock
	inner       *clock.Timer
	runningMu   sync.Mutex
	modifyingMu sync.RWMutex
	isPending   bool
}

// New creates a stopped Timer that will invoke fn after a future Mod call.
func New(c clock.Clock, fn func()) *Timer {
	t := &Timer{clock: c}
	t.inner = c.AfterFunc(time.Hour, func() {
		t.runningMu.Lock()
		defer t.runningMu.Unlock()
		t.modifyingMu.Lock()
		if !t.isPending {
			t.modifyingMu.Unlock()
			return
		}
		t.isPending = false
		t.modifyingMu.Unlock()
		fn()
	})
	t.inner.Stop()
	return t
}

// Mod (re)schedules the timer to fire after d, cancelling any pending fire.
func (t *Timer) Mod(d time.Duration) {
	t.modifyingMu.Lock()
	t.isPending = true
	t.inner.Reset(d)
	t.modifyingMu.Unlock()
}

// Del cancels a pending fire. Idempotent.
func (t *Timer) Del() {
	t.modifyingMu.Lock()
	t.isPending = false
	t.inner.Stop()
	t.modifyingMu.Unlock()
}

// DelSync cancels the timer and blocks until any in-flight callback
// invocation has returned, used during peer disposal so no timer callback
// can touch peer state after dispose completes.
func (t *Timer) DelSync() {
	t.Del()
	t.runningMu.Lock()
	t.Del()
	t.runningMu.Unlock()
}

func (t *Timer) IsPending() bool {
	t.modifyingMu.RLock()
	defer t.modifyingMu.RUnlock()
	return t.isPending
}
