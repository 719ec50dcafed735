package util

import (
	"sync"
	"time"
)

// IdleTimer fires once nothing has held it for the configured timeout.
// It starts armed: with no holders, C fires after the timeout.
//
// Example usage:
//
//	idle := NewIdleTimer(30 * time.Second)
//	defer idle.Stop()
//
//	onTrackStart := func() { idle.Acquire() }
//	onTrackEnd := func() { idle.Release() }
//
//	<-idle.C() // nobody active for 30s
type IdleTimer struct {
	timeout time.Duration
	timer   *time.Timer
	mu      sync.Mutex
	holders int
	stopped bool
}

func NewIdleTimer(timeout time.Duration) *IdleTimer {
	return &IdleTimer{
		timeout: timeout,
		timer:   time.NewTimer(timeout),
	}
}

// Acquire registers a holder and disarms the timer.
func (t *IdleTimer) Acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}

	t.holders++
	t.disarm()
}

// Release drops a holder; the last one out re-arms the timer.
func (t *IdleTimer) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.holders == 0 {
		return
	}

	t.holders--
	if t.holders == 0 {
		t.disarm()
		t.timer.Reset(t.timeout)
	}
}

// Holders returns the number of current holders.
func (t *IdleTimer) Holders() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.holders
}

func (t *IdleTimer) C() <-chan time.Time {
	return t.timer.C
}

// Stop disarms the timer for good. Safe to call multiple times.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.stopped {
		t.timer.Stop()
		t.stopped = true
	}
}

// disarm stops the timer and drains a pending fire.
func (t *IdleTimer) disarm() {
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}
