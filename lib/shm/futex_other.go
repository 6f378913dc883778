//go:build !linux

package shm

import "time"

// maxPollInterval caps a single sleep of the polling fallback
const maxPollInterval = 2 * time.Millisecond

// futexWait has no kernel support here, it sleeps briefly and lets the caller re-check.
func futexWait(_ *uint32, _ uint32, timeout time.Duration) {
	d := maxPollInterval
	if timeout >= 0 && timeout < d {
		d = timeout
	}
	time.Sleep(d)
}

func futexWake(_ *uint32, _ int) {}
