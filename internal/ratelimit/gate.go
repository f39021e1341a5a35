// Package ratelimit implements the per-user command cooldown gate.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Gate tracks, per user, when the last accepted command ran. A user must wait
// out the cooldown window between accepted commands; privileged users bypass
// the gate entirely.
type Gate struct {
	mu     sync.Mutex
	window time.Duration
	last   map[int64]time.Time

	// now is swappable for tests.
	now func() time.Time
}

func NewGate(window time.Duration) *Gate {
	return &Gate{
		window: window,
		last:   make(map[int64]time.Time),
		now:    time.Now,
	}
}

// SetWindow updates the cooldown window (config hot reload). Already-recorded
// timestamps are kept; only future checks use the new window.
func (g *Gate) SetWindow(window time.Duration) {
	g.mu.Lock()
	g.window = window
	g.mu.Unlock()
}

// Check reports whether the user may run a command now.
//
// Privileged users always pass and leave the gate untouched. For everyone
// else: if the cooldown window has not elapsed since the user's last accepted
// command, Check returns (false, remaining seconds rounded to one decimal)
// WITHOUT updating the timestamp, so a blocked attempt never extends the
// wait. Otherwise the current time is recorded and the command is allowed.
func (g *Gate) Check(userID int64, privileged bool) (allowed bool, remaining float64) {
	if privileged {
		return true, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[userID]; ok {
		if elapsed := now.Sub(last); elapsed < g.window {
			rem := (g.window - elapsed).Seconds()
			return false, math.Round(rem*10) / 10
		}
	}
	g.last[userID] = now
	return true, 0
}
