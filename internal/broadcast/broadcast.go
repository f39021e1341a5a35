// Package broadcast sends an announcement to every known user, pacing sends
// to stay under the chat platform's outbound limits. One broadcast runs at a
// time: Idle -> Sending -> Done.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
	StateDone    State = "done"
)

// ErrBusy is returned when a broadcast is already in flight.
var ErrBusy = errors.New("broadcast already in progress")

const defaultRatePerSec = 20 // ≈50ms between sends

// Result summarizes one finished broadcast. A per-recipient failure never
// aborts the batch; it is only counted.
type Result struct {
	Total     int
	Sent      int
	Failed    int
	StartedAt time.Time
	DoneAt    time.Time
}

type Service struct {
	adapter kit.Adapter
	log     logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	state   State
	last    Result
}

func New(adapter kit.Adapter, ratePerSec int, log logx.Logger) *Service {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		state:   StateIdle,
	}
}

// SetRate replaces the send pacing (config hot reload).
func (s *Service) SetRate(ratePerSec int) {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	s.mu.Lock()
	s.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	s.mu.Unlock()
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recently completed broadcast summary.
func (s *Service) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run delivers text to every target and blocks until the batch is done (or
// ctx is cancelled, in which case the partial result is returned alongside
// ctx's error). Only one Run may be active; others get ErrBusy.
func (s *Service) Run(ctx context.Context, targets []kit.ChatTarget, text string, opt *kit.SendOptions) (Result, error) {
	s.mu.Lock()
	if s.state == StateSending {
		s.mu.Unlock()
		return Result{}, ErrBusy
	}
	s.state = StateSending
	lim := s.limiter
	s.mu.Unlock()

	res := Result{Total: len(targets), StartedAt: time.Now()}
	s.log.Info("broadcast started", logx.Int("targets", len(targets)))

	var ctxErr error
	for _, t := range targets {
		if err := lim.Wait(ctx); err != nil {
			ctxErr = err
			break
		}
		if _, err := s.adapter.SendText(ctx, t, text, opt); err != nil {
			res.Failed++
			s.log.Warn("broadcast send failed", logx.Int64("chat_id", t.ChatID), logx.Err(err))
			continue
		}
		res.Sent++
	}
	res.DoneAt = time.Now()

	s.mu.Lock()
	s.state = StateDone
	s.last = res
	s.mu.Unlock()

	fields := []logx.Field{
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", res.DoneAt.Sub(res.StartedAt)),
	}
	if res.Failed > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return res, ctxErr
}
