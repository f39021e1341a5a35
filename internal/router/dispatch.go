package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"time"

	rtsup "grabbot/internal/runtime/supervisor"
	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

const genericFailureText = "⚠️ Something went wrong. Please try again later."

// DispatchLoop consumes inbound updates until ctx is done, running each
// matched command on a bounded worker pool so one slow download never stalls
// other users.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", workers))

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go0("command.worker."+strconv.Itoa(idx), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		})
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			sup.Cancel()
			return nil
		case up, ok := <-updates:
			if !ok {
				sup.Cancel()
				return nil
			}
			m.routeMessage(ctx, up)
		}
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	// Strip the "@botname" suffix used in groups.
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)

	cmd, ok := m.lookup(word)
	if !ok {
		return
	}

	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		FromName: msg.FromName,
		Command:  word,
		Args:     parts[1:],
		Admin:    m.IsAdmin(msg.FromID),
		Adapter:  m.adapter,
		Logger:   m.log.With(logx.String("cmd", word), logx.Int64("from_id", msg.FromID)),
	}

	// Admin gate runs before anything else and short-circuits.
	if cmd.Access == AccessAdminOnly && !req.Admin {
		m.enqueue(func() {
			_, _ = m.adapter.SendText(ctx, req.Chat, "Admin only.", nil)
		})
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(req.Logger),
		MWRequestLog(req.Logger),
		MWTimeout(timeout),
	)

	m.enqueue(func() {
		if err := h(ctx, req); err != nil {
			// Handlers resolve expected failures themselves; an error here is
			// unexpected. Tell the user something went wrong, once.
			_, _ = m.adapter.SendText(ctx, req.Chat, genericFailureText, nil)
		}
	})
}

func (m *Manager) enqueue(fn func()) {
	select {
	case m.jobs <- fn:
	default:
		m.log.Warn("command queue full; dropping update")
	}
}
