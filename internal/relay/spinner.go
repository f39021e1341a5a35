package relay

import (
	"context"
	"sync"
	"time"

	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 300 * time.Millisecond

// Spinner animates a status message while a command's relay phase is in
// flight. It knows nothing about actual progress (it is a liveness signal,
// not a progress bar) and owns the status message text until stopped.
//
// Stop is idempotent and must always run when the relay phase ends, success
// or failure; being cancelled is the spinner's normal way to end and is never
// reported as an error. Edit failures are swallowed too: the status message
// may legitimately be gone already.
type Spinner struct {
	adapter kit.Adapter
	ref     kit.MessageRef
	log     logx.Logger

	mu    sync.Mutex
	stage string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartSpinner spawns the animation goroutine scoped to ctx. The caller must
// call Stop (typically via defer) when the relay phase completes.
func StartSpinner(ctx context.Context, adapter kit.Adapter, ref kit.MessageRef, log logx.Logger) *Spinner {
	if log.IsZero() {
		log = logx.Nop()
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Spinner{
		adapter: adapter,
		ref:     ref,
		log:     log,
		stage:   "Processing...",
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run(sctx)
	return s
}

// SetStage replaces the text shown next to the animation frame.
func (s *Spinner) SetStage(text string) {
	s.mu.Lock()
	s.stage = text
	s.mu.Unlock()
}

// Stop cancels the animation and waits for the goroutine to exit, so no edit
// can race a later edit or delete of the status message.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Spinner) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	// The first frame replaces the plain status text right away; waiting a
	// full tick would leave the message static for 300ms.
	for i := 0; ; i++ {
		s.mu.Lock()
		stage := s.stage
		s.mu.Unlock()

		frame := spinnerFrames[i%len(spinnerFrames)]
		if err := s.adapter.EditText(ctx, s.ref, frame+" "+stage, nil); err != nil {
			// The message may be deleted or rate-limited mid-animation.
			s.log.Debug("spinner edit failed", logx.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
