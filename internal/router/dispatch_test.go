package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

type recordingAdapter struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *recordingAdapter) Stop(context.Context) error                     { return nil }
func (a *recordingAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{}, nil
}
func (a *recordingAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (a *recordingAdapter) DeleteMessage(context.Context, kit.MessageRef) error { return nil }
func (a *recordingAdapter) SendMedia(context.Context, kit.ChatTarget, kit.Media) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (a *recordingAdapter) SendPhotoURL(context.Context, kit.ChatTarget, string) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (a *recordingAdapter) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

func textUpdate(fromID int64, text string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:     10,
			ChatID: fromID,
			FromID: fromID,
			Text:   text,
		},
	}
}

// runPending executes queued jobs synchronously.
func runPending(m *Manager) int {
	n := 0
	for {
		select {
		case job := <-m.jobs:
			job()
			n++
		default:
			return n
		}
	}
}

func TestRouteMessageParsesCommandAndArgs(t *testing.T) {
	t.Parallel()
	ad := &recordingAdapter{}
	m := NewManager(logx.Nop(), ad, nil)

	var got *Request
	m.Register(context.Background(), Command{
		Name: "instagram",
		Handle: func(_ context.Context, req *Request) error {
			got = req
			return nil
		},
	})

	m.routeMessage(context.Background(), textUpdate(7, "/Instagram@SomeBot https://example.com/p/1"))
	if n := runPending(m); n != 1 {
		t.Fatalf("ran %d jobs, want 1", n)
	}
	if got == nil {
		t.Fatal("handler not invoked")
	}
	if got.Command != "instagram" {
		t.Fatalf("Command = %s, want instagram", got.Command)
	}
	if len(got.Args) != 1 || got.Args[0] != "https://example.com/p/1" {
		t.Fatalf("Args = %v", got.Args)
	}
	if got.Admin {
		t.Fatal("user 7 should not be admin")
	}
}

func TestRouteMessageIgnoresNonCommands(t *testing.T) {
	t.Parallel()
	m := NewManager(logx.Nop(), &recordingAdapter{}, nil)
	m.Register(context.Background(), Command{
		Name:   "instagram",
		Handle: func(context.Context, *Request) error { return nil },
	})

	m.routeMessage(context.Background(), textUpdate(7, "just chatting"))
	m.routeMessage(context.Background(), textUpdate(7, "/unknowncmd"))
	if n := runPending(m); n != 0 {
		t.Fatalf("ran %d jobs, want 0", n)
	}
}

func TestAdminGateBlocksNonAdmins(t *testing.T) {
	t.Parallel()
	ad := &recordingAdapter{}
	m := NewManager(logx.Nop(), ad, []int64{99})

	called := false
	m.Register(context.Background(), Command{
		Name:   "broadcast",
		Access: AccessAdminOnly,
		Handle: func(context.Context, *Request) error {
			called = true
			return nil
		},
	})

	m.routeMessage(context.Background(), textUpdate(7, "/broadcast hi"))
	runPending(m)
	if called {
		t.Fatal("handler must not run for non-admins")
	}
	texts := ad.sentTexts()
	if len(texts) != 1 || texts[0] != "Admin only." {
		t.Fatalf("texts = %v, want single admin-only reply", texts)
	}

	m.routeMessage(context.Background(), textUpdate(99, "/broadcast hi"))
	runPending(m)
	if !called {
		t.Fatal("handler should run for admins")
	}
}

func TestHandlerErrorProducesGenericReply(t *testing.T) {
	t.Parallel()
	ad := &recordingAdapter{}
	m := NewManager(logx.Nop(), ad, nil)
	m.Register(context.Background(), Command{
		Name:   "instagram",
		Handle: func(context.Context, *Request) error { return errors.New("boom") },
	})

	m.routeMessage(context.Background(), textUpdate(7, "/instagram x"))
	runPending(m)
	texts := ad.sentTexts()
	if len(texts) != 1 || texts[0] != genericFailureText {
		t.Fatalf("texts = %v, want generic failure", texts)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	t.Parallel()
	ad := &recordingAdapter{}
	m := NewManager(logx.Nop(), ad, nil)
	m.Register(context.Background(), Command{
		Name:   "instagram",
		Handle: func(context.Context, *Request) error { panic("handler bug") },
	})

	m.routeMessage(context.Background(), textUpdate(7, "/instagram x"))
	runPending(m) // must not propagate the panic
	texts := ad.sentTexts()
	if len(texts) != 1 || texts[0] != genericFailureText {
		t.Fatalf("texts = %v, want generic failure", texts)
	}
}

func TestSetAdmins(t *testing.T) {
	t.Parallel()
	m := NewManager(logx.Nop(), &recordingAdapter{}, []int64{1})
	if !m.IsAdmin(1) || m.IsAdmin(2) {
		t.Fatal("initial admin set wrong")
	}
	m.SetAdmins([]int64{2})
	if m.IsAdmin(1) || !m.IsAdmin(2) {
		t.Fatal("SetAdmins should replace the set")
	}
}
