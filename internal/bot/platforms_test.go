package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"grabbot/internal/broadcast"
	"grabbot/internal/extract"
	"grabbot/internal/ratelimit"
	"grabbot/internal/relay"
	"grabbot/internal/router"
	"grabbot/internal/stats"
	"grabbot/pkg/logx"

	kit "grabbot/internal/transport"
)

// fakeAdapter records every outbound operation.
type fakeAdapter struct {
	mu        sync.Mutex
	texts     []string
	edits     []string
	deleted   []kit.MessageRef
	media     []kit.Media
	photoURLs []string
	nextID    int
	sendErr   error
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.media = append(f.media, m)
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) SendPhotoURL(_ context.Context, to kit.ChatTarget, url string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photoURLs = append(f.photoURLs, url)
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) snapshot() (texts, edits []string, deleted []kit.MessageRef, media []kit.Media, photos []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...),
		append([]string(nil), f.edits...),
		append([]kit.MessageRef(nil), f.deleted...),
		append([]kit.Media(nil), f.media...),
		append([]string(nil), f.photoURLs...)
}

// lastEdit returns the final text of the status message, if any edit happened.
func (f *fakeAdapter) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

type testBot struct {
	bot     *Bot
	adapter *fakeAdapter
	stats   *stats.Aggregator
	gate    *ratelimit.Gate
}

// newTestBot wires a Bot against an httptest extraction API. mediaPayloads
// are served by a second test server whose URL is available via {media} in
// the API handler body.
func newTestBot(t *testing.T, apiHandler http.HandlerFunc, cooldown time.Duration) *testBot {
	t.Helper()
	api := httptest.NewServer(apiHandler)
	t.Cleanup(api.Close)

	fa := &fakeAdapter{}
	agg := stats.New(nil)
	gate := ratelimit.NewGate(cooldown)
	b := New(Deps{
		Logger:    logx.Nop(),
		Adapter:   fa,
		Gate:      gate,
		Stats:     agg,
		Extract:   extract.NewClient(api.URL, 0, logx.Nop()),
		Relay:     relay.New(fa, 0, logx.Nop()),
		Broadcast: broadcast.New(fa, 1000, logx.Nop()),
	})
	return &testBot{bot: b, adapter: fa, stats: agg, gate: gate}
}

func mediaFiles(t *testing.T, payloads map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := payloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRequest(fromID int64, admin bool, adapter kit.Adapter, args ...string) *router.Request {
	return &router.Request{
		Update: kit.Update{
			Kind:    kit.UpdateMessage,
			Message: &kit.Message{ID: 1, ChatID: fromID, FromID: fromID, FromUsername: "user", Text: "/x"},
		},
		Chat:    kit.ChatTarget{ChatID: fromID},
		FromID:  fromID,
		Admin:   admin,
		Args:    args,
		Adapter: adapter,
		Logger:  logx.Nop(),
	}
}

func findPlatform(t *testing.T, command string) Platform {
	t.Helper()
	for _, p := range Platforms {
		if p.Command == command {
			return p
		}
	}
	t.Fatalf("unknown platform %s", command)
	return Platform{}
}

func TestPlatformHandlerUsageWithoutArgs(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("API must not be called without a link argument")
	}, 7*time.Second)

	h := tb.bot.platformHandler(findPlatform(t, "instagram"))
	if err := h(context.Background(), newRequest(7, false, tb.adapter)); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	texts, _, _, _, _ := tb.adapter.snapshot()
	if len(texts) != 1 || !strings.Contains(texts[0], "Usage:") {
		t.Fatalf("texts = %v, want usage reply", texts)
	}
	if s := tb.stats.Snapshot(); s.Total != 0 {
		t.Fatalf("stats recorded %d requests for a usage reply", s.Total)
	}
	// A usage reply must not consume the cooldown.
	if ok, _ := tb.gate.Check(7, false); !ok {
		t.Fatal("cooldown consumed by argument-less invocation")
	}
}

func TestPlatformHandlerCooldownReply(t *testing.T) {
	t.Parallel()
	files := mediaFiles(t, map[string][]byte{"/a.jpg": []byte("img")})
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"success":true,"urls":["%s/a.jpg"]}`, files.URL)
	}, time.Hour)

	h := tb.bot.platformHandler(findPlatform(t, "instagram"))
	ctx := context.Background()
	if err := h(ctx, newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	if err := h(ctx, newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("second call error: %v", err)
	}

	texts, _, _, media, _ := tb.adapter.snapshot()
	if len(media) != 1 {
		t.Fatalf("sent %d media, want 1 (second call must be gated)", len(media))
	}
	last := texts[len(texts)-1]
	if !strings.Contains(last, "wait") {
		t.Fatalf("last text = %q, want cooldown notice", last)
	}
	if s := tb.stats.Snapshot(); s.Total != 1 {
		t.Fatalf("stats Total = %d, want 1 (gated attempt unrecorded)", s.Total)
	}
}

func TestPlatformHandlerAdminBypassesCooldown(t *testing.T) {
	t.Parallel()
	files := mediaFiles(t, map[string][]byte{"/a.jpg": []byte("img")})
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"success":true,"urls":["%s/a.jpg"]}`, files.URL)
	}, time.Hour)

	h := tb.bot.platformHandler(findPlatform(t, "instagram"))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h(ctx, newRequest(99, true, tb.adapter, "link")); err != nil {
			t.Fatalf("call %d error: %v", i, err)
		}
	}
	_, _, _, media, _ := tb.adapter.snapshot()
	if len(media) != 3 {
		t.Fatalf("sent %d media, want 3", len(media))
	}
}

func TestMediaListFlowDeliversAndCleansUp(t *testing.T) {
	t.Parallel()
	files := mediaFiles(t, map[string][]byte{
		"/a.jpg": []byte("img"),
		"/b.mp4": []byte("vid"),
	})
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"success":true,"urls":["%s/a.jpg","%s/b.mp4"]}`, files.URL, files.URL)
	}, 0)

	h := tb.bot.platformHandler(findPlatform(t, "instagram"))
	if err := h(context.Background(), newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	_, _, deleted, media, _ := tb.adapter.snapshot()
	if len(media) != 2 {
		t.Fatalf("sent %d media, want 2", len(media))
	}
	if media[0].Kind != kit.MediaPhoto || media[1].Kind != kit.MediaVideo {
		t.Fatalf("kinds = %s/%s, want photo/video", media[0].Kind, media[1].Kind)
	}
	if !strings.Contains(media[0].Caption, "Instagram Media 1") {
		t.Fatalf("caption = %q", media[0].Caption)
	}
	if media[0].FileName != "ig.jpg" {
		t.Fatalf("FileName = %s, want ig.jpg", media[0].FileName)
	}
	if len(deleted) != 1 {
		t.Fatalf("status message should be deleted after full inline delivery, deleted = %v", deleted)
	}
	s := tb.stats.Snapshot()
	if s.Success != 1 || s.Failure != 0 {
		t.Fatalf("stats = %+v, want one success", s)
	}
}

func TestMediaListFlowDefersOversized(t *testing.T) {
	t.Parallel()
	big := []byte(strings.Repeat("x", relay.MaxPhotoBytes+1))
	files := mediaFiles(t, map[string][]byte{
		"/small.jpg": []byte("img"),
		"/big.jpg":   big,
	})
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"success":true,"urls":["%s/small.jpg","%s/big.jpg"]}`, files.URL, files.URL)
	}, 0)

	h := tb.bot.platformHandler(findPlatform(t, "instagram"))
	if err := h(context.Background(), newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	_, _, deleted, media, _ := tb.adapter.snapshot()
	if len(media) != 1 {
		t.Fatalf("sent %d media inline, want 1", len(media))
	}
	if len(deleted) != 0 {
		t.Fatal("status message must be kept for the fallback links")
	}
	last := tb.adapter.lastEdit()
	if !strings.Contains(last, "/big.jpg") || !strings.Contains(last, "<a href=") {
		t.Fatalf("final status = %q, want link fallback", last)
	}
	// The fallback reports what did go through, not just the leftovers.
	if !strings.Contains(last, "✅ 1 sent.") {
		t.Fatalf("final status = %q, want delivered count", last)
	}
	// API produced media, so the request still counts as a success.
	if s := tb.stats.Snapshot(); s.Success != 1 {
		t.Fatalf("stats = %+v, want success", s)
	}
}

func TestMediaListFlowAPIError(t *testing.T) {
	t.Parallel()
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":false,"error":"private account"}`))
	}, 0)

	h := tb.bot.platformHandler(findPlatform(t, "instagram"))
	if err := h(context.Background(), newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	last := tb.adapter.lastEdit()
	if !strings.HasPrefix(last, "❌") || !strings.Contains(last, "private account") {
		t.Fatalf("final status = %q, want upstream error", last)
	}
	if s := tb.stats.Snapshot(); s.Failure != 1 || s.Success != 0 {
		t.Fatalf("stats = %+v, want one failure", s)
	}
}

func TestVideoFlowDeliversWithThumbnail(t *testing.T) {
	t.Parallel()
	files := mediaFiles(t, map[string][]byte{"/v.mp4": []byte("vid")})
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w,
			`{"success":true,"data":[{"title":"my clip","thumbnail":"https://cdn/t.jpg","downloadLinks":[{"link":"%s/v.mp4"}]}]}`,
			files.URL)
	}, 0)

	h := tb.bot.platformHandler(findPlatform(t, "tiktok"))
	if err := h(context.Background(), newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	_, _, deleted, media, photos := tb.adapter.snapshot()
	if len(photos) != 1 || photos[0] != "https://cdn/t.jpg" {
		t.Fatalf("photos = %v, want thumbnail", photos)
	}
	if len(media) != 1 || media[0].Kind != kit.MediaVideo {
		t.Fatalf("media = %v, want one video", media)
	}
	if media[0].Caption != "<b>my clip</b>" {
		t.Fatalf("caption = %q", media[0].Caption)
	}
	if len(deleted) != 1 {
		t.Fatal("status message should be deleted after inline delivery")
	}
	if s := tb.stats.Snapshot(); s.Success != 1 {
		t.Fatalf("stats = %+v, want success", s)
	}
}

func TestVideoFlowOversizedIsFailure(t *testing.T) {
	t.Parallel()
	files := mediaFiles(t, map[string][]byte{
		"/v.mp4": []byte(strings.Repeat("x", relay.MaxVideoBytes+1)),
	})
	tb := newTestBot(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w,
			`{"success":true,"data":[{"title":"big","downloadLinks":[{"link":"%s/v.mp4"}]}]}`,
			files.URL)
	}, 0)

	h := tb.bot.platformHandler(findPlatform(t, "tiktok"))
	if err := h(context.Background(), newRequest(7, false, tb.adapter, "link")); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	last := tb.adapter.lastEdit()
	if !strings.Contains(last, "/v.mp4") {
		t.Fatalf("final status = %q, want fallback link", last)
	}
	// A video that could not be delivered inline is a failed request.
	if s := tb.stats.Snapshot(); s.Failure != 1 || s.Success != 0 {
		t.Fatalf("stats = %+v, want one failure", s)
	}
}

func TestMediaKindFromURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		kind kit.MediaKind
	}{
		{url: "https://cdn/a.jpg", kind: kit.MediaPhoto},
		{url: "https://cdn/a.MP4", kind: kit.MediaVideo},
		{url: "https://cdn/a.mp4?token=1", kind: kit.MediaVideo},
		{url: "https://cdn/a.png#frag", kind: kit.MediaPhoto},
	}
	for _, tt := range tests {
		if got := mediaKindFromURL(tt.url); got != tt.kind {
			t.Errorf("mediaKindFromURL(%q) = %s, want %s", tt.url, got, tt.kind)
		}
	}
}
