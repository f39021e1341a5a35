package bot

import (
	"context"
	"fmt"
	"time"

	"grabbot/internal/router"
	"grabbot/pkg/tgui"

	kit "grabbot/internal/transport"
)

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	b.rememberUser(ctx, req)

	lines := []tgui.H{
		tgui.B("👋 Hi " + req.FromName + "!"),
		tgui.Esc("Send me a platform command followed by a link and I will fetch the media for you."),
		tgui.B("Supported platforms:"),
	}
	for _, p := range Platforms {
		lines = append(lines, tgui.JoinH(" - ", tgui.Code("/"+p.Command+" <link>"), tgui.Esc(p.Title)))
	}
	lines = append(lines, tgui.Esc("Files over the Telegram upload limit come back as direct links."))
	_, err := req.Adapter.SendText(ctx, req.Chat, tgui.Lines(lines...).String(), &kit.SendOptions{
		ParseMode:      kit.ParseHTML,
		DisablePreview: true,
	})
	return err
}

func (b *Bot) handleAbout(ctx context.Context, req *router.Request) error {
	b.rememberUser(ctx, req)

	s := b.stats.Snapshot()
	text := tgui.Lines(
		tgui.B("🤖 Media fetch bot"),
		tgui.Esc(fmt.Sprintf("Uptime: %s", s.Uptime.Round(time.Second))),
		tgui.Esc(fmt.Sprintf("Requests served: %d", s.Total)),
		tgui.Esc(fmt.Sprintf("Platforms: %d", len(Platforms))),
	).String()
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: kit.ParseHTML})
	return err
}
