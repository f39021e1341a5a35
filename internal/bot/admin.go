package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grabbot/internal/broadcast"
	"grabbot/internal/router"
	"grabbot/internal/stats"
	"grabbot/pkg/logx"
	"grabbot/pkg/tgui"

	kit "grabbot/internal/transport"
)

func (b *Bot) handleStats(ctx context.Context, req *router.Request) error {
	s := b.stats.Snapshot()
	_, err := req.Adapter.SendText(ctx, req.Chat, statsText(s, b.KnownUserCount()), &kit.SendOptions{ParseMode: kit.ParseHTML})
	return err
}

func statsText(s stats.Snapshot, knownUsers int) string {
	lines := []tgui.H{
		tgui.B("📊 Bot statistics"),
		tgui.Esc(fmt.Sprintf("Uptime: %s", s.Uptime.Round(time.Second))),
		tgui.Esc(fmt.Sprintf("Users seen: %d (session %d)", knownUsers, s.Users)),
		tgui.Esc(fmt.Sprintf("Requests: %d (ok %d, failed %d)", s.Total, s.Success, s.Failure)),
		tgui.Esc(fmt.Sprintf("Success rate: %.1f%%", s.SuccessRate)),
	}
	if top := s.TopCommands(5); len(top) > 0 {
		lines = append(lines, tgui.B("Top commands:"))
		for _, c := range top {
			lines = append(lines, tgui.Esc(fmt.Sprintf("  /%s: %d", c.Name, c.Count)))
		}
	}
	return tgui.Lines(lines...).String()
}

// StatsDigest renders the same report as /stats, for the scheduled digest.
func (b *Bot) StatsDigest() string {
	return statsText(b.stats.Snapshot(), b.KnownUserCount())
}

func (b *Bot) handleBroadcast(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(strings.Join(req.Args, " "))
	if text == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat,
			"Usage: "+tgui.Code("/broadcast <text>").String(),
			&kit.SendOptions{ParseMode: kit.ParseHTML})
		return err
	}

	targets := b.knownTargets()
	if len(targets) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No known users to broadcast to yet.", nil)
		return err
	}

	status, err := req.Adapter.SendText(ctx, req.Chat,
		fmt.Sprintf("📣 Broadcasting to %d users...", len(targets)), nil)
	if err != nil {
		return fmt.Errorf("sending status message: %w", err)
	}

	res, err := b.bcast.Run(ctx, targets, text, nil)
	if errors.Is(err, broadcast.ErrBusy) {
		return b.replaceStatus(ctx, req, status, "A broadcast is already in progress.", nil)
	}
	if err != nil {
		return err
	}

	b.log.Info("broadcast finished",
		logx.Int64("admin_id", req.FromID),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed))
	return b.replaceStatus(ctx, req, status,
		fmt.Sprintf("Done! Sent: %d, Failed: %d", res.Sent, res.Failed), nil)
}
