package telegram

import (
	"context"
	"hash/fnv"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

// UpdateMenuCommands updates Telegram's global /menu command list
// (setMyCommands). Best-effort: only performs a network call when the
// command list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: clipDescription(d)})
		// Telegram caps the menu at 100 entries.
		if len(out) >= 100 {
			break
		}
	}

	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

// clipDescription enforces Telegram's 256-byte description cap without
// cutting a UTF-8 sequence in half.
func clipDescription(d string) string {
	if len(d) <= 256 {
		return d
	}
	cut := 256
	for cut > 0 && !utf8.RuneStart(d[cut]) {
		cut--
	}
	return d[:cut]
}
