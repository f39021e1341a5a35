// Package bot composes the command surface: per-platform download handlers,
// the public start/help/about commands, and the admin-only stats/broadcast
// commands.
package bot

import (
	"context"
	"sync"
	"time"

	"grabbot/internal/broadcast"
	"grabbot/internal/extract"
	"grabbot/internal/ratelimit"
	"grabbot/internal/relay"
	"grabbot/internal/router"
	"grabbot/internal/stats"
	"grabbot/internal/storage"
	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

type Bot struct {
	log     logx.Logger
	adapter kit.Adapter

	gate    *ratelimit.Gate
	stats   *stats.Aggregator
	extract *extract.Client
	relay   *relay.Relay
	bcast   *broadcast.Service
	store   storage.Store // may be nil (persistence disabled)

	// seen is the in-memory known-user set, seeded from the store at startup
	// so broadcasts reach users across restarts.
	seenMu sync.Mutex
	seen   map[int64]struct{}
}

type Deps struct {
	Logger    logx.Logger
	Adapter   kit.Adapter
	Gate      *ratelimit.Gate
	Stats     *stats.Aggregator
	Extract   *extract.Client
	Relay     *relay.Relay
	Broadcast *broadcast.Service
	Store     storage.Store
}

func New(d Deps) *Bot {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	b := &Bot{
		log:     d.Logger,
		adapter: d.Adapter,
		gate:    d.Gate,
		stats:   d.Stats,
		extract: d.Extract,
		relay:   d.Relay,
		bcast:   d.Broadcast,
		store:   d.Store,
		seen:    make(map[int64]struct{}),
	}
	b.seedKnownUsers()
	return b
}

func (b *Bot) seedKnownUsers() {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		b.log.Warn("loading known users failed", logx.Err(err))
		return
	}
	b.seenMu.Lock()
	for _, u := range users {
		b.seen[u.ID] = struct{}{}
	}
	b.seenMu.Unlock()
	b.log.Info("known users loaded", logx.Int("count", len(users)))
}

// rememberUser records the sender as a known user, persisting best-effort.
func (b *Bot) rememberUser(ctx context.Context, req *router.Request) {
	b.seenMu.Lock()
	b.seen[req.FromID] = struct{}{}
	b.seenMu.Unlock()

	if b.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	u := storage.User{ID: req.FromID, LastSeen: time.Now()}
	if msg := req.Update.Message; msg != nil {
		u.Username = msg.FromUsername
	}
	if err := b.store.UpsertUser(sctx, u); err != nil {
		b.log.Debug("user upsert failed", logx.Int64("user_id", req.FromID), logx.Err(err))
	}
}

func (b *Bot) knownTargets() []kit.ChatTarget {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	out := make([]kit.ChatTarget, 0, len(b.seen))
	for id := range b.seen {
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	return out
}

// KnownUserCount reports how many distinct users the bot has seen.
func (b *Bot) KnownUserCount() int {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	return len(b.seen)
}

// Commands returns the full command set for router registration.
func (b *Bot) Commands() []router.Command {
	cmds := []router.Command{
		{Name: "start", Description: "welcome and supported platforms", Handle: b.handleStart},
		{Name: "help", Description: "command list", Handle: b.handleStart},
		{Name: "about", Description: "bot status and totals", Handle: b.handleAbout},
	}
	for _, p := range Platforms {
		cmds = append(cmds, router.Command{
			Name:        p.Command,
			Description: "download from " + p.Title,
			Usage:       "/" + p.Command + " <link>",
			Handle:      b.platformHandler(p),
		})
	}
	cmds = append(cmds,
		router.Command{Name: "stats", Description: "usage statistics", Access: router.AccessAdminOnly, Handle: b.handleStats},
		router.Command{Name: "broadcast", Description: "announce to all known users", Access: router.AccessAdminOnly, Usage: "/broadcast <text>", Timeout: 30 * time.Minute, Handle: b.handleBroadcast},
	)
	return cmds
}
