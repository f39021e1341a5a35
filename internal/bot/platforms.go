package bot

import (
	"context"
	"fmt"
	"strings"

	"grabbot/internal/relay"
	"grabbot/internal/router"
	"grabbot/pkg/logx"
	"grabbot/pkg/tgui"

	kit "grabbot/internal/transport"
)

// Flow selects the extraction response shape for a platform.
type Flow int

const (
	// FlowMediaList platforms return a flat list of direct media URLs.
	FlowMediaList Flow = iota
	// FlowVideos platforms return records with title, thumbnail and
	// download links; only the first record's first link is delivered.
	FlowVideos
)

type Platform struct {
	Command  string // bot command word
	Title    string // shown in captions and /start listing
	Endpoint string // extraction API path segment
	Flow     Flow
	Kind     kit.MediaKind     // media kind for FlowVideos delivery
	Prefix   string            // filename prefix for delivered files
	Extra    map[string]string // extra query params for the endpoint
}

// Platforms is the supported download surface, in /start listing order.
var Platforms = []Platform{
	{Command: "instagram", Title: "Instagram", Endpoint: "insta", Flow: FlowMediaList, Prefix: "ig"},
	{Command: "facebook", Title: "Facebook", Endpoint: "fb", Flow: FlowMediaList, Prefix: "fb"},
	{Command: "x", Title: "X (Twitter)", Endpoint: "twitter", Flow: FlowMediaList, Prefix: "x"},
	{Command: "pinterest", Title: "Pinterest", Endpoint: "pinterest", Flow: FlowMediaList, Prefix: "pin"},
	{Command: "mediafire", Title: "MediaFire", Endpoint: "mediafire", Flow: FlowMediaList, Prefix: "mf"},
	{Command: "capcut", Title: "CapCut", Endpoint: "capcut", Flow: FlowMediaList, Prefix: "capcut"},
	{Command: "tiktok", Title: "TikTok", Endpoint: "tiktok", Flow: FlowVideos, Kind: kit.MediaVideo, Prefix: "tiktok"},
	{Command: "youtube", Title: "YouTube", Endpoint: "yt", Flow: FlowVideos, Kind: kit.MediaVideo, Prefix: "yt"},
	{Command: "spotify", Title: "Spotify", Endpoint: "spotify", Flow: FlowVideos, Kind: kit.MediaAudio, Prefix: "spotify"},
}

// platformHandler builds the handler for one platform. The shared shape:
// argument check (no gate, no stats), rate gate, status message with spinner,
// extraction, relay, then replace the status with the result.
func (b *Bot) platformHandler(p Platform) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if len(req.Args) == 0 {
			_, err := req.Adapter.SendText(ctx, req.Chat,
				"Usage: "+tgui.Code("/"+p.Command+" <link>").String(),
				&kit.SendOptions{ParseMode: kit.ParseHTML})
			return err
		}
		link := req.Args[0]

		if ok, remaining := b.gate.Check(req.FromID, req.Admin); !ok {
			_, err := req.Adapter.SendText(ctx, req.Chat,
				fmt.Sprintf("⏳ Please wait %.1fs before your next request.", remaining), nil)
			return err
		}

		b.rememberUser(ctx, req)

		status, err := req.Adapter.SendText(ctx, req.Chat, "⏳ Processing...", nil)
		if err != nil {
			return fmt.Errorf("sending status message: %w", err)
		}
		sp := relay.StartSpinner(ctx, req.Adapter, status, req.Logger)
		defer sp.Stop()

		var (
			report relay.Report
			extErr error
		)
		switch p.Flow {
		case FlowVideos:
			report, extErr = b.runVideos(ctx, req, p, link, sp)
		default:
			report, extErr = b.runMediaList(ctx, req, p, link, sp)
		}
		sp.Stop()

		if extErr != nil {
			b.stats.Record(req.FromID, p.Command, false)
			return b.replaceStatus(ctx, req, status, "❌ "+tgui.Esc(extErr.Error()).String(), nil)
		}

		// Media-list requests count as successful once the API produced
		// media, even if every item fell back to a link. Video requests
		// count only on inline delivery, handled in runVideos.
		if p.Flow != FlowVideos {
			b.stats.Record(req.FromID, p.Command, true)
		}

		if len(report.Deferred) == 0 {
			// Everything went inline; the status message has served its
			// purpose.
			if err := req.Adapter.DeleteMessage(ctx, status); err != nil {
				req.Logger.Debug("deleting status message failed", logx.Err(err))
			}
			return nil
		}
		return b.replaceStatus(ctx, req, status, deferredText(report), &kit.SendOptions{
			ParseMode:      kit.ParseHTML,
			DisablePreview: true,
		})
	}
}

func (b *Bot) runMediaList(ctx context.Context, req *router.Request, p Platform, link string, sp *relay.Spinner) (relay.Report, error) {
	urls, err := b.extract.MediaList(ctx, p.Endpoint, link, p.Extra)
	if err != nil {
		return relay.Report{}, err
	}
	items := make([]relay.Item, 0, len(urls))
	for i, u := range urls {
		items = append(items, relay.Item{
			URL:            u,
			Kind:           mediaKindFromURL(u),
			Caption:        tgui.B(fmt.Sprintf("%s Media %d", p.Title, i+1)).String(),
			FileNamePrefix: p.Prefix,
		})
	}
	return b.relay.DeliverAll(ctx, req.Chat, sp, items), nil
}

func (b *Bot) runVideos(ctx context.Context, req *router.Request, p Platform, link string, sp *relay.Spinner) (relay.Report, error) {
	videos, err := b.extract.Videos(ctx, p.Endpoint, link, p.Extra)
	if err != nil {
		return relay.Report{}, err
	}
	v := videos[0]

	if v.Thumbnail != "" {
		if _, err := req.Adapter.SendPhotoURL(ctx, req.Chat, v.Thumbnail); err != nil {
			req.Logger.Debug("thumbnail send failed", logx.Err(err))
		}
	}

	sp.SetStage("Downloading...")
	outcome := b.relay.Deliver(ctx, req.Chat, relay.Item{
		URL:            v.DownloadLinks[0].Link,
		Kind:           p.Kind,
		Caption:        tgui.B(v.Title).String(),
		FileNamePrefix: p.Prefix,
	})
	var report relay.Report
	if outcome.Delivered {
		report.Delivered = 1
		b.stats.Record(req.FromID, p.Command, true)
	} else {
		report.Deferred = []string{outcome.DeferredURL}
		b.stats.Record(req.FromID, p.Command, false)
	}
	return report, nil
}

// replaceStatus rewrites the status message in place, falling back to a
// fresh message when the edit fails (deleted, too old).
func (b *Bot) replaceStatus(ctx context.Context, req *router.Request, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := req.Adapter.EditText(ctx, ref, text, opt); err == nil {
		return nil
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

func deferredText(r relay.Report) string {
	lines := make([]tgui.H, 0, len(r.Deferred)+2)
	if r.Delivered > 0 {
		lines = append(lines, tgui.Esc(fmt.Sprintf("✅ %d sent.", r.Delivered)))
	}
	lines = append(lines, tgui.B("Too large to send here. Direct links:"))
	for i, u := range r.Deferred {
		lines = append(lines, tgui.Link(fmt.Sprintf("Media %d", i+1), u))
	}
	return tgui.Lines(lines...).String()
}

func mediaKindFromURL(u string) kit.MediaKind {
	base := u
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if strings.HasSuffix(strings.ToLower(base), ".mp4") {
		return kit.MediaVideo
	}
	return kit.MediaPhoto
}
