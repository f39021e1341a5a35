// Package relay fetches resolved media and delivers it inline to the chat,
// degrading to a plain link whenever the payload is too large or the send
// fails. Delivery never returns an error to the caller: every media item ends
// up either Delivered or DeferredAsLink.
package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	kit "grabbot/internal/transport"
	"grabbot/pkg/logx"
)

// Inline upload limits per media kind. Anything larger is deferred as a link.
const (
	MaxVideoBytes = 50 << 20
	MaxPhotoBytes = 10 << 20
)

// Item is one media URL scheduled for delivery.
type Item struct {
	URL            string
	Kind           kit.MediaKind
	Caption        string // HTML
	FileNamePrefix string
}

// Outcome is the per-item delivery result: inline success, or a deferred
// link the caller must surface to the user.
type Outcome struct {
	Delivered   bool
	DeferredURL string
}

// Report accumulates outcomes over a batch. Delivered+len(Deferred) always
// equals the number of attempted items, and no URL appears in Deferred that
// was delivered inline.
type Report struct {
	Delivered int
	Deferred  []string
}

func (r *Report) add(o Outcome) {
	if o.Delivered {
		r.Delivered++
	} else {
		r.Deferred = append(r.Deferred, o.DeferredURL)
	}
}

type Relay struct {
	adapter kit.Adapter
	http    *http.Client
	log     logx.Logger
}

func New(adapter kit.Adapter, fetchTimeout time.Duration, log logx.Logger) *Relay {
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{
		adapter: adapter,
		http:    &http.Client{Timeout: fetchTimeout},
		log:     log,
	}
}

// Deliver fetches item.URL and sends it inline to chat. Size-policy
// rejections, fetch failures, and send failures all defer the item as a
// link; only the Outcome tells them apart from success.
func (r *Relay) Deliver(ctx context.Context, chat kit.ChatTarget, item Item) Outcome {
	limit := sizeLimit(item.Kind)

	data, err := r.fetch(ctx, item.URL, limit)
	if err != nil {
		r.log.Warn("media fetch failed; deferring as link",
			logx.String("url", item.URL), logx.String("kind", string(item.Kind)), logx.Err(err))
		return Outcome{DeferredURL: item.URL}
	}

	m := kit.Media{
		Kind:     item.Kind,
		Data:     data,
		Caption:  item.Caption,
		FileName: item.FileNamePrefix + item.Kind.Ext(),
	}
	if _, err := r.adapter.SendMedia(ctx, chat, m); err != nil {
		r.log.Warn("inline send failed; deferring as link",
			logx.String("url", item.URL), logx.String("kind", string(item.Kind)), logx.Int("bytes", len(data)), logx.Err(err))
		return Outcome{DeferredURL: item.URL}
	}
	return Outcome{Delivered: true}
}

// DeliverAll delivers items in input order, updating the progress indicator
// (if any) with a "Downloading i/n" stage per item.
func (r *Relay) DeliverAll(ctx context.Context, chat kit.ChatTarget, sp *Spinner, items []Item) Report {
	var rep Report
	for i, item := range items {
		if sp != nil {
			sp.SetStage(fmt.Sprintf("Downloading %d/%d...", i+1, len(items)))
		}
		rep.add(r.Deliver(ctx, chat, item))
	}
	return rep
}

// fetch downloads the media body, enforcing limit both pre-flight (via the
// Content-Length header, when the server sends one) and on the actual bytes
// read. An oversized body is abandoned without reading it to the end.
func (r *Relay) fetch(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("content length %d exceeds limit %d", resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("media exceeds %d byte limit", limit)
	}
	return data, nil
}

func sizeLimit(kind kit.MediaKind) int64 {
	if kind == kit.MediaPhoto {
		return MaxPhotoBytes
	}
	return MaxVideoBytes
}
