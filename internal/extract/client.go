// Package extract calls the remote media-extraction API and normalizes its
// per-platform response shapes. One call is one attempt: any transport
// problem, non-2xx status, malformed body, or upstream-reported failure comes
// back as an error value; nothing panics past this boundary and nothing is
// retried.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grabbot/pkg/logx"
)

// ErrUpstream tags failures the API itself reported (success=false), as
// opposed to transport-level problems.
var ErrUpstream = errors.New("extraction failed")

const maxResponseBytes = 4 << 20 // sanity cap for API JSON bodies

type Client struct {
	baseURL string
	http    *http.Client
	log     logx.Logger
}

func NewClient(baseURL string, timeout time.Duration, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Video is one resolved video record (tiktok-style endpoints).
type Video struct {
	Title         string         `json:"title"`
	Thumbnail     string         `json:"thumbnail"`
	DownloadLinks []DownloadLink `json:"downloadLinks"`
}

type DownloadLink struct {
	Link    string `json:"link"`
	Quality string `json:"quality"`
}

// mediaListResponse is the instagram-style shape: an ordered list of media URLs.
type mediaListResponse struct {
	Success bool     `json:"success"`
	URLs    []string `json:"urls"`
	Error   string   `json:"error"`
}

// videosResponse is the tiktok-style shape: a list of video records.
type videosResponse struct {
	Success bool    `json:"success"`
	Data    []Video `json:"data"`
	Error   string  `json:"error"`
}

// MediaList resolves a link into an ordered list of media URLs.
func (c *Client) MediaList(ctx context.Context, endpoint, link string, extra map[string]string) ([]string, error) {
	body, err := c.get(ctx, endpoint, link, extra)
	if err != nil {
		return nil, err
	}
	var resp mediaListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if !resp.Success || len(resp.URLs) == 0 {
		return nil, upstreamErr(resp.Error)
	}
	return resp.URLs, nil
}

// Videos resolves a link into video records with download links.
func (c *Client) Videos(ctx context.Context, endpoint, link string, extra map[string]string) ([]Video, error) {
	body, err := c.get(ctx, endpoint, link, extra)
	if err != nil {
		return nil, err
	}
	var resp videosResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if !resp.Success || len(resp.Data) == 0 {
		return nil, upstreamErr(resp.Error)
	}
	// Only the first record is ever consumed; trailing records may be
	// malformed without making the response unusable.
	first := resp.Data[0]
	if len(first.DownloadLinks) == 0 || strings.TrimSpace(first.DownloadLinks[0].Link) == "" {
		return nil, fmt.Errorf("%w: no download link", ErrUpstream)
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint, link string, extra map[string]string) ([]byte, error) {
	q := url.Values{}
	q.Set("url", link)
	for k, v := range extra {
		q.Set(k, v)
	}
	full := c.baseURL + "/" + strings.TrimLeft(endpoint, "/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("api call failed", logx.String("endpoint", endpoint), logx.Err(err))
		return nil, fmt.Errorf("api unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		c.log.Warn("api call rejected", logx.String("endpoint", endpoint), logx.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	c.log.Debug("api call ok", logx.String("endpoint", endpoint), logx.Int("bytes", len(body)), logx.Duration("dur", time.Since(start)))
	return body, nil
}

func upstreamErr(msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "no media found"
	}
	return fmt.Errorf("%w: %s", ErrUpstream, msg)
}
