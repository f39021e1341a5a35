// Package transport defines chat-platform-neutral types and the Adapter
// interface the rest of the bot is written against. The Telegram
// implementation lives in transport/telegram.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// ParseHTML requests Telegram HTML formatting for outgoing text.
const ParseHTML = "HTML"

type SendOptions struct {
	ParseMode      string // ParseHTML or empty for plain text
	DisablePreview bool
}

// MediaKind selects how binary payloads are presented to the chat platform.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Ext returns the filename extension conventionally used for the kind.
func (k MediaKind) Ext() string {
	switch k {
	case MediaPhoto:
		return ".jpg"
	case MediaAudio:
		return ".mp3"
	default:
		return ".mp4"
	}
}

// Media is a binary payload ready to be sent inline.
type Media struct {
	Kind     MediaKind
	Data     []byte
	Caption  string // HTML
	FileName string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// SendMedia uploads m.Data inline as m.Kind. SendPhotoURL sends a photo by
	// remote URL (no local fetch); used for best-effort thumbnails.
	SendMedia(ctx context.Context, to ChatTarget, m Media) (MessageRef, error)
	SendPhotoURL(ctx context.Context, to ChatTarget, url string) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
