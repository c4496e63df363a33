package transport

import (
	"context"
	"errors"
)

// ErrRecipientBlocked marks a delivery the recipient refused (bot blocked,
// account deactivated). Broadcast records these as Skipped, not Failed.
var ErrRecipientBlocked = errors.New("recipient blocked the bot")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateDocument UpdateKind = "document"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Document *Document
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

// Document is an inbound file attachment (used by /import).
type Document struct {
	ChatID   int64
	FromID   int64
	FromName string
	FileName string
	FileID   string
	Caption  string
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound delivery boundary. One call is one attempt; any
// retry policy lives on the transport side, never in the core.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// FileFetcher retrieves the bytes of an uploaded document.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// SendFiler pushes a generated file (CSV export) to a chat.
type SendFiler interface {
	SendFile(ctx context.Context, to ChatTarget, name string, data []byte, caption string) error
}

type Adapter interface {
	Sender
	FileFetcher
	SendFiler

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
