package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotStarted       = errors.New("platform adapter not started")
	ErrUnknownPlatform  = errors.New("unknown platform")
	ErrDuplicateAdapter = errors.New("adapter already registered for platform")
)

// Platform identifies a supported messaging channel.
type Platform string

const (
	Telegram Platform = "telegram"
	SimpleX  Platform = "simplex"
	Ntfy     Platform = "ntfy"
)

// All lists every supported platform.
var All = []Platform{Telegram, SimpleX, Ntfy}

func (p Platform) Valid() bool {
	switch p {
	case Telegram, SimpleX, Ntfy:
		return true
	}
	return false
}

func Parse(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
	return p, nil
}

// Recipient is a platform-specific address. Exactly one field is set:
// ChatID for Telegram, ContactID for SimpleX contacts and ntfy topics.
type Recipient struct {
	ChatID    int64
	ContactID string
}

func ChatRecipient(id int64) Recipient     { return Recipient{ChatID: id} }
func ContactRecipient(id string) Recipient { return Recipient{ContactID: id} }

func (r Recipient) IsZero() bool { return r.ChatID == 0 && r.ContactID == "" }

// String renders the recipient as stored in the registry.
func (r Recipient) String() string {
	if r.ContactID != "" {
		return r.ContactID
	}
	return strconv.FormatInt(r.ChatID, 10)
}

// ParseRecipient is the inverse of String for the given platform.
func ParseRecipient(p Platform, s string) (Recipient, error) {
	if p == Telegram {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Recipient{}, fmt.Errorf("telegram recipient %q: %w", s, err)
		}
		return ChatRecipient(id), nil
	}
	if strings.TrimSpace(s) == "" {
		return Recipient{}, fmt.Errorf("%s recipient is empty", p)
	}
	return ContactRecipient(s), nil
}

// User is the sender of an inbound message.
type User struct {
	ID          string
	DisplayName string
}

// Message is an inbound message normalised from a platform event.
type Message struct {
	Platform     Platform
	From         User
	Conversation Recipient
	Text         string
	MessageID    string
}

// Args returns the whitespace separated words after the command keyword.
func (m Message) Args() []string {
	parts := strings.Fields(m.Text)
	if len(parts) < 2 {
		return nil
	}
	return parts[1:]
}

// Handler handles a normalised inbound message.
type Handler func(ctx context.Context, msg Message) error

// Adapter is the capability every platform offers.
type Adapter interface {
	Platform() Platform
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, to Recipient, text string) error
}

// Commander is implemented by adapters that accept inbound commands.
type Commander interface {
	Adapter
	RegisterCommand(name string, h Handler)
	// RegisterText handles plain (non-command) text.
	RegisterText(h Handler)
}

// Button is one selectable option in a menu.
type Button struct {
	Text string
	Data string
}

// Menu is a grid of buttons, one slice per row.
type Menu [][]Button

// MessageRef points at a sent message so it can be edited in place.
type MessageRef struct {
	Chat      Recipient
	MessageID int
}

// Callback is a normalised button press.
type Callback struct {
	ID           string
	From         User
	Conversation Recipient
	Message      MessageRef
	Data         string
}

// CallbackHandler handles a button press. payload is the data after the route prefix.
type CallbackHandler func(ctx context.Context, cb Callback, payload string) error

// MenuAdapter is implemented by platforms with native selectable options.
type MenuAdapter interface {
	Commander
	SendMenu(ctx context.Context, to Recipient, text string, menu Menu) (MessageRef, error)
	EditMenu(ctx context.Context, ref MessageRef, text string, menu Menu) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// RegisterCallback routes callback data "<route>:<payload>" to h.
	RegisterCallback(route string, h CallbackHandler)
}
