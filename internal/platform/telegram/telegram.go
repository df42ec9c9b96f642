// Package telegram is the menu-capable platform adapter built on telebot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	tele "gopkg.in/telebot.v4"

	"feebot/internal/platform"
	"feebot/internal/runtime/supervisor"
	"feebot/pkg/logx"
	"feebot/pkg/tgui"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// HandlerTimeout bounds one inbound update. Zero means 30s.
	HandlerTimeout time.Duration
	// URL overrides the Bot API endpoint.
	URL string
}

// Commands is the slash-command menu published to Telegram clients.
var Commands = []tele.Command{
	{Text: "subscribe", Description: "Subscribe to fee alerts"},
	{Text: "mysubscriptions", Description: "View and manage subscriptions"},
	{Text: "unsubscribe", Description: "Unsubscribe from all alerts"},
	{Text: "help", Description: "Show help"},
}

type Adapter struct {
	*platform.Router

	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu sync.Mutex
	// sup is set between Start and Stop and owns the poll loop.
	sup *supervisor.Supervisor
}

var (
	_ platform.MenuAdapter = (*Adapter)(nil)
	_ logx.Sender          = (*Adapter)(nil)
)

// New validates the token against the Bot API and registers update handlers.
// Updates are only consumed after Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    cfg.URL,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	a := &Adapter{
		Router: platform.NewRouter(log,
			platform.Recover(log),
			platform.RequestLog(log),
			platform.WithTimeout(cfg.HandlerTimeout),
		),
		cfg: cfg,
		log: log,
		bot: bot,
	}
	// Slash commands arrive as OnText too; the router tells them apart.
	bot.Handle(tele.OnText, a.onText)
	bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

func (a *Adapter) Platform() platform.Platform { return platform.Telegram }

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	ctx, ok := a.runContext()
	if !ok {
		return nil
	}
	err := a.Route(ctx, platform.Message{
		Platform:     platform.Telegram,
		From:         user(m.Sender),
		Conversation: platform.ChatRecipient(m.Chat.ID),
		Text:         m.Text,
		MessageID:    strconv.Itoa(m.ID),
	})
	if err != nil {
		a.log.Debug("message handler error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb, m := c.Callback(), c.Message()
	if cb == nil || m == nil || m.Chat == nil {
		return nil
	}
	ctx, ok := a.runContext()
	if !ok {
		return nil
	}
	chat := platform.ChatRecipient(m.Chat.ID)
	err := a.RouteCallback(ctx, platform.Callback{
		ID:           cb.ID,
		From:         user(cb.Sender),
		Conversation: chat,
		Message:      platform.MessageRef{Chat: chat, MessageID: m.ID},
		Data:         cb.Data,
	})
	if err != nil {
		a.log.Warn("callback handler error", logx.String("data", cb.Data), logx.Err(err))
	}
	return nil
}

func user(u *tele.User) platform.User {
	if u == nil {
		return platform.User{}
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return platform.User{ID: strconv.FormatInt(u.ID, 10), DisplayName: name}
}

func (a *Adapter) runContext() (context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil, false
	}
	return a.sup.Context(), true
}

func (a *Adapter) isRunning() bool {
	_, ok := a.runContext()
	return ok
}

// Start begins long polling and publishes the command menu. Both run in the
// background; a poll loop that exits on its own is restarted.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.sup = sup

	sup.Go0("telegram.stop_poller", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("telegram.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithStopOnCleanExit(false),
	)
	sup.GoRestart("telegram.commands", a.publishCommands,
		supervisor.WithRestartBackoff(5*time.Second, 5*time.Minute),
	)
	return nil
}

// publishCommands sets the client-side command menu.
func (a *Adapter) publishCommands(context.Context) error {
	if err := a.bot.SetCommands(Commands); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	a.log.Info("command menu published", logx.Int("count", len(Commands)))
	return nil
}

// Stop ends polling. A pending getUpdates request is abandoned after at most
// two seconds.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	a.log.Info("telegram adapter stopped")
	return nil
}

// Send delivers text, split into several messages when it exceeds the API limit.
func (a *Adapter) Send(ctx context.Context, to platform.Recipient, text string) error {
	_, err := a.send(ctx, to, text, nil)
	return err
}

// SendOperator implements logx.Sender for the operator log sink.
func (a *Adapter) SendOperator(ctx context.Context, chatID int64, text string) error {
	return a.Send(ctx, platform.ChatRecipient(chatID), text)
}

func (a *Adapter) SendMenu(ctx context.Context, to platform.Recipient, text string, menu platform.Menu) (platform.MessageRef, error) {
	rm, err := markup(menu)
	if err != nil {
		return platform.MessageRef{}, err
	}
	return a.send(ctx, to, text, rm)
}

func (a *Adapter) send(ctx context.Context, to platform.Recipient, text string, rm *tele.ReplyMarkup) (platform.MessageRef, error) {
	if !a.isRunning() {
		return platform.MessageRef{}, platform.ErrNotStarted
	}
	if to.ChatID == 0 {
		return platform.MessageRef{}, fmt.Errorf("telegram recipient %q has no chat id", to.String())
	}

	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first platform.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		opt := &tele.SendOptions{DisableWebPagePreview: true}
		// Attach markup only to the first message.
		if i == 0 && rm != nil {
			opt.ReplyMarkup = rm
		}
		msg, err := a.bot.Send(chat, chunk, opt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = platform.MessageRef{Chat: to, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditMenu replaces text and buttons of a sent menu. A nil menu removes the buttons.
func (a *Adapter) EditMenu(ctx context.Context, ref platform.MessageRef, text string, menu platform.Menu) error {
	if !a.isRunning() {
		return platform.ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if len(menu) > 0 {
		rm, err := markup(menu)
		if err != nil {
			return err
		}
		opt.ReplyMarkup = rm
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.Chat.ChatID}}
	_, err := a.bot.Edit(m, splitText(text, textLimit)[0], opt)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func markup(menu platform.Menu) (*tele.ReplyMarkup, error) {
	rows := lo.Map(menu, func(row []platform.Button, _ int) []tgui.Button {
		return lo.Map(row, func(b platform.Button, _ int) tgui.Button {
			return tgui.Button{Text: b.Text, Data: b.Data}
		})
	})
	return tgui.Keyboard(rows)
}
