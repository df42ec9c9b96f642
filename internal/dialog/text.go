package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/storage"
	"feebot/internal/subscription"
	"feebot/pkg/logx"
)

type textStep int

const (
	stepSelectFrom textStep = iota + 1
	stepSelectTo
	stepEnterThreshold
	stepSelectSubscription
	stepSubscriptionAction
)

func (s textStep) String() string {
	switch s {
	case stepSelectFrom:
		return "select_from"
	case stepSelectTo:
		return "select_to"
	case stepEnterThreshold:
		return "enter_threshold"
	case stepSelectSubscription:
		return "select_subscription"
	case stepSubscriptionAction:
		return "subscription_action"
	}
	return "idle"
}

// textState is one recipient's position in a text dialog.
type textState struct {
	step    textStep
	pairs   fees.Table
	options []string
	from    string
	to      string
	subs    []storage.Subscription
	subID   int64
	subDesc string
}

const (
	msgHelpHint        = "Use /help to see available commands."
	msgEnterNumber     = "Please enter a valid number."
	msgInvalidNumber   = "Invalid number. Try again."
	msgInvalidSelect   = "Invalid selection. Try again."
	msgNothingToSelect = "Nothing to select. Start with /subscribe or /mysubscriptions."
	msgSelectUsage     = "Please specify a number: /select <number>"
	msgThresholdUsage  = "Please specify threshold: /threshold <value>"
	msgEditUsage       = "Please specify new threshold: /edit <value>"
	msgStartSubscribe  = "Please start with /subscribe first."
	msgSelectFirst     = "Please select a subscription first with /mysubscriptions"
)

// TextDialog renders every choice as a numbered list and reads selections
// back from plain text or /select.
type TextDialog struct {
	svc      *subscription.Service
	ad       platform.Commander
	sessions *Sessions[textState]
	log      logx.Logger
}

func NewTextDialog(svc *subscription.Service, ad platform.Commander, log logx.Logger) *TextDialog {
	return &TextDialog{svc: svc, ad: ad, sessions: NewSessions[textState](), log: log}
}

// Register binds the dialog's commands on the adapter.
func (d *TextDialog) Register() {
	d.ad.RegisterCommand("start", d.handleStart)
	d.ad.RegisterCommand("help", d.handleStart)
	d.ad.RegisterCommand("subscribe", d.locked(d.subscribe))
	d.ad.RegisterCommand("mysubscriptions", d.locked(d.mySubscriptions))
	d.ad.RegisterCommand("unsubscribe", d.locked(d.unsubscribe))
	d.ad.RegisterCommand("select", d.locked(func(ctx context.Context, s *Session[textState], msg platform.Message) error {
		args := msg.Args()
		if len(args) == 0 {
			return d.reply(ctx, msg, msgSelectUsage)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return d.reply(ctx, msg, msgInvalidNumber)
		}
		return d.selectOption(ctx, s, msg, n)
	}))
	d.ad.RegisterCommand("threshold", d.locked(func(ctx context.Context, s *Session[textState], msg platform.Message) error {
		return d.threshold(ctx, s, msg, strings.Join(msg.Args(), ""))
	}))
	d.ad.RegisterCommand("edit", d.locked(d.edit))
	d.ad.RegisterCommand("remove", d.locked(d.remove))
	d.ad.RegisterText(d.locked(d.text))
	if r, ok := d.ad.(interface{ RegisterUnknown(platform.Handler) }); ok {
		r.RegisterUnknown(d.unknown)
	}
}

type stepHandler func(ctx context.Context, s *Session[textState], msg platform.Message) error

// locked runs h with the recipient's session held.
func (d *TextDialog) locked(h stepHandler) platform.Handler {
	return func(ctx context.Context, msg platform.Message) error {
		s := d.sessions.Acquire(msg.Conversation.String())
		defer s.Release()
		return h(ctx, s, msg)
	}
}

func (d *TextDialog) reply(ctx context.Context, msg platform.Message, text string) error {
	return d.ad.Send(ctx, msg.Conversation, text)
}

func (d *TextDialog) handleStart(ctx context.Context, msg platform.Message) error {
	return d.reply(ctx, msg, subscription.Welcome)
}

func (d *TextDialog) unknown(ctx context.Context, msg platform.Message) error {
	name, _ := platform.ParseCommand(msg.Text)
	return d.reply(ctx, msg, fmt.Sprintf("Unknown command: /%s. Use /help to see available commands.", name))
}

func (d *TextDialog) subscribe(ctx context.Context, s *Session[textState], msg platform.Message) error {
	pairs, err := d.svc.AvailablePairs(ctx, msg.Platform, msg.Conversation)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		s.Clear()
		return d.reply(ctx, msg, subscription.MsgNoPairs)
	}
	from := pairs.FromAssets()
	s.Set(textState{step: stepSelectFrom, pairs: pairs, options: from})
	return d.reply(ctx, msg, numbered("Select the send asset:", from, "Reply with the number (e.g. 1)"))
}

func (d *TextDialog) mySubscriptions(ctx context.Context, s *Session[textState], msg platform.Message) error {
	subs, err := d.svc.List(ctx, msg.Platform, msg.Conversation)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		s.Clear()
		return d.reply(ctx, msg, subscription.MsgNoSubscriptions)
	}
	s.Set(textState{step: stepSelectSubscription, subs: subs})
	items := make([]string, len(subs))
	for i, sub := range subs {
		items[i] = subscription.Pretty(sub)
	}
	return d.reply(ctx, msg, numbered("Your subscriptions:", items, "Reply with the number to manage"))
}

// selectOption applies a 1-based choice to the current list. Invalid choices
// leave the state untouched.
func (d *TextDialog) selectOption(ctx context.Context, s *Session[textState], msg platform.Message, n int) error {
	st, ok := s.Get()
	if !ok {
		return d.reply(ctx, msg, msgNothingToSelect)
	}
	i := n - 1

	switch st.step {
	case stepSelectFrom:
		if i < 0 || i >= len(st.options) {
			return d.reply(ctx, msg, msgInvalidSelect)
		}
		from := st.options[i]
		to := st.pairs.ToAssets(from)
		s.Set(textState{step: stepSelectTo, pairs: st.pairs, from: from, options: to})
		return d.reply(ctx, msg, numbered(fmt.Sprintf("Selected: %s\n\nSelect the receive asset:", from), to, "Reply with the number"))

	case stepSelectTo:
		if i < 0 || i >= len(st.options) {
			return d.reply(ctx, msg, msgInvalidSelect)
		}
		to := st.options[i]
		s.Set(textState{step: stepEnterThreshold, from: st.from, to: to})
		return d.reply(ctx, msg, fmt.Sprintf(
			"Selected: %s -> %s\n\nEnter fee threshold percentage:\ne.g. 0.05 (for 0.05%%) or -0.1 (for -0.1%%)",
			st.from, to,
		))

	case stepSelectSubscription:
		if i < 0 || i >= len(st.subs) {
			return d.reply(ctx, msg, msgInvalidSelect)
		}
		sub := st.subs[i]
		desc := subscription.Pretty(sub)
		s.Set(textState{step: stepSubscriptionAction, subID: sub.ID, subDesc: desc})
		return d.reply(ctx, msg, fmt.Sprintf(
			"Selected: %s\n\nWhat would you like to do?\n/edit <threshold> - Change threshold\n/remove - Remove subscription",
			desc,
		))
	}
	return d.reply(ctx, msg, msgNothingToSelect)
}

func (d *TextDialog) threshold(ctx context.Context, s *Session[textState], msg platform.Message, raw string) error {
	st, ok := s.Get()
	if !ok || st.step != stepEnterThreshold {
		return d.reply(ctx, msg, msgStartSubscribe)
	}
	if strings.TrimSpace(raw) == "" {
		return d.reply(ctx, msg, msgThresholdUsage)
	}
	if _, err := subscription.ParseThreshold(raw); err != nil {
		return d.reply(ctx, msg, subscription.MsgInvalidThreshold)
	}
	res, err := d.svc.Create(ctx, msg.Platform, msg.Conversation, st.from, st.to, raw)
	if err != nil {
		return err
	}
	s.Clear()
	return d.reply(ctx, msg, res.Reply)
}

func (d *TextDialog) edit(ctx context.Context, s *Session[textState], msg platform.Message) error {
	st, ok := s.Get()
	if !ok || st.step != stepSubscriptionAction {
		return d.reply(ctx, msg, msgSelectFirst)
	}
	raw := strings.Join(msg.Args(), "")
	if raw == "" {
		return d.reply(ctx, msg, msgEditUsage)
	}
	if _, err := subscription.ParseThreshold(raw); err != nil {
		return d.reply(ctx, msg, subscription.MsgInvalidThreshold)
	}
	res, err := d.svc.UpdateThreshold(ctx, st.subID, raw)
	if err != nil {
		return err
	}
	s.Clear()
	return d.reply(ctx, msg, res.Reply)
}

func (d *TextDialog) remove(ctx context.Context, s *Session[textState], msg platform.Message) error {
	st, ok := s.Get()
	if !ok || st.step != stepSubscriptionAction {
		return d.reply(ctx, msg, msgSelectFirst)
	}
	res, err := d.svc.Delete(ctx, st.subID)
	if err != nil {
		return err
	}
	s.Clear()
	return d.reply(ctx, msg, res.Reply)
}

func (d *TextDialog) unsubscribe(ctx context.Context, s *Session[textState], msg platform.Message) error {
	res, err := d.svc.DeleteAll(ctx, msg.Platform, msg.Conversation)
	if err != nil {
		return err
	}
	s.Clear()
	return d.reply(ctx, msg, res.Reply)
}

// text interprets bare input according to the current step.
func (d *TextDialog) text(ctx context.Context, s *Session[textState], msg platform.Message) error {
	st, ok := s.Get()
	input := strings.TrimSpace(msg.Text)
	if !ok {
		return d.reply(ctx, msg, msgHelpHint)
	}
	switch st.step {
	case stepSelectFrom, stepSelectTo, stepSelectSubscription:
		n, err := strconv.Atoi(input)
		if err != nil {
			return d.reply(ctx, msg, msgEnterNumber)
		}
		return d.selectOption(ctx, s, msg, n)
	case stepEnterThreshold:
		return d.threshold(ctx, s, msg, input)
	}
	return d.reply(ctx, msg, msgHelpHint)
}

func numbered(header string, items []string, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	b.WriteString("\n")
	b.WriteString(footer)
	return b.String()
}
