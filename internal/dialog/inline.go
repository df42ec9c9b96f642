package dialog

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/storage"
	"feebot/internal/subscription"
	"feebot/pkg/logx"
	"feebot/pkg/tgui"
)

type inlineStep int

const (
	inlineFrom inlineStep = iota + 1
	inlineTo
	inlineThreshold
	inlineCustom
	inlineSelect
	inlineAction
	inlineEditValue
)

type inlineState struct {
	step  inlineStep
	pairs fees.Table
	from  string
	to    string
	subID int64
	menu  platform.MessageRef
}

// PresetThresholds are offered as buttons next to "Custom".
var PresetThresholds = []string{"0.05", "-0.1", "-0.15"}

const (
	routeSubscribe = "sub"
	routeManage    = "mng"

	buttonsPerRow = 4

	msgPickFrom        = "Select the send asset for your notifications."
	msgPickTo          = "Select the receive asset for your notifications."
	msgPickThreshold   = "Select a threshold percentage for your notifications. You can also enter your own value."
	msgAskCustom       = "OK. Send me the fee threshold for your notifications."
	msgSubscribedList  = "You are subscribed to the following fee alerts."
	msgNotSubscribed   = "You are not subscribed to any alerts."
	msgPickAction      = "Edit the fee threshold or remove the subscription."
	msgAskNewThreshold = "OK. Send me the new fee threshold."
	msgUnsubscribed    = "You have unsubscribed from all fee alerts."
	msgNothingToRemove = "You are not subscribed."
	msgMenuExpired     = "This menu has expired."
)

// InlineDialog drives the flows with native buttons edited in place.
type InlineDialog struct {
	svc      *subscription.Service
	ad       platform.MenuAdapter
	sessions *Sessions[inlineState]
	log      logx.Logger
}

func NewInlineDialog(svc *subscription.Service, ad platform.MenuAdapter, log logx.Logger) *InlineDialog {
	return &InlineDialog{svc: svc, ad: ad, sessions: NewSessions[inlineState](), log: log}
}

func (d *InlineDialog) Register() {
	d.ad.RegisterCommand("start", d.handleStart)
	d.ad.RegisterCommand("help", d.handleStart)
	d.ad.RegisterCommand("subscribe", d.withSession(d.subscribe))
	d.ad.RegisterCommand("mysubscriptions", d.withSession(d.mySubscriptions))
	d.ad.RegisterCommand("unsubscribe", d.withSession(d.unsubscribe))
	d.ad.RegisterText(d.withSession(d.text))
	d.ad.RegisterCallback(routeSubscribe, d.callback(d.onSubscribe))
	d.ad.RegisterCallback(routeManage, d.callback(d.onManage))
}

type inlineHandler func(ctx context.Context, s *Session[inlineState], msg platform.Message) error

type inlineCallback func(ctx context.Context, s *Session[inlineState], cb platform.Callback, action, value string) (string, error)

func (d *InlineDialog) withSession(h inlineHandler) platform.Handler {
	return func(ctx context.Context, msg platform.Message) error {
		s := d.sessions.Acquire(msg.Conversation.String())
		defer s.Release()
		return h(ctx, s, msg)
	}
}

// callback holds the session, runs h and always answers the press so the
// client stops its spinner.
func (d *InlineDialog) callback(h inlineCallback) platform.CallbackHandler {
	return func(ctx context.Context, cb platform.Callback, payload string) error {
		action, value, _ := strings.Cut(payload, ":")
		s := d.sessions.Acquire(cb.Conversation.String())
		notice, err := h(ctx, s, cb, action, value)
		s.Release()
		if aerr := d.ad.AnswerCallback(ctx, cb.ID, notice); aerr != nil {
			d.log.Debug("answer callback failed", logx.Err(aerr))
		}
		return err
	}
}

func (d *InlineDialog) send(ctx context.Context, to platform.Recipient, text string) error {
	return d.ad.Send(ctx, to, text)
}

func (d *InlineDialog) handleStart(ctx context.Context, msg platform.Message) error {
	return d.send(ctx, msg.Conversation, subscription.Welcome)
}

func (d *InlineDialog) subscribe(ctx context.Context, s *Session[inlineState], msg platform.Message) error {
	pairs, err := d.svc.AvailablePairs(ctx, msg.Platform, msg.Conversation)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		s.Clear()
		return d.send(ctx, msg.Conversation, subscription.MsgNoPairs)
	}
	ref, err := d.ad.SendMenu(ctx, msg.Conversation, msgPickFrom, assetMenu("from", pairs.FromAssets()))
	if err != nil {
		return err
	}
	s.Set(inlineState{step: inlineFrom, pairs: pairs, menu: ref})
	return nil
}

func (d *InlineDialog) onSubscribe(ctx context.Context, s *Session[inlineState], cb platform.Callback, action, value string) (string, error) {
	st, ok := s.Get()
	if !ok || st.menu.MessageID != cb.Message.MessageID {
		return msgMenuExpired, nil
	}

	switch {
	case action == "from" && st.step == inlineFrom:
		to := st.pairs.ToAssets(value)
		if len(to) == 0 {
			return msgMenuExpired, nil
		}
		st.step, st.from = inlineTo, value
		s.Set(st)
		return "", d.ad.EditMenu(ctx, st.menu, msgPickTo, assetMenu("to", to))

	case action == "to" && st.step == inlineTo:
		if _, ok := st.pairs.Get(st.from, value); !ok {
			return msgMenuExpired, nil
		}
		st.step, st.to = inlineThreshold, value
		s.Set(st)
		return "", d.ad.EditMenu(ctx, st.menu, msgPickThreshold, thresholdMenu())

	case action == "th" && (st.step == inlineThreshold || st.step == inlineCustom):
		if value == "custom" {
			st.step = inlineCustom
			s.Set(st)
			return "", d.send(ctx, cb.Conversation, msgAskCustom)
		}
		res, err := d.svc.Create(ctx, d.ad.Platform(), cb.Conversation, st.from, st.to, value)
		if err != nil {
			return "", err
		}
		s.Clear()
		return "", d.ad.EditMenu(ctx, st.menu, res.Reply, nil)
	}
	return msgMenuExpired, nil
}

func (d *InlineDialog) mySubscriptions(ctx context.Context, s *Session[inlineState], msg platform.Message) error {
	subs, err := d.svc.List(ctx, msg.Platform, msg.Conversation)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		s.Clear()
		return d.send(ctx, msg.Conversation, msgNotSubscribed)
	}
	menu := lo.Map(subs, func(sub storage.Subscription, _ int) []platform.Button {
		return []platform.Button{{
			Text: subscription.Pretty(sub),
			Data: tgui.Data(routeManage, "sel", strconv.FormatInt(sub.ID, 10)),
		}}
	})
	ref, err := d.ad.SendMenu(ctx, msg.Conversation, msgSubscribedList, menu)
	if err != nil {
		return err
	}
	s.Set(inlineState{step: inlineSelect, menu: ref})
	return nil
}

func (d *InlineDialog) onManage(ctx context.Context, s *Session[inlineState], cb platform.Callback, action, value string) (string, error) {
	st, ok := s.Get()
	if !ok || st.menu.MessageID != cb.Message.MessageID {
		return msgMenuExpired, nil
	}

	switch {
	case action == "sel" && st.step == inlineSelect:
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return msgMenuExpired, nil
		}
		if _, err := d.svc.Get(ctx, d.ad.Platform(), cb.Conversation, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.Clear()
				return "", d.ad.EditMenu(ctx, st.menu, subscription.MsgNotFound, nil)
			}
			return "", err
		}
		s.Set(inlineState{step: inlineAction, subID: id, menu: st.menu})
		return "", d.ad.EditMenu(ctx, st.menu, msgPickAction, platform.Menu{{
			{Text: "Edit threshold", Data: tgui.Data(routeManage, "edit", "")},
			{Text: "Remove subscription", Data: tgui.Data(routeManage, "remove", "")},
		}})

	case action == "edit" && st.step == inlineAction:
		st.step = inlineEditValue
		s.Set(st)
		return "", d.send(ctx, cb.Conversation, msgAskNewThreshold)

	case action == "remove" && (st.step == inlineAction || st.step == inlineEditValue):
		res, err := d.svc.Delete(ctx, st.subID)
		if err != nil {
			return "", err
		}
		s.Clear()
		return "", d.ad.EditMenu(ctx, st.menu, res.Reply, nil)
	}
	return msgMenuExpired, nil
}

func (d *InlineDialog) unsubscribe(ctx context.Context, s *Session[inlineState], msg platform.Message) error {
	res, err := d.svc.DeleteAll(ctx, msg.Platform, msg.Conversation)
	if err != nil {
		return err
	}
	s.Clear()
	if !res.OK {
		return d.send(ctx, msg.Conversation, msgNothingToRemove)
	}
	return d.send(ctx, msg.Conversation, msgUnsubscribed)
}

// text accepts free-form threshold values. Invalid input is rejected without
// leaving the step, so the selections made so far are kept.
func (d *InlineDialog) text(ctx context.Context, s *Session[inlineState], msg platform.Message) error {
	st, ok := s.Get()
	if !ok {
		return nil
	}
	raw := strings.TrimSpace(msg.Text)

	switch st.step {
	case inlineThreshold, inlineCustom:
		if _, err := subscription.ParseThreshold(raw); err != nil {
			return d.send(ctx, msg.Conversation, subscription.MsgInvalidThreshold)
		}
		res, err := d.svc.Create(ctx, msg.Platform, msg.Conversation, st.from, st.to, raw)
		if err != nil {
			return err
		}
		s.Clear()
		return d.send(ctx, msg.Conversation, res.Reply)

	case inlineEditValue:
		if _, err := subscription.ParseThreshold(raw); err != nil {
			return d.send(ctx, msg.Conversation, subscription.MsgInvalidThreshold)
		}
		res, err := d.svc.UpdateThreshold(ctx, st.subID, raw)
		if err != nil {
			return err
		}
		s.Clear()
		return d.send(ctx, msg.Conversation, res.Reply)
	}
	return nil
}

func assetMenu(action string, assets []string) platform.Menu {
	buttons := lo.Map(assets, func(a string, _ int) platform.Button {
		return platform.Button{Text: a, Data: tgui.Data(routeSubscribe, action, a)}
	})
	return lo.Chunk(buttons, buttonsPerRow)
}

func thresholdMenu() platform.Menu {
	presets := lo.Map(PresetThresholds, func(v string, _ int) platform.Button {
		return platform.Button{Text: v + "%", Data: tgui.Data(routeSubscribe, "th", v)}
	})
	return platform.Menu{
		presets,
		{{Text: "Custom", Data: tgui.Data(routeSubscribe, "th", "custom")}},
	}
}
