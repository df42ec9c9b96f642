package dialog

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/storage"
	"feebot/internal/subscription"
	"feebot/pkg/logx"
)

// chatAdapter is an in-memory MenuAdapter. Outgoing messages are recorded
// per conversation.
type chatAdapter struct {
	*platform.Router
	p platform.Platform

	mu      sync.Mutex
	out     []string
	edits   []string
	answers []string
	menus   map[int]platform.Menu
	nextID  int
}

func newChatAdapter(p platform.Platform) *chatAdapter {
	return &chatAdapter{Router: platform.NewRouter(logx.Nop()), p: p, menus: map[int]platform.Menu{}}
}

func (a *chatAdapter) Platform() platform.Platform { return a.p }
func (a *chatAdapter) Start(context.Context) error { return nil }
func (a *chatAdapter) Stop(context.Context) error  { return nil }

func (a *chatAdapter) Send(_ context.Context, _ platform.Recipient, text string) error {
	a.mu.Lock()
	a.out = append(a.out, text)
	a.mu.Unlock()
	return nil
}

func (a *chatAdapter) SendMenu(_ context.Context, to platform.Recipient, text string, menu platform.Menu) (platform.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.out = append(a.out, text)
	a.menus[a.nextID] = menu
	return platform.MessageRef{Chat: to, MessageID: a.nextID}, nil
}

func (a *chatAdapter) EditMenu(_ context.Context, ref platform.MessageRef, text string, menu platform.Menu) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, text)
	a.menus[ref.MessageID] = menu
	return nil
}

func (a *chatAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	a.answers = append(a.answers, text)
	a.mu.Unlock()
	return nil
}

func (a *chatAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.out) == 0 {
		return ""
	}
	return a.out[len(a.out)-1]
}

func (a *chatAdapter) lastEdit() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.edits) == 0 {
		return ""
	}
	return a.edits[len(a.edits)-1]
}

var snapshot = fees.Table{
	"BTC":   {"LN": 0.1, "L-BTC": 0.2},
	"L-BTC": {"LN": 0.3},
}

func newSvc(t *testing.T) (*subscription.Service, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	require.NoError(t, st.PutSnapshot(context.Background(), fees.SeriesAll, snapshot))
	return subscription.NewService(st, "https://pro.example", logx.Nop()), st
}

// ---- text dialog ----

type textChat struct {
	t  *testing.T
	ad *chatAdapter
	to platform.Recipient
}

func newTextChat(t *testing.T) (*textChat, storage.Store) {
	svc, st := newSvc(t)
	ad := newChatAdapter(platform.SimpleX)
	NewTextDialog(svc, ad, logx.Nop()).Register()
	return &textChat{t: t, ad: ad, to: platform.ContactRecipient("5")}, st
}

func (c *textChat) say(text string) string {
	c.t.Helper()
	err := c.ad.Route(context.Background(), platform.Message{
		Platform:     platform.SimpleX,
		Conversation: c.to,
		Text:         text,
	})
	require.NoError(c.t, err)
	return c.ad.last()
}

func TestTextSubscribeFlow(t *testing.T) {
	t.Parallel()
	c, st := newTextChat(t)

	reply := c.say("/subscribe")
	assert.Equal(t, "Select the send asset:\n\n1. BTC\n2. L-BTC\n\nReply with the number (e.g. 1)", reply)

	reply = c.say("1")
	assert.Equal(t, "Selected: BTC\n\nSelect the receive asset:\n\n1. L-BTC\n2. LN\n\nReply with the number", reply)

	reply = c.say("/select 2")
	assert.Contains(t, reply, "Selected: BTC -> LN")

	reply = c.say("0.05%")
	assert.Equal(t, "Subscribed to BTC -> LN at 0.05%!\nCurrent fees: 0.1% - https://pro.example?receiveAsset=LN&sendAsset=BTC", reply)

	subs, err := st.Subscriptions(context.Background(), storage.Filter{Platform: platform.SimpleX})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, c.to, subs[0].Recipient)

	assert.Equal(t, msgHelpHint, c.say("hello"), "flow finished")
}

func TestTextInvalidInputKeepsState(t *testing.T) {
	t.Parallel()
	c, _ := newTextChat(t)
	c.say("/subscribe")

	assert.Equal(t, msgInvalidSelect, c.say("9"))
	assert.Equal(t, msgInvalidSelect, c.say("0"))
	assert.Equal(t, msgEnterNumber, c.say("BTC"))
	assert.Equal(t, msgInvalidNumber, c.say("/select x"))
	assert.Equal(t, msgSelectUsage, c.say("/select"))

	// Still at the first step.
	assert.Contains(t, c.say("2"), "Selected: L-BTC")
	assert.Contains(t, c.say("1"), "Selected: L-BTC -> LN")

	assert.Equal(t, subscription.MsgInvalidThreshold, c.say("cheap"))
	assert.Equal(t, subscription.MsgInvalidThreshold, c.say("/threshold 1e99999999"))
	assert.Equal(t, msgThresholdUsage, c.say("/threshold"))
	assert.Contains(t, c.say("/threshold -0.1"), "Subscribed to L-BTC -> LN at -0.1%!")
}

func TestTextAvailablePairsShrink(t *testing.T) {
	t.Parallel()
	c, _ := newTextChat(t)
	for _, step := range []string{"/subscribe", "2", "1", "0.1"} {
		c.say(step)
	}
	reply := c.say("/subscribe")
	assert.Equal(t, "Select the send asset:\n\n1. BTC\n\nReply with the number (e.g. 1)", reply)
}

func TestTextManageFlow(t *testing.T) {
	t.Parallel()
	c, st := newTextChat(t)
	for _, step := range []string{"/subscribe", "1", "2", "0.1"} {
		c.say(step)
	}

	assert.Equal(t, msgSelectFirst, c.say("/edit 0.2"))

	assert.Equal(t, "Your subscriptions:\n\n1. BTC -> LN at 0.1%\n\nReply with the number to manage", c.say("/mysubscriptions"))
	assert.Equal(t, msgInvalidSelect, c.say("3"))
	assert.Contains(t, c.say("1"), "Selected: BTC -> LN at 0.1%")
	assert.Equal(t, msgEditUsage, c.say("/edit"))
	assert.Equal(t, subscription.MsgInvalidThreshold, c.say("/edit abc"))
	assert.Equal(t, subscription.MsgThresholdUpdated, c.say("/edit 0.2"))

	subs, _ := st.Subscriptions(context.Background(), storage.Filter{})
	require.Len(t, subs, 1)
	assert.Equal(t, "0.2", subs[0].Threshold.String())

	c.say("/mysubscriptions")
	c.say("1")
	assert.Equal(t, subscription.MsgRemoved, c.say("/remove"))
	assert.Equal(t, subscription.MsgNoSubscriptions, c.say("/mysubscriptions"))
}

func TestTextMisc(t *testing.T) {
	t.Parallel()
	c, _ := newTextChat(t)
	assert.Equal(t, subscription.Welcome, c.say("/start"))
	assert.Equal(t, subscription.Welcome, c.say("/help"))
	assert.Equal(t, "Unknown command: /foo. Use /help to see available commands.", c.say("/foo bar"))
	assert.Equal(t, msgStartSubscribe, c.say("/threshold 1"))
	assert.Equal(t, msgNothingToSelect, c.say("/select 1"))
	assert.Equal(t, subscription.MsgUnsubscribedAll, c.say("/unsubscribe"))
}

func TestTextConversationsAreIndependent(t *testing.T) {
	t.Parallel()
	c, _ := newTextChat(t)
	other := &textChat{t: t, ad: c.ad, to: platform.ContactRecipient("6")}

	c.say("/subscribe")
	assert.Equal(t, msgHelpHint, other.say("1"))
	assert.Contains(t, c.say("1"), "Selected: BTC")
}

// ---- inline dialog ----

type menuChat struct {
	t    *testing.T
	ad   *chatAdapter
	chat platform.Recipient
	ref  int
}

func newMenuChat(t *testing.T) (*menuChat, storage.Store) {
	svc, st := newSvc(t)
	ad := newChatAdapter(platform.Telegram)
	NewInlineDialog(svc, ad, logx.Nop()).Register()
	return &menuChat{t: t, ad: ad, chat: platform.ChatRecipient(77)}, st
}

func (c *menuChat) say(text string) string {
	c.t.Helper()
	require.NoError(c.t, c.ad.Route(context.Background(), platform.Message{
		Platform:     platform.Telegram,
		Conversation: c.chat,
		Text:         text,
	}))
	c.ref = c.ad.nextID
	return c.ad.last()
}

func (c *menuChat) press(data string) {
	c.t.Helper()
	require.NoError(c.t, c.ad.RouteCallback(context.Background(), platform.Callback{
		ID:           "cb",
		Conversation: c.chat,
		Message:      platform.MessageRef{Chat: c.chat, MessageID: c.ref},
		Data:         data,
	}))
}

func (c *menuChat) buttons() []string {
	var out []string
	for _, row := range c.ad.menus[c.ref] {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

func TestInlineSubscribePreset(t *testing.T) {
	t.Parallel()
	c, st := newMenuChat(t)

	assert.Equal(t, msgPickFrom, c.say("/subscribe"))
	assert.Equal(t, []string{"sub:from:BTC", "sub:from:L-BTC"}, c.buttons())

	c.press("sub:from:BTC")
	assert.Equal(t, msgPickTo, c.ad.lastEdit())
	assert.Equal(t, []string{"sub:to:L-BTC", "sub:to:LN"}, c.buttons())

	c.press("sub:to:LN")
	assert.Equal(t, msgPickThreshold, c.ad.lastEdit())
	assert.Equal(t, []string{"sub:th:0.05", "sub:th:-0.1", "sub:th:-0.15", "sub:th:custom"}, c.buttons())

	c.press("sub:th:-0.1")
	assert.True(t, strings.HasPrefix(c.ad.lastEdit(), "Subscribed to BTC -> LN at -0.1%!"))
	assert.Nil(t, c.ad.menus[c.ref], "buttons removed")

	subs, _ := st.Subscriptions(context.Background(), storage.Filter{Platform: platform.Telegram})
	require.Len(t, subs, 1)

	// Stale presses on the finished menu are ignored.
	c.press("sub:th:0.05")
	assert.Equal(t, msgMenuExpired, c.ad.answers[len(c.ad.answers)-1])
}

func TestInlineCustomThresholdKeepsStateOnInvalid(t *testing.T) {
	t.Parallel()
	c, st := newMenuChat(t)
	c.say("/subscribe")
	c.press("sub:from:L-BTC")
	c.press("sub:to:LN")
	c.press("sub:th:custom")
	assert.Equal(t, msgAskCustom, c.ad.last())

	assert.Equal(t, subscription.MsgInvalidThreshold, c.say("abc"))
	assert.Equal(t, subscription.MsgInvalidThreshold, c.say("1e99999999"))
	assert.Contains(t, c.say("0.3"), "Subscribed to L-BTC -> LN at 0.3%!")

	subs, _ := st.Subscriptions(context.Background(), storage.Filter{})
	assert.Len(t, subs, 1)
}

func TestInlineManage(t *testing.T) {
	t.Parallel()
	c, st := newMenuChat(t)
	assert.Equal(t, msgNotSubscribed, c.say("/mysubscriptions"))

	c.say("/subscribe")
	c.press("sub:from:BTC")
	c.press("sub:to:LN")
	c.press("sub:th:0.05")
	subs, _ := st.Subscriptions(context.Background(), storage.Filter{})
	require.Len(t, subs, 1)

	assert.Equal(t, msgSubscribedList, c.say("/mysubscriptions"))
	require.Len(t, c.buttons(), 1)
	c.press(c.buttons()[0])
	assert.Equal(t, msgPickAction, c.ad.lastEdit())

	c.press("mng:edit")
	assert.Equal(t, msgAskNewThreshold, c.ad.last())
	assert.Equal(t, subscription.MsgInvalidThreshold, c.say("x"))
	assert.Equal(t, subscription.MsgThresholdUpdated, c.say("1.5"))

	got, _ := st.Subscription(context.Background(), subs[0].ID)
	assert.Equal(t, "1.5", got.Threshold.String())

	c.say("/mysubscriptions")
	c.press(c.buttons()[0])
	c.press("mng:remove")
	assert.Equal(t, subscription.MsgRemoved, c.ad.lastEdit())

	assert.Equal(t, msgNothingToRemove, c.say("/unsubscribe"))
}

func TestInlineUnsubscribe(t *testing.T) {
	t.Parallel()
	c, _ := newMenuChat(t)
	c.say("/subscribe")
	c.press("sub:from:BTC")
	c.press("sub:to:LN")
	c.press("sub:th:0.05")
	assert.Equal(t, msgUnsubscribed, c.say("/unsubscribe"))
}

func TestSessionsSerialisePerKey(t *testing.T) {
	t.Parallel()
	s := NewSessions[int]()

	a := s.Acquire("k")
	a.Set(1)

	acquired := make(chan struct{})
	go func() {
		b := s.Acquire("k")
		v, _ := b.Get()
		b.Set(v + 1)
		b.Release()
		close(acquired)
	}()

	other := s.Acquire("other")
	other.Release()

	select {
	case <-acquired:
		t.Fatal("second acquire of the same key did not wait")
	default:
	}
	a.Release()
	<-acquired

	c := s.Acquire("k")
	v, ok := c.Get()
	c.Clear()
	c.Release()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Zero(t, s.Len(), "cleared slots are dropped")
}
