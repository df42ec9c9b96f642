package subscription

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/storage"
	"feebot/pkg/logx"
)

var chat = platform.ChatRecipient(100)

func newService(t *testing.T, snapshot fees.Table) (*Service, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	if snapshot != nil {
		require.NoError(t, st.PutSnapshot(context.Background(), fees.SeriesAll, snapshot))
	}
	return NewService(st, "https://pro.example/", logx.Nop()), st
}

func TestParseThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"0.1", "0.1", true},
		{" -0.15% ", "-0.15", true},
		{"1%", "1", true},
		{"abc", "", false},
		{"", "", false},
		{"%", "", false},
		{"100", "100", true},
		{"0.5e1", "5", true},
		{"1e99999999", "", false},
		{"1e-99999999", "", false},
		{"101", "", false},
		{"0.000000001", "", false},
	}
	for _, tt := range tests {
		got, err := ParseThreshold(tt.raw)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidThreshold, "raw=%q", tt.raw)
			continue
		}
		require.NoError(t, err, "raw=%q", tt.raw)
		assert.Equal(t, tt.want, got.String())
	}
}

func TestProURLAndPretty(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, nil)
	assert.Equal(t, "https://pro.example?receiveAsset=LN&sendAsset=BTC", svc.ProURL("BTC", "LN"))

	sub := storage.Subscription{From: "BTC", To: "LN", Threshold: decimal.RequireFromString("-0.1")}
	assert.Equal(t, "BTC -> LN at -0.1%", Pretty(sub))
}

func TestAvailablePairsExcludesExisting(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, fees.Table{
		"BTC": {"LN": 0.1},
		"LN":  {"BTC": 0.2, "L-BTC": 0.3},
	})
	ctx := context.Background()

	res, err := svc.Create(ctx, platform.Telegram, chat, "BTC", "LN", "0.1")
	require.NoError(t, err)
	require.True(t, res.OK)

	pairs, err := svc.AvailablePairs(ctx, platform.Telegram, chat)
	require.NoError(t, err)
	assert.Equal(t, []string{"LN"}, pairs.FromAssets(), "BTC has no destinations left")

	other, err := svc.AvailablePairs(ctx, platform.SimpleX, platform.ContactRecipient("100"))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "LN"}, other.FromAssets())
}

func TestAvailablePairsWithoutSnapshot(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, nil)
	pairs, err := svc.AvailablePairs(context.Background(), platform.Telegram, chat)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestCreate(t *testing.T) {
	t.Parallel()
	svc, st := newService(t, fees.Table{"BTC": {"LN": 0.25}})
	ctx := context.Background()

	res, err := svc.Create(ctx, platform.Telegram, chat, "BTC", "LN", "0.1%")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Subscribed to BTC -> LN at 0.1%!\nCurrent fees: 0.25% - https://pro.example?receiveAsset=LN&sendAsset=BTC", res.Reply)

	res, err = svc.Create(ctx, platform.Telegram, chat, "BTC", "LN", "0.5")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, MsgDuplicate, res.Reply)

	res, err = svc.Create(ctx, platform.Telegram, chat, "LN", "BTC", "x")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, MsgInvalidThreshold, res.Reply)

	for _, raw := range []string{"1e99999999", "-1e-99999999"} {
		res, err = svc.Create(ctx, platform.Telegram, chat, "LN", "BTC", raw)
		require.NoError(t, err)
		assert.Equal(t, MsgInvalidThreshold, res.Reply, "raw=%s", raw)
	}
	subs, err := st.Subscriptions(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, subs, 1, "rejected thresholds are not stored")

	res, err = svc.Create(ctx, platform.Telegram, chat, "LN", "BTC", "1")
	require.NoError(t, err)
	assert.Equal(t, "Subscribed to LN -> BTC at 1%!\nhttps://pro.example?receiveAsset=BTC&sendAsset=LN", res.Reply)

	subs, err = st.Subscriptions(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestGetChecksOwnership(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, platform.Telegram, chat, "BTC", "LN", "0.1")
	require.NoError(t, err)
	subs, err := svc.List(ctx, platform.Telegram, chat)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	_, err = svc.Get(ctx, platform.Telegram, chat, subs[0].ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, platform.Telegram, platform.ChatRecipient(7), subs[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateDeleteAndDeleteAll(t *testing.T) {
	t.Parallel()
	svc, st := newService(t, nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, platform.Telegram, chat, "BTC", "LN", "0.1")
	require.NoError(t, err)
	_, err = svc.Create(ctx, platform.Telegram, chat, "LN", "BTC", "0.1")
	require.NoError(t, err)
	subs, _ := svc.List(ctx, platform.Telegram, chat)
	require.Len(t, subs, 2)

	res, err := svc.UpdateThreshold(ctx, subs[0].ID, "-0.2")
	require.NoError(t, err)
	assert.Equal(t, Result{OK: true, Reply: MsgThresholdUpdated}, res)
	got, _ := st.Subscription(ctx, subs[0].ID)
	assert.Equal(t, "-0.2", got.Threshold.String())

	res, err = svc.UpdateThreshold(ctx, subs[0].ID, "nope")
	require.NoError(t, err)
	assert.Equal(t, MsgInvalidThreshold, res.Reply)

	res, err = svc.UpdateThreshold(ctx, 999, "1")
	require.NoError(t, err)
	assert.Equal(t, MsgNotFound, res.Reply)

	res, err = svc.Delete(ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, Result{OK: true, Reply: MsgRemoved}, res)

	res, err = svc.Delete(ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, MsgNotFound, res.Reply)

	res, err = svc.DeleteAll(ctx, platform.Telegram, chat)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = svc.DeleteAll(ctx, platform.Telegram, chat)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestNotification(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, nil)
	sub := storage.Subscription{From: "BTC", To: "LN", Threshold: decimal.RequireFromString("0.1")}

	assert.Equal(t,
		"Fees for BTC -> LN have reached 0.1%: https://pro.example?receiveAsset=LN&sendAsset=BTC",
		svc.Notification(sub, 0.05))
	assert.Equal(t,
		"Fees for BTC -> LN have reached 0.1%: https://pro.example?receiveAsset=LN&sendAsset=BTC",
		svc.Notification(sub, 0.1))
	assert.Equal(t,
		"Fees for BTC -> LN are above 0.1% again: https://pro.example?receiveAsset=LN&sendAsset=BTC",
		svc.Notification(sub, 0.2))
}
