package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feebot/pkg/logx"
)

func fakeBoltz(t *testing.T, bodies map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu       sync.Mutex
		referral []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		referral = append(referral, r.Header.Get("Referral"))
		mu.Unlock()
		body, ok := bodies[strings.TrimPrefix(r.URL.Path, "/v2/swap/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &referral
}

func TestAllFeesMapsAndMerges(t *testing.T) {
	t.Parallel()
	srv, referral := fakeBoltz(t, map[string]string{
		"submarine": `{"L-BTC":{"BTC":{"fees":{"percentage":0.1}}},"BTC":{"BTC":{"fees":{"percentage":0.2}}}}`,
		"reverse":   `{"BTC":{"L-BTC":{"fees":{"percentage":0.25}},"BTC":{"fees":{"percentage":0.5}}}}`,
		"chain":     `{"BTC":{"L-BTC":{"fees":{"percentage":-0.1}}}}`,
	})

	c := New(Config{BaseURL: srv.URL + "/"}, logx.Nop())
	tbl, err := c.AllFees(context.Background())
	require.NoError(t, err)

	cases := []struct {
		from, to string
		want     float64
	}{
		{"L-BTC", "LN", 0.1}, // submarine: receive BTC is lightning
		{"BTC", "LN", 0.2},
		{"LN", "L-BTC", 0.25}, // reverse: send BTC is lightning
		{"LN", "BTC", 0.5},
		{"BTC", "L-BTC", -0.1}, // chain: unchanged
	}
	for _, tc := range cases {
		fee, ok := tbl.Get(tc.from, tc.to)
		require.True(t, ok, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.want, fee, "%s -> %s", tc.from, tc.to)
	}
	assert.Equal(t, []string{"pro", "pro", "pro"}, *referral)
}

func TestFeesLaterTypeWins(t *testing.T) {
	t.Parallel()
	srv, _ := fakeBoltz(t, map[string]string{
		"submarine": `{}`,
		"reverse":   `{"L-BTC":{"L-BTC":{"fees":{"percentage":1}}}}`,
		"chain":     `{"L-BTC":{"L-BTC":{"fees":{"percentage":2}}}}`,
	})
	tbl, err := New(Config{BaseURL: srv.URL, Referral: "custom"}, logx.Nop()).AllFees(context.Background())
	require.NoError(t, err)
	fee, _ := tbl.Get("L-BTC", "L-BTC")
	assert.Equal(t, 2.0, fee)
}

func TestFeesNon2xxIsError(t *testing.T) {
	t.Parallel()
	srv, _ := fakeBoltz(t, map[string]string{"submarine": `{}`})
	_, err := New(Config{BaseURL: srv.URL}, logx.Nop()).AllFees(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestFeesBadJSON(t *testing.T) {
	t.Parallel()
	srv, _ := fakeBoltz(t, map[string]string{"submarine": `not json`})
	_, err := New(Config{BaseURL: srv.URL}, logx.Nop()).Fees(context.Background(), Submarine)
	assert.Error(t, err)
}

func TestCurrencyToAsset(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "LN", CurrencyToAsset(Submarine, "BTC", false))
	assert.Equal(t, "BTC", CurrencyToAsset(Submarine, "BTC", true))
	assert.Equal(t, "LN", CurrencyToAsset(Reverse, "BTC", true))
	assert.Equal(t, "BTC", CurrencyToAsset(Reverse, "BTC", false))
	assert.Equal(t, "BTC", CurrencyToAsset(Chain, "BTC", true))
	assert.Equal(t, "L-BTC", CurrencyToAsset(Submarine, "L-BTC", false))
}
