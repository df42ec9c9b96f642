package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	path, title, priority, body string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []published) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []published
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, published{r.URL.Path, r.Header.Get("Title"), r.Header.Get("Priority"), string(b)})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []published {
		mu.Lock()
		defer mu.Unlock()
		return append([]published(nil), got...)
	}
}

func writeConfig(t *testing.T, ntfyURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`
ntfy:
  enabled: true
  base_url: %s
  default_priority: high
storage:
  driver: sqlite
  path: %s
`, ntfyURL, filepath.Join(dir, "data", "feebot.db"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func ctl(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"--config", cfgPath}, args...), &out)
	return out.String(), err
}

func TestAddListRemove(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "http://127.0.0.1:1")

	out, err := ctl(t, cfg, "add", "--topic", "alerts", "--from", "btc", "--to", "ln", "--threshold", "0.1")
	require.NoError(t, err)
	assert.Equal(t, "Subscribed to BTC -> LN at 0.1%!\nhttps://pro.boltz.exchange?receiveAsset=LN&sendAsset=BTC\n", out)

	_, err = ctl(t, cfg, "add", "--topic", "alerts", "--from", "BTC", "--to", "LN", "--threshold", "0.5")
	require.Error(t, err, "duplicate pair")

	_, err = ctl(t, cfg, "add", "--topic", "alerts", "--from", "L-BTC", "--to", "LN", "--threshold", "abc")
	require.Error(t, err, "invalid threshold")

	_, err = ctl(t, cfg, "add", "--topic", "other", "--from", "L-BTC", "--to", "LN", "--threshold", "0.2")
	require.NoError(t, err)

	out, err = ctl(t, cfg, "list", "--topic", "alerts")
	require.NoError(t, err)
	assert.Contains(t, out, "THRESHOLD")
	assert.Contains(t, out, "BTC -> LN")
	assert.NotContains(t, out, "L-BTC")

	out, err = ctl(t, cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "L-BTC -> LN")

	out, err = ctl(t, cfg, "remove", "--id", "1")
	require.NoError(t, err)
	assert.Equal(t, "Subscription removed.\n", out)

	out, err = ctl(t, cfg, "remove", "--topic", "other")
	require.NoError(t, err)
	assert.Equal(t, "Unsubscribed from all fee alerts.\n", out)

	out, err = ctl(t, cfg, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "->")
}

func TestRemoveNeedsExactlyOneSelector(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "http://127.0.0.1:1")
	_, err := ctl(t, cfg, "remove")
	require.Error(t, err)
	_, err = ctl(t, cfg, "remove", "--id", "3", "--topic", "x")
	require.Error(t, err)
}

func TestPublishTestMessage(t *testing.T) {
	t.Parallel()
	srv, got := newNtfyServer(t)
	cfg := writeConfig(t, srv.URL)

	out, err := ctl(t, cfg, "test", "--topic", "alerts", "--message", "hello")
	require.NoError(t, err)
	assert.Equal(t, "published to alerts\n", out)

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/alerts", reqs[0].path)
	assert.Equal(t, "hello", reqs[0].body)
	assert.Equal(t, "high", reqs[0].priority)
	assert.NotEmpty(t, reqs[0].title)
}

func TestUnknownAndMissingCommand(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "http://127.0.0.1:1")
	_, err := ctl(t, cfg)
	require.EqualError(t, err, "missing command")
	_, err = ctl(t, cfg, "frobnicate")
	require.EqualError(t, err, `unknown command "frobnicate"`)
}
