package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsSilent(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() {
		l.Info("dropped", String("k", "v"))
		Nop().With(Int("n", 1)).Error("dropped")
	})
}

func TestWriterLoggerFieldsAndCaller(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("component", "poller"))

	l.Debug("hidden")
	l.Warn("cycle failed", Err(errors.New("boom")), Err(nil), Duration("took", time.Second))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"poller"`)
	assert.Contains(t, out, `"err":"boom"`)
	assert.Contains(t, out, `"caller":"logx_test.go:`)
	assert.Contains(t, out, `"message":"cycle failed"`)
}

func TestWithDoesNotShareFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	_ = base.With(String("b", "2"))
	base.Info("x")
	assert.NotContains(t, buf.String(), `"b"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		" warning": zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"loud":     zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in, zerolog.InfoLevel), "in=%q", in)
	}
}

func TestRenderRecord(t *testing.T) {
	t.Parallel()
	got := renderRecord([]byte(`{"level":"error","time":"t","message":"send failed","platform":"ntfy","count":2}`))
	assert.Equal(t, "ERROR: send failed\ncount: 2\nplatform: ntfy", got)

	assert.Equal(t, "not json", renderRecord([]byte("not json\n")))
	assert.Equal(t, "ab…", clipRunes("abcdef", 3))
	assert.Equal(t, "€€", clipRunes("€€", 2))
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
	chat int64
}

func (r *recorder) SendOperator(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = chatID
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recorder) find(substr string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m, substr) {
			return m
		}
	}
	return ""
}

func TestServiceFileAndOperatorSinks(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	rec := &recorder{}
	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: path},
		Operator: OperatorConfig{Enabled: true, ChatID: 42, MinLevel: "error", RatePerSec: 5},
	}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	log.Error("before sender")
	svc.SetSender(rec)
	time.Sleep(50 * time.Millisecond)

	log.Info("file only")
	log.Error("page me", String("pair", "BTC/LN"))
	require.Eventually(t, func() bool { return rec.find("page me") != "" }, 2*time.Second, 10*time.Millisecond)

	msg := rec.find("page me")
	assert.True(t, strings.HasPrefix(msg, "ERROR: page me\n"), msg)
	assert.Contains(t, msg, "pair: BTC/LN")
	assert.Empty(t, rec.find("file only"))
	rec.mu.Lock()
	assert.Equal(t, int64(42), rec.chat)
	rec.mu.Unlock()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestServiceApplyChangesLevelForExistingLoggers(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}}, nil)
	t.Cleanup(func() { _ = svc.Close() })
	child := log.With(String("component", "x"))

	child.Info("skipped")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	child.Info("kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "skipped")
	assert.Contains(t, string(data), "kept")
}

func TestOperatorRateLimit(t *testing.T) {
	t.Parallel()
	var sent int
	var mu sync.Mutex
	o := newOperatorSink(SenderFunc(func(context.Context, int64, string) error {
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	}))
	o.configure(OperatorConfig{Enabled: true, ChatID: 1, RatePerSec: 2})
	t.Cleanup(o.close)

	line := []byte(`{"level":"warn","message":"m"}`)
	for range 10 {
		_, err := o.WriteLevel(zerolog.WarnLevel, line)
		require.NoError(t, err)
	}
	_, _ = o.WriteLevel(zerolog.InfoLevel, line)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, sent)
}
