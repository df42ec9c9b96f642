package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// Sender delivers a rendered record to the operator chat.
type Sender interface {
	SendOperator(ctx context.Context, chatID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, text string) error

func (f SenderFunc) SendOperator(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

const (
	operatorQueueSize   = 256
	operatorSendTimeout = 10 * time.Second
	operatorMaxRunes    = 3500
	operatorValueRunes  = 600
)

// operatorSink is a zerolog.LevelWriter that filters by level, rate limits
// and hands records to a background sender. Writes never block.
type operatorSink struct {
	mu      sync.Mutex
	enabled bool
	sender  Sender
	chatID  int64
	min     zerolog.Level
	limiter *rate.Limiter
	stop    context.CancelFunc

	queue chan string
	done  chan struct{}
}

func newOperatorSink(sender Sender) *operatorSink {
	return &operatorSink{
		sender: sender,
		min:    zerolog.WarnLevel,
		queue:  make(chan string, operatorQueueSize),
		done:   make(chan struct{}),
	}
}

func (o *operatorSink) setSender(s Sender) {
	o.mu.Lock()
	o.sender = s
	o.mu.Unlock()
}

func (o *operatorSink) configure(cfg OperatorConfig) {
	burst := max(1, cfg.RatePerSec)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = cfg.Enabled
	o.chatID = cfg.ChatID
	o.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	o.limiter = rate.NewLimiter(rate.Limit(burst), burst)
	if cfg.Enabled && o.stop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		o.stop = cancel
		go o.run(ctx)
	}
}

func (o *operatorSink) close() {
	o.mu.Lock()
	stop := o.stop
	o.stop = nil
	o.enabled = false
	o.mu.Unlock()
	if stop != nil {
		stop()
		<-o.done
	}
}

func (o *operatorSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *operatorSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	accept := o.enabled && level >= o.min && level < zerolog.NoLevel && o.limiter.Allow()
	o.mu.Unlock()
	if !accept {
		return len(p), nil
	}
	if text := renderRecord(p); text != "" {
		select {
		case o.queue <- text:
		default:
		}
	}
	return len(p), nil
}

func (o *operatorSink) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-o.queue:
			o.mu.Lock()
			sender, chatID := o.sender, o.chatID
			o.mu.Unlock()
			if sender == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, operatorSendTimeout)
			_ = sender.SendOperator(sctx, chatID, text)
			cancel()
		}
	}
}

// renderRecord turns a JSON record into "LEVEL: message" followed by one
// "key: value" line per field in key order.
func renderRecord(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clipRunes(strings.TrimSpace(string(p)), operatorMaxRunes)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString(": ")
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	rest := lo.OmitByKeys(rec, []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName})
	keys := lo.Keys(rest)
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, clipRunes(fmt.Sprint(rest[k]), operatorValueRunes))
	}
	return clipRunes(b.String(), operatorMaxRunes)
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
