// Package simplex is the text-only platform adapter. It talks to a SimpleX
// bridge service: events arrive over a websocket, replies go out over HTTP.
package simplex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"feebot/internal/platform"
	"feebot/internal/runtime/supervisor"
	"feebot/pkg/logx"
)

var ErrNotReady = errors.New("simplex bridge not ready")

type Config struct {
	// AdapterURL is the bridge base URL, e.g. http://localhost:3000.
	AdapterURL string
	// ReadyTimeout bounds the wait for the bridge to report "connected". Zero means 60s.
	ReadyTimeout time.Duration
	// ReadyPoll is the health check period. Zero means 2s.
	ReadyPoll time.Duration
	// HandlerTimeout bounds one inbound event. Zero means 30s.
	HandlerTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

// Event is a message pushed by the bridge.
type Event struct {
	Type        string      `json:"type"`
	ContactID   json.Number `json:"contactId"`
	DisplayName string      `json:"displayName"`
	Text        string      `json:"text"`
	MessageID   json.Number `json:"messageId"`
}

const (
	EventNewMessage       = "newMessage"
	EventContactConnected = "contactConnected"
)

type Adapter struct {
	*platform.Router

	cfg  Config
	log  logx.Logger
	http *http.Client
	ws   string

	mu sync.Mutex
	// sup is set between Start and Stop and owns the listen loop.
	sup *supervisor.Supervisor

	connMu sync.Mutex
	conn   *websocket.Conn
}

var _ platform.Commander = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.AdapterURL), "/")
	if base == "" {
		return nil, errors.New("simplex adapter_url is empty")
	}
	cfg.AdapterURL = base
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = 2 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Adapter{
		Router: platform.NewRouter(log,
			platform.Recover(log),
			platform.RequestLog(log),
			platform.WithTimeout(cfg.HandlerTimeout),
		),
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: 30 * time.Second},
		ws:   wsURL(base),
	}, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func (a *Adapter) Platform() platform.Platform { return platform.SimpleX }

// Start waits for the bridge to report a connected SimpleX client, opens the
// event stream and starts the listen loop.
func (a *Adapter) Start(ctx context.Context) error {
	if a.isRunning() {
		return nil
	}
	if err := a.waitReady(ctx); err != nil {
		return err
	}
	conn, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("simplex connect: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		_ = conn.Close()
		return nil
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.setConn(conn)
	a.sup.Go0("simplex.listen", a.listen)
	a.sup.Go0("simplex.hangup", func(c context.Context) {
		<-c.Done()
		a.setConn(nil)
	})
	a.log.Info("simplex adapter started", logx.String("url", a.cfg.AdapterURL))
	return nil
}

// Stop closes the event stream and waits for the listen loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("simplex stop: %w", err)
	}
	a.log.Info("simplex adapter stopped")
	return nil
}

func (a *Adapter) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup != nil
}

type healthResponse struct {
	Status string `json:"status"`
}

func (a *Adapter) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReadyTimeout)
	defer cancel()

	t := time.NewTicker(a.cfg.ReadyPoll)
	defer t.Stop()
	for {
		status, err := a.health(ctx)
		switch {
		case err != nil:
			a.log.Debug("bridge not ready yet", logx.Err(err))
		case status == "connected":
			a.log.Info("simplex bridge ready")
			return nil
		default:
			a.log.Info("bridge status, waiting", logx.String("status", status))
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s", ErrNotReady, a.cfg.ReadyTimeout)
		case <-t.C:
		}
	}
}

func (a *Adapter) health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.AdapterURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("health http=%d", resp.StatusCode)
	}
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return "", err
	}
	return h.Status, nil
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.ws, nil)
	return conn, err
}

func (a *Adapter) setConn(c *websocket.Conn) {
	a.connMu.Lock()
	old := a.conn
	a.conn = c
	a.connMu.Unlock()
	if old != nil && old != c {
		_ = old.Close()
	}
}

func (a *Adapter) currentConn() *websocket.Conn {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.conn
}

// adopt installs c as the live connection. If ctx ended meanwhile the hangup
// goroutine has already returned, so c is closed here and adopt reports false.
func (a *Adapter) adopt(ctx context.Context, c *websocket.Conn) bool {
	a.setConn(c)
	if ctx.Err() != nil {
		a.setConn(nil)
		return false
	}
	return true
}

// listen reads events until ctx is cancelled, reconnecting with exponential
// backoff whenever the stream drops.
func (a *Adapter) listen(ctx context.Context) {
	backoff := a.cfg.MinBackoff
	for ctx.Err() == nil {
		conn := a.currentConn()
		if conn == nil {
			c, err := a.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warn("simplex reconnect failed", logx.Duration("backoff", backoff), logx.Err(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, a.cfg.MaxBackoff)
				continue
			}
			a.log.Info("simplex event stream connected")
			backoff = a.cfg.MinBackoff
			if !a.adopt(ctx, c) {
				return
			}
			conn = c
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("simplex event stream closed", logx.Err(err))
			a.connMu.Lock()
			if a.conn == conn {
				a.conn = nil
			}
			a.connMu.Unlock()
			_ = conn.Close()
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			a.log.Warn("simplex event decode failed", logx.Err(err))
			continue
		}
		a.handleEvent(ctx, ev)
	}
}

// handleEvent processes events in arrival order so one contact's inputs are
// never reordered.
func (a *Adapter) handleEvent(ctx context.Context, ev Event) {
	contact := ev.ContactID.String()
	switch ev.Type {
	case EventNewMessage:
		if contact == "" || ev.Text == "" {
			return
		}
		a.log.Debug("simplex message", logx.String("contact", contact), logx.String("name", ev.DisplayName))
		_ = a.Route(ctx, a.message(ev, ev.Text))

	case EventContactConnected:
		if contact == "" {
			return
		}
		a.log.Info("simplex contact connected", logx.String("contact", contact), logx.String("name", ev.DisplayName))
		_ = a.Route(ctx, a.message(ev, "/start"))

	default:
		a.log.Debug("unhandled simplex event", logx.String("type", ev.Type))
	}
}

func (a *Adapter) message(ev Event, text string) platform.Message {
	contact := ev.ContactID.String()
	return platform.Message{
		Platform:     platform.SimpleX,
		From:         platform.User{ID: contact, DisplayName: ev.DisplayName},
		Conversation: platform.ContactRecipient(contact),
		Text:         text,
		MessageID:    ev.MessageID.String(),
	}
}

type sendRequest struct {
	ContactID int64  `json:"contactId"`
	Text      string `json:"text"`
}

// Send posts text to a contact through the bridge.
func (a *Adapter) Send(ctx context.Context, to platform.Recipient, text string) error {
	if !a.isRunning() {
		return platform.ErrNotStarted
	}
	id, err := strconv.ParseInt(strings.TrimSpace(to.ContactID), 10, 64)
	if err != nil {
		return fmt.Errorf("simplex contact id %q: %w", to.ContactID, err)
	}
	body, err := json.Marshal(sendRequest{ContactID: id, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.AdapterURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("simplex send http=%d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
