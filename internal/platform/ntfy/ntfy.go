// Package ntfy publishes alerts to ntfy topics. It is push-only: there is no
// inbound listener and Start only marks the adapter ready.
package ntfy

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"feebot/internal/platform"
	"feebot/pkg/logx"
)

const DefaultTitle = "Boltz fee alert"

type Config struct {
	BaseURL string
	// AuthHeader is sent verbatim as Authorization and wins over basic auth.
	AuthHeader      string
	BasicUser       string
	BasicPass       string
	DefaultPriority string
	Title           string
	Timeout         time.Duration
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	auth    string
	started atomic.Bool
}

var _ platform.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("ntfy base_url is empty")
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
		auth: authorization(cfg),
	}, nil
}

func authorization(cfg Config) string {
	if h := strings.TrimSpace(cfg.AuthHeader); h != "" {
		return h
	}
	if cfg.BasicUser != "" && cfg.BasicPass != "" {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.BasicUser+":"+cfg.BasicPass))
	}
	return ""
}

func (a *Adapter) Platform() platform.Platform { return platform.Ntfy }

func (a *Adapter) Start(context.Context) error {
	a.started.Store(true)
	a.log.Info("ntfy publisher ready", logx.String("base_url", a.cfg.BaseURL), logx.Bool("auth", a.auth != ""))
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.started.Store(false)
	return nil
}

// Send publishes text to the topic named by to.ContactID.
func (a *Adapter) Send(ctx context.Context, to platform.Recipient, text string) error {
	return a.Publish(ctx, to.ContactID, text, "", "")
}

// Publish posts message to topic. Empty title and priority fall back to the
// configured defaults.
func (a *Adapter) Publish(ctx context.Context, topic, message, title, priority string) error {
	if !a.started.Load() {
		return platform.ErrNotStarted
	}
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		return errors.New("ntfy topic is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/"+topic, bytes.NewReader([]byte(message)))
	if err != nil {
		return err
	}
	if a.auth != "" {
		req.Header.Set("Authorization", a.auth)
	}
	if title == "" {
		title = a.cfg.Title
	}
	req.Header.Set("Title", title)
	if priority == "" {
		priority = a.cfg.DefaultPriority
	}
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy publish %q: %w", topic, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy publish %q: http=%d %s", topic, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	a.log.Debug("ntfy published", logx.String("topic", topic))
	return nil
}
