// Package upstream fetches swap fee quotes from the Boltz API and normalises
// them into a fees.Table keyed by pro-site asset codes.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"feebot/internal/fees"
	"feebot/pkg/logx"
)

var ErrStatus = errors.New("upstream: unexpected status")

// SwapType is a Boltz product category.
type SwapType string

const (
	Submarine SwapType = "submarine"
	Reverse   SwapType = "reverse"
	Chain     SwapType = "chain"
)

// SwapTypes is the fetch order. Later types overwrite earlier pairs on merge.
var SwapTypes = []SwapType{Submarine, Reverse, Chain}

type Config struct {
	BaseURL  string
	Referral string
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.boltz.exchange"
	}
	if cfg.Referral == "" {
		cfg.Referral = "pro"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// AllFees fetches every swap type and merges them into one table.
func (c *Client) AllFees(ctx context.Context) (fees.Table, error) {
	out := fees.Table{}
	for _, st := range SwapTypes {
		t, err := c.Fees(ctx, st)
		if err != nil {
			return nil, err
		}
		out.Merge(t)
	}
	return out, nil
}

type pairInfo struct {
	Fees struct {
		Percentage float64 `json:"percentage"`
	} `json:"fees"`
}

// Fees fetches one swap type.
func (c *Client) Fees(ctx context.Context, st SwapType) (fees.Table, error) {
	url := c.cfg.BaseURL + "/v2/swap/" + string(st)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referral", c.cfg.Referral)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s fees: %w", st, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s fees http=%d %s", ErrStatus, st, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw map[string]map[string]pairInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s fees: %w", st, err)
	}

	out := make(fees.Table, len(raw))
	for quote, bases := range raw {
		from := CurrencyToAsset(st, quote, true)
		row := make(map[string]float64, len(bases))
		for base, info := range bases {
			row[CurrencyToAsset(st, base, false)] = info.Fees.Percentage
		}
		out[from] = row
	}
	c.log.Debug("fees fetched", logx.String("type", string(st)), logx.Int("from_assets", len(out)))
	return out, nil
}

// CurrencyToAsset maps an API currency to the asset code used on the pro site.
// Lightning legs are reported as BTC by the API.
func CurrencyToAsset(st SwapType, currency string, send bool) string {
	switch st {
	case Submarine:
		if !send && currency == "BTC" {
			return "LN"
		}
	case Reverse:
		if send && currency == "BTC" {
			return "LN"
		}
	}
	return currency
}
