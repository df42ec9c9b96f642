// Package subscription holds the platform-agnostic command logic shared by the
// chat dialogs and the operator CLI.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"feebot/internal/fees"
	"feebot/internal/platform"
	"feebot/internal/storage"
	"feebot/pkg/logx"
)

var ErrInvalidThreshold = errors.New("invalid threshold")

const DefaultProURL = "https://pro.boltz.exchange"

// Replies shared by every platform.
const (
	MsgInvalidThreshold = "Invalid threshold value. Please enter a valid number."
	MsgDuplicate        = "You are already subscribed to this pair!"
	MsgNotFound         = "Subscription not found."
	MsgThresholdUpdated = "Threshold updated."
	MsgRemoved          = "Subscription removed."
	MsgUnsubscribedAll  = "Unsubscribed from all fee alerts."
	MsgNoPairs          = "No pairs available or you're subscribed to all pairs."
	MsgNoSubscriptions  = "You have no active subscriptions."
)

// Welcome is the /start and /help reply.
const Welcome = "Welcome to the Boltz Pro fee alert bot!\n\n" +
	"Commands:\n" +
	"/subscribe - Subscribe to fee alerts\n" +
	"/mysubscriptions - View and manage subscriptions\n" +
	"/unsubscribe - Unsubscribe from all alerts\n" +
	"/help - Show this help message"

// Result is the outcome of a user action: whether it succeeded and the reply to show.
type Result struct {
	OK    bool
	Reply string
}

type Service struct {
	store  storage.Store
	proURL string
	log    logx.Logger
}

func NewService(store storage.Store, proURL string, log logx.Logger) *Service {
	proURL = strings.TrimRight(strings.TrimSpace(proURL), "/")
	if proURL == "" {
		proURL = DefaultProURL
	}
	return &Service{store: store, proURL: proURL, log: log}
}

// ParseThreshold parses a percentage, ignoring surrounding '%' signs. Values
// outside fees.ValidThreshold are rejected.
func ParseThreshold(raw string) (decimal.Decimal, error) {
	s := strings.Trim(strings.TrimSpace(raw), "%")
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !fees.ValidThreshold(d) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidThreshold, raw)
	}
	return d, nil
}

// ProURL links to the pro site with the pair preselected.
func (s *Service) ProURL(from, to string) string {
	q := url.Values{}
	q.Set("sendAsset", from)
	q.Set("receiveAsset", to)
	return s.proURL + "?" + q.Encode()
}

// Pretty renders a subscription as "FROM -> TO at T%".
func Pretty(sub storage.Subscription) string {
	return fmt.Sprintf("%s -> %s at %s%%", sub.From, sub.To, sub.Threshold.String())
}

func recipientFilter(p platform.Platform, r platform.Recipient) storage.Filter {
	return storage.Filter{Platform: p, Recipient: r}
}

// AvailablePairs is the latest snapshot minus the recipient's existing pairs.
func (s *Service) AvailablePairs(ctx context.Context, p platform.Platform, r platform.Recipient) (fees.Table, error) {
	latest, ok, err := s.store.GetSnapshot(ctx, fees.SeriesAll)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fees.Table{}, nil
	}
	subs, err := s.store.Subscriptions(ctx, recipientFilter(p, r))
	if err != nil {
		return nil, err
	}
	taken := lo.Map(subs, func(sub storage.Subscription, _ int) fees.Pair {
		return fees.Pair{From: sub.From, To: sub.To}
	})
	return latest.Without(taken), nil
}

// Create subscribes the recipient to (from, to). Validation and duplicate
// failures are reported through Result; err is reserved for I/O failures.
func (s *Service) Create(ctx context.Context, p platform.Platform, r platform.Recipient, from, to, rawThreshold string) (Result, error) {
	th, err := ParseThreshold(rawThreshold)
	if err != nil {
		return Result{Reply: MsgInvalidThreshold}, nil
	}
	sub := &storage.Subscription{Platform: p, Recipient: r, From: from, To: to, Threshold: th}
	if err := s.store.AddSubscription(ctx, sub); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return Result{Reply: MsgDuplicate}, nil
		}
		return Result{}, err
	}
	s.log.Info("subscription added", logx.Int64("id", sub.ID), logx.String("sub", sub.String()))

	link := s.ProURL(from, to)
	latest, ok, err := s.store.GetSnapshot(ctx, fees.SeriesAll)
	if err != nil {
		s.log.Warn("snapshot lookup failed", logx.Err(err))
	}
	if ok {
		if fee, found := latest.Get(from, to); found {
			return Result{OK: true, Reply: fmt.Sprintf("Subscribed to %s!\nCurrent fees: %v%% - %s", Pretty(*sub), fee, link)}, nil
		}
	}
	return Result{OK: true, Reply: fmt.Sprintf("Subscribed to %s!\n%s", Pretty(*sub), link)}, nil
}

func (s *Service) List(ctx context.Context, p platform.Platform, r platform.Recipient) ([]storage.Subscription, error) {
	return s.store.Subscriptions(ctx, recipientFilter(p, r))
}

// Get returns a subscription only if it belongs to the recipient.
func (s *Service) Get(ctx context.Context, p platform.Platform, r platform.Recipient, id int64) (storage.Subscription, error) {
	sub, err := s.store.Subscription(ctx, id)
	if err != nil {
		return storage.Subscription{}, err
	}
	if sub.Platform != p || sub.Recipient != r {
		return storage.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Service) UpdateThreshold(ctx context.Context, id int64, raw string) (Result, error) {
	if _, err := s.store.Subscription(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Reply: MsgNotFound}, nil
		}
		return Result{}, err
	}
	th, err := ParseThreshold(raw)
	if err != nil {
		return Result{Reply: MsgInvalidThreshold}, nil
	}
	if err := s.store.UpdateThreshold(ctx, id, th); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Reply: MsgNotFound}, nil
		}
		return Result{}, err
	}
	s.log.Info("subscription threshold updated", logx.Int64("id", id), logx.String("threshold", th.String()))
	return Result{OK: true, Reply: MsgThresholdUpdated}, nil
}

func (s *Service) Delete(ctx context.Context, id int64) (Result, error) {
	if err := s.store.DeleteSubscription(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Reply: MsgNotFound}, nil
		}
		return Result{}, err
	}
	s.log.Info("subscription removed", logx.Int64("id", id))
	return Result{OK: true, Reply: MsgRemoved}, nil
}

// DeleteAll removes every subscription of the recipient. OK is false when
// there was nothing to remove.
func (s *Service) DeleteAll(ctx context.Context, p platform.Platform, r platform.Recipient) (Result, error) {
	n, err := s.store.DeleteSubscriptions(ctx, recipientFilter(p, r))
	if err != nil {
		return Result{}, err
	}
	s.log.Info("subscriptions removed", logx.String("platform", string(p)), logx.String("recipient", r.String()), logx.Int64("count", n))
	return Result{OK: n > 0, Reply: MsgUnsubscribedAll}, nil
}

// Notification renders the alert text for a crossing. fee is the current value.
func (s *Service) Notification(sub storage.Subscription, fee float64) string {
	link := s.ProURL(sub.From, sub.To)
	if fees.AtOrBelow(fee, sub.Threshold) {
		return fmt.Sprintf("Fees for %s -> %s have reached %s%%: %s", sub.From, sub.To, sub.Threshold.String(), link)
	}
	return fmt.Sprintf("Fees for %s -> %s are above %s%% again: %s", sub.From, sub.To, sub.Threshold.String(), link)
}
