package payments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"onion-alerts/internal/clients_api/bscscan"
	"onion-alerts/internal/domain"
	"onion-alerts/internal/infra/log"
	"onion-alerts/internal/state"
)

var (
	ErrInvalidHash        = errors.New("invalid transaction hash")
	ErrUnknownUser        = errors.New("unknown user, send /start first")
	ErrAlreadyRedeemed    = errors.New("transaction already used")
	ErrNotFound           = errors.New("transaction not found for our wallet")
	ErrWrongRecipient     = errors.New("transaction is not a USDT transfer to our wallet")
	ErrInsufficientAmount = errors.New("amount is below the subscription price")
	ErrNotConfigured      = errors.New("payments are not configured")
)

// Source looks a transfer up by hash. (nil, nil) means not found.
type Source interface {
	FindTransfer(ctx context.Context, wallet, contract, txHash string) (*bscscan.Transfer, error)
}

type Options struct {
	Price            decimal.Decimal
	SubscriptionDays int
	Wallet           string
	Contract         string
}

// Service confirms payments and extends subscriptions in the state store.
type Service struct {
	source Source
	store  *state.Store
	opts   Options
}

func NewService(source Source, store *state.Store, opts Options) *Service {
	if opts.SubscriptionDays <= 0 {
		opts.SubscriptionDays = 30
	}
	return &Service{source: source, store: store, opts: opts}
}

func (s *Service) Price() decimal.Decimal { return s.opts.Price }

// IssueMemo creates and remembers a payment reference for userID. BEP-20
// transfers carry no memo, so Verify never matches on it; it identifies the
// user when they contact support.
func (s *Service) IssueMemo(userID int64, now time.Time) (string, error) {
	memo := fmt.Sprintf("PAY_%d_%d", userID, now.Unix())
	if _, ok := s.store.UpdateUser(userID, func(u *domain.User) { u.PaymentMemo = memo }); !ok {
		return "", ErrUnknownUser
	}
	return memo, nil
}

// ValidTxHash accepts 0x-prefixed 32-byte hex.
func ValidTxHash(h string) bool {
	if len(h) != 66 || !strings.HasPrefix(strings.ToLower(h), "0x") {
		return false
	}
	_, err := hex.DecodeString(h[2:])
	return err == nil
}

// Verify confirms txHash as userID's payment and extends the subscription.
// A hash can be redeemed once.
func (s *Service) Verify(ctx context.Context, userID int64, txHash string, now time.Time) (domain.User, decimal.Decimal, error) {
	txHash = strings.TrimSpace(txHash)
	if s.source == nil || s.opts.Wallet == "" {
		return domain.User{}, decimal.Zero, ErrNotConfigured
	}
	if !ValidTxHash(txHash) {
		return domain.User{}, decimal.Zero, ErrInvalidHash
	}
	if _, ok := s.store.User(userID); !ok {
		return domain.User{}, decimal.Zero, ErrUnknownUser
	}
	if _, used := s.store.PaymentUsedBy(txHash); used {
		return domain.User{}, decimal.Zero, ErrAlreadyRedeemed
	}

	tr, err := s.source.FindTransfer(ctx, s.opts.Wallet, s.opts.Contract, txHash)
	if err != nil {
		return domain.User{}, decimal.Zero, fmt.Errorf("lookup transaction: %w", err)
	}
	if tr == nil {
		return domain.User{}, decimal.Zero, ErrNotFound
	}
	if !strings.EqualFold(tr.To, s.opts.Wallet) ||
		(s.opts.Contract != "" && !strings.EqualFold(tr.Contract, s.opts.Contract)) {
		return domain.User{}, tr.Amount, ErrWrongRecipient
	}
	if tr.Amount.LessThan(s.opts.Price) {
		return domain.User{}, tr.Amount, ErrInsufficientAmount
	}

	if !s.store.MarkPaymentUsed(txHash, userID) {
		return domain.User{}, tr.Amount, ErrAlreadyRedeemed
	}
	u, ok := s.extend(userID, s.opts.SubscriptionDays, now)
	if !ok {
		return domain.User{}, tr.Amount, ErrUnknownUser
	}

	log.LogSuccess("Payment confirmed",
		zap.Int64("user_id", userID),
		zap.String("tx", txHash),
		zap.String("amount", tr.Amount.String()),
		zap.Time("paid_until", *u.PaidUntil))
	return u, tr.Amount, nil
}

// Grant extends userID's subscription by days without a payment.
func (s *Service) Grant(userID int64, days int, now time.Time) (domain.User, error) {
	if days <= 0 {
		return domain.User{}, fmt.Errorf("days must be > 0")
	}
	u, ok := s.extend(userID, days, now)
	if !ok {
		return domain.User{}, ErrUnknownUser
	}
	log.LogInfo("Subscription granted", zap.Int64("user_id", userID), zap.Int("days", days))
	return u, nil
}

// extend adds days starting from the later of now and the current expiry.
func (s *Service) extend(userID int64, days int, now time.Time) (domain.User, bool) {
	return s.store.UpdateUser(userID, func(u *domain.User) {
		base := now
		if u.IsPaid && u.PaidUntil != nil && u.PaidUntil.After(now) {
			base = *u.PaidUntil
		}
		until := base.Add(time.Duration(days) * 24 * time.Hour)
		u.IsPaid = true
		u.PaidUntil = &until
		u.PaymentMemo = ""
	})
}
