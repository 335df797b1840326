// Package risk gates order intents against per-user limits before anything
// reaches the broker. Checks run in a fixed order and short-circuit on the
// first breach; the daily trade slot is taken through an atomic guarded
// increment so concurrent intents cannot overshoot the limit.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"algotrader/src/model"
)

// Rejection reason codes, surfaced on the alert's failure reason.
const (
	ReasonPositionSizeExceeded   = "PositionSizeExceeded"
	ReasonDailyLossLimitReached  = "DailyLossLimitReached"
	ReasonDailyTradeLimitReached = "DailyTradeLimitReached"
	ReasonMarketClosed           = "MarketClosed"
)

// RejectionError reports which limit an intent breached.
type RejectionError struct {
	Code   string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("risk rejection %s: %s", e.Code, e.Detail)
}

// IsRejection reports whether err is a risk rejection and returns it.
func IsRejection(err error) (*RejectionError, bool) {
	rej, ok := err.(*RejectionError)
	return rej, ok
}

type limitsStore interface {
	Limits(ctx context.Context, userID uint) (*model.RiskLimits, error)
	Counter(ctx context.Context, userID uint, day string) (*model.RiskCounter, error)
	IncrementTradeCountIfBelow(ctx context.Context, userID uint, day string, max int) (bool, error)
	DecrementTradeCount(ctx context.Context, userID uint, day string) error
}

// Gate validates intents against the owning user's limits.
type Gate struct {
	store limitsStore
	now   func() time.Time
}

// NewGate builds a gate over the given limits store.
func NewGate(store limitsStore) *Gate {
	return &Gate{store: store, now: time.Now}
}

// WithClock overrides the gate's clock, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	return &Gate{store: g.store, now: now}
}

// Check runs the ordered limit checks and, when they all pass, consumes one
// of today's trade slots. A nil return means the slot is held and the
// intent may go to the broker; callers that then fail to submit should
// release the slot with Refund. The intent's notional is compared
// boundary-inclusive: an intent exactly at the position size limit passes.
//
// The daily loss check blocks buys only. Sells reduce exposure, and
// refusing them would lock a losing position in place.
func (g *Gate) Check(ctx context.Context, intent *model.OrderIntent) error {
	limits, err := g.store.Limits(ctx, intent.UserID)
	if err != nil {
		return err
	}

	if limits.MaxPositionSize > 0 {
		notional := decimal.NewFromFloat(intent.Notional())
		max := decimal.NewFromFloat(limits.MaxPositionSize)

		if notional.GreaterThan(max) {
			return g.reject(intent, ReasonPositionSizeExceeded,
				fmt.Sprintf("order notional %s exceeds max position size %s",
					notional.StringFixed(2), max.StringFixed(2)))
		}
	}

	day := model.RiskDay(g.now())

	if intent.Side == model.OrderSideBuy && limits.MaxDailyLoss > 0 {
		counter, err := g.store.Counter(ctx, intent.UserID, day)
		if err != nil {
			return err
		}

		if counter.RealizedLoss >= limits.MaxDailyLoss {
			return g.reject(intent, ReasonDailyLossLimitReached,
				fmt.Sprintf("realized loss %.2f has reached the daily limit %.2f",
					counter.RealizedLoss, limits.MaxDailyLoss))
		}
	}

	if limits.MaxDailyTrades > 0 {
		granted, err := g.store.IncrementTradeCountIfBelow(
			ctx, intent.UserID, day, limits.MaxDailyTrades)
		if err != nil {
			return err
		}
		if !granted {
			return g.reject(intent, ReasonDailyTradeLimitReached,
				fmt.Sprintf("daily trade limit %d reached", limits.MaxDailyTrades))
		}
	}

	logger.WithFields(map[string]interface{}{
		"module":   "risk",
		"op":       "Check",
		"user_id":  intent.UserID,
		"symbol":   intent.Symbol,
		"side":     intent.Side,
		"notional": intent.Notional(),
	}).Debug("Intent passed risk checks")

	return nil
}

// Refund releases the trade slot consumed by a passed Check when the order
// never reached the broker.
func (g *Gate) Refund(ctx context.Context, userID uint) error {
	return g.store.DecrementTradeCount(ctx, userID, model.RiskDay(g.now()))
}

func (g *Gate) reject(intent *model.OrderIntent, code, detail string) error {
	logger.WithFields(map[string]interface{}{
		"module":  "risk",
		"op":      "Check",
		"user_id": intent.UserID,
		"symbol":  intent.Symbol,
		"side":    intent.Side,
		"code":    code,
	}).Warn("Intent rejected by risk gate")

	return &RejectionError{Code: code, Detail: detail}
}
