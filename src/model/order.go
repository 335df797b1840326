package model

import "time"

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order status constants represent the lifecycle of a brokered order.
const (
	OrderStatusPending         = "pending"
	OrderStatusSubmitted       = "submitted"
	OrderStatusAcknowledged    = "acknowledged"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusRejected        = "rejected"
	OrderStatusCancelled       = "cancelled"
	OrderStatusError           = "error"
)

// orderStatusRank orders the forward progression of an order. Terminal
// failure states are not ranked; they are handled explicitly by
// CanTransitionOrderStatus.
var orderStatusRank = map[string]int{
	OrderStatusPending:         0,
	OrderStatusSubmitted:       1,
	OrderStatusAcknowledged:    2,
	OrderStatusPartiallyFilled: 3,
	OrderStatusFilled:          4,
}

// OrderStatusFinal reports whether no further transition is possible.
// A partial fill is not final: it can still fill or be cancelled.
func OrderStatusFinal(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusError:
		return true
	}
	return false
}

// OrderStatusSettlesAlert reports whether reaching this status completes the
// pipeline for the originating alert. The alert is marked processed even for
// a rejected order: processed means the pipeline ran to completion, not that
// the order succeeded.
func OrderStatusSettlesAlert(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionOrderStatus enforces the monotonic order state machine:
// pending -> submitted -> acknowledged -> partially_filled -> filled, with
// error reachable from any non-final state, rejection reachable from any
// non-final state, and cancellation only before a fill. A transition to a
// status behind the current one is refused, which makes duplicate or
// out-of-order broker callbacks a no-op.
func CanTransitionOrderStatus(from, to string) bool {
	if from == to {
		return false
	}
	if OrderStatusFinal(from) {
		return false
	}

	switch to {
	case OrderStatusError, OrderStatusRejected:
		return true
	case OrderStatusCancelled:
		return from == OrderStatusPending || from == OrderStatusSubmitted || from == OrderStatusAcknowledged
	}

	fromRank, ok := orderStatusRank[from]
	if !ok {
		return false
	}
	toRank, ok := orderStatusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// AllowsFillProgress reports whether an update refused by the status rank
// still carries new fill quantity: a partially filled order keeps reporting
// larger cumulative fills at the same status. Progress is monotone on
// quantity there, not on rank, so an equal or smaller quantity is a
// duplicate or stale callback and stays refused.
func AllowsFillProgress(from, to string, currentFilled, updateFilled int64) bool {
	return from == OrderStatusPartiallyFilled &&
		to == OrderStatusPartiallyFilled &&
		updateFilled > currentFilled
}

// Order represents an order submitted to the broker on behalf of an alert.
// AlertID is a lookup-only back-reference: the alert's lifecycle is
// independent of any order pointing at it.
type Order struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	AlertID    uint `gorm:"index" json:"alert_id"`
	UserID     uint `gorm:"index" json:"user_id"`
	StrategyID uint `gorm:"index" json:"strategy_id"`

	// ClientOrderID is generated locally and sent to the broker so a retried
	// submission can be correlated. BrokerOrderID is assigned by the broker
	// on successful submission and is empty before that.
	ClientOrderID string `gorm:"size:60;uniqueIndex" json:"client_order_id"`
	BrokerOrderID string `gorm:"size:100;index" json:"broker_order_id,omitempty"`

	Symbol     string   `gorm:"size:50;index" json:"symbol"`
	Exchange   string   `gorm:"size:20" json:"exchange"`
	Side       string   `gorm:"size:10;not null" json:"side"`
	OrderType  string   `gorm:"size:20;not null" json:"order_type"`
	Quantity   int      `gorm:"not null" json:"quantity"`
	LimitPrice *float64 `json:"limit_price,omitempty"`

	FilledQuantity int      `json:"filled_quantity"`
	AveragePrice   *float64 `json:"average_price,omitempty"`

	Status        string `gorm:"size:30;not null;default:pending" json:"status"`
	BrokerStatus  string `gorm:"size:50" json:"broker_status,omitempty"`
	BrokerMessage string `gorm:"size:512" json:"broker_message,omitempty"`
	FailureReason string `gorm:"size:512" json:"failure_reason,omitempty"`

	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// One-to-many: every mutation of the order writes an execution log row.
	Logs []OrderExecutionLog `gorm:"foreignKey:OrderID" json:"logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderIntent is the computed, not-yet-submitted description of an order to
// place. It is derived from an alert plus strategy parameters and is never
// persisted on its own; the executor materializes it into an Order row.
type OrderIntent struct {
	AlertID    uint
	UserID     uint
	StrategyID uint

	Symbol     string
	Exchange   string
	Side       string
	OrderType  string
	Quantity   int
	LimitPrice *float64

	// Price is the reference price used for sizing and risk checks.
	Price float64

	// DryRun intents are filled by the simulator instead of the broker.
	DryRun bool
}

// Notional returns quantity * reference price, the exposure the risk gate
// compares against the position size limit.
func (i OrderIntent) Notional() float64 {
	return float64(i.Quantity) * i.Price
}
