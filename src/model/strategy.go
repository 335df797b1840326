package model

import "time"

// Position sizing rules. SizingValue is interpreted per rule: an absolute
// currency amount for fixed_amount, a percentage (0-100) for
// percentage_of_capital, a share count for fixed_quantity.
const (
	SizingFixedAmount      = "fixed_amount"
	SizingPercentOfCapital = "percentage_of_capital"
	SizingFixedQuantity    = "fixed_quantity"
	DefaultCapitalPercent  = 1.0
)

// Strategy is the read-only collaborator shape consumed by the resolver.
// Strategy CRUD lives outside this service; only lookups happen here.
// An empty Symbol matches any symbol.
type Strategy struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `gorm:"size:255;not null" json:"name"`
	Symbol string `gorm:"size:50;index" json:"symbol"`

	Active bool `gorm:"not null;default:true" json:"active"`
	// DryRun strategies get simulated fills instead of live broker orders.
	DryRun bool `gorm:"not null;default:false" json:"dry_run"`

	SizingRule  string  `gorm:"size:50;not null" json:"sizing_rule"`
	SizingValue float64 `gorm:"not null" json:"sizing_value"`

	// MaxPositionSize caps the notional of a single order from this
	// strategy, on top of the user-level risk limits. Zero disables the cap.
	MaxPositionSize float64 `gorm:"not null;default:0" json:"max_position_size"`

	TotalTrades    int        `gorm:"not null;default:0" json:"total_trades"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}
