package model

import "time"

// RiskLimits is a per-user row consulted, never mutated, by the risk gate.
// Values are mutable at runtime through whatever manages user settings.
type RiskLimits struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"uniqueIndex;not null" json:"user_id"`

	MaxPositionSize float64 `gorm:"not null" json:"max_position_size"`
	MaxDailyLoss    float64 `gorm:"not null" json:"max_daily_loss"`
	MaxDailyTrades  int     `gorm:"not null" json:"max_daily_trades"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RiskLimits) TableName() string {
	return "risk_limits"
}

// DefaultRiskLimits returns the limits applied to users with no configured
// row.
func DefaultRiskLimits(userID uint) RiskLimits {
	return RiskLimits{
		UserID:          userID,
		MaxPositionSize: 100000,
		MaxDailyLoss:    5000,
		MaxDailyTrades:  50,
	}
}

// RiskCounter holds the per-user daily counters the gate increments. One row
// per (user, day); Day is a yyyy-mm-dd UTC date string. The composite unique
// index lets concurrent workers upsert the row safely, and the increment is
// a guarded UPDATE so a burst of concurrent intents cannot overshoot the
// trade limit.
type RiskCounter struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index:idx_risk_counter_user_day,unique" json:"user_id"`
	Day    string `gorm:"size:10;not null;index:idx_risk_counter_user_day,unique" json:"day"`

	TradeCount   int     `gorm:"not null;default:0" json:"trade_count"`
	RealizedLoss float64 `gorm:"not null;default:0" json:"realized_loss"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RiskCounter) TableName() string {
	return "risk_counters"
}

// RiskDay formats a timestamp as the counter day key.
func RiskDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
