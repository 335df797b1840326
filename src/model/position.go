package model

import "time"

// Position is the per-user holding for one symbol. The risk gate reads it to
// decide whether a sell reduces exposure; the reconciler updates it on fills.
type Position struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"not null;index:idx_position_user_symbol,unique" json:"user_id"`
	Symbol string `gorm:"size:50;not null;index:idx_position_user_symbol,unique" json:"symbol"`

	Quantity      int64   `gorm:"not null;default:0" json:"quantity"`
	AvgEntryPrice float64 `gorm:"not null;default:0" json:"avg_entry_price"`
	RealizedPnl   float64 `gorm:"not null;default:0" json:"realized_pnl"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
