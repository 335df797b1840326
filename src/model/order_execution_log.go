package model

import "time"

// OrderExecutionLog stores the detailed history of each order mutation: the
// status it moved to, why, and what the broker reported at that moment.
type OrderExecutionLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	OrderID uint   `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"order,omitempty"`

	// Snapshot of the order at the moment of this log entry.
	Symbol    string   `gorm:"size:50" json:"symbol"`
	Side      string   `gorm:"size:10" json:"side"`
	OrderType string   `gorm:"size:20" json:"order_type"`
	Quantity  int      `json:"quantity"`
	Price     *float64 `json:"price,omitempty"`

	BrokerOrderID string `gorm:"size:100" json:"broker_order_id,omitempty"`

	Status    string    `gorm:"size:30;not null" json:"status"`
	Reason    string    `gorm:"size:512" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (OrderExecutionLog) TableName() string {
	return "order_execution_logs"
}
