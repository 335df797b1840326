package model

import "time"

const (
	AlertKindSignal = "signal"
	AlertKindScan   = "scan"
)

// Alert status lifecycle: received -> processing -> processed|failed.
// Scan alerts stay at received forever; they are informational only.
const (
	AlertStatusReceived   = "received"
	AlertStatusProcessing = "processing"
	AlertStatusProcessed  = "processed"
	AlertStatusFailed     = "failed"
)

const (
	AlertActionBuy  = "buy"
	AlertActionSell = "sell"
	AlertActionHold = "hold"
)

// Alert is the normalized record of one inbound signal or scan event.
// ExternalID is the sole idempotency key: a duplicate inbound payload maps
// to the same ExternalID and must not create a second row.
type Alert struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"index" json:"user_id"`
	ExternalID string `gorm:"size:100;uniqueIndex;not null" json:"external_id"`
	Kind       string `gorm:"size:20;not null" json:"kind"`

	// Signal fields
	Symbol   string  `gorm:"size:50;index" json:"symbol"`
	Exchange string  `gorm:"size:20" json:"exchange"`
	Action   string  `gorm:"size:20" json:"action"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Message  string  `gorm:"size:512" json:"message,omitempty"`

	// Scan fields
	ScanName    string `gorm:"size:255" json:"scan_name,omitempty"`
	ScanURL     string `gorm:"size:512" json:"scan_url,omitempty"`
	AlertName   string `gorm:"size:255" json:"alert_name,omitempty"`
	TriggeredAt string `gorm:"size:50" json:"triggered_at,omitempty"`

	Status        string `gorm:"size:20;not null;default:received" json:"status"`
	FailureReason string `gorm:"size:512" json:"failure_reason,omitempty"`

	// RawPayload keeps the original webhook body verbatim for audit.
	RawPayload string `gorm:"type:text" json:"raw_payload,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// One-to-many: scan alerts carry the triggered stock list.
	Stocks []AlertStock `gorm:"foreignKey:AlertID" json:"stocks,omitempty"`
}

func (Alert) TableName() string {
	return "alerts"
}

// IsSettled reports whether the pipeline is done with this alert.
func (a *Alert) IsSettled() bool {
	return a.Status == AlertStatusProcessed || a.Status == AlertStatusFailed
}

// IsActionable reports whether the alert can produce an order.
func (a *Alert) IsActionable() bool {
	return a.Kind == AlertKindSignal &&
		(a.Action == AlertActionBuy || a.Action == AlertActionSell)
}

// AlertStock is one (symbol, trigger price) entry of a scan alert.
// Ordinal preserves the order of the incoming list.
type AlertStock struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	AlertID      uint    `gorm:"index" json:"alert_id"`
	Ordinal      int     `json:"ordinal"`
	Symbol       string  `gorm:"size:50" json:"symbol"`
	TriggerPrice float64 `json:"trigger_price"`
}

func (AlertStock) TableName() string {
	return "alert_stocks"
}
