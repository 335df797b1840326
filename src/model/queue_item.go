package model

import "time"

// QueueItem is one dispatch queue entry pointing at an alert awaiting
// processing. Delivery is at-least-once: a consumer claims an item by
// setting LockedUntil; if it never acks, the claim expires and the item
// becomes visible again. Items are pulled oldest-first per user, and a user
// with an in-flight claim yields no further items, which gives FIFO plus
// serialization within one user's stream.
type QueueItem struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	AlertID uint `gorm:"index;not null" json:"alert_id"`
	UserID  uint `gorm:"index;not null" json:"user_id"`

	AvailableAt time.Time  `gorm:"not null;index" json:"available_at"`
	LockedUntil *time.Time `gorm:"index" json:"locked_until,omitempty"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QueueItem) TableName() string {
	return "dispatch_queue"
}
