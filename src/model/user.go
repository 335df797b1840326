package model

import "time"

// User is the read-only collaborator shape consumed by the pipeline. Account
// management happens elsewhere; the pipeline only needs the active flag and
// the broker access token, which is stored encrypted at rest.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Active   bool   `gorm:"not null;default:true" json:"active"`

	BrokerTokenCipher []byte `gorm:"column:broker_token" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// HasBrokerToken reports whether the user can place live orders.
func (u *User) HasBrokerToken() bool {
	return len(u.BrokerTokenCipher) > 0
}
