package model

import "time"

// Exception is a persisted record of an unexpected error captured somewhere
// in the pipeline, kept for operator review.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100" json:"service"`
	Module  string `gorm:"size:100" json:"module"`
	Method  string `gorm:"size:150" json:"method"`
	Level   string `gorm:"size:20" json:"level"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`
	Context string `gorm:"type:text" json:"context"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
