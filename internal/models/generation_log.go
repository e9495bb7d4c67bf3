package models

import "time"

// GenerationLog records one gateway call for cost accounting.
type GenerationLog struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	Provider  string  `gorm:"size:32;index"`
	Model     string  `gorm:"size:64;index"`
	Tokens    int     `gorm:"not null"`
	Cost      float64 `gorm:"not null"`
	LatencyMs int
	CreatedAt time.Time
}
