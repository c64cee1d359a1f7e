package models

import "time"

// WebhookStat holds per-day ingestion counters flushed from Redis.
type WebhookStat struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Day        string    `gorm:"type:varchar(10);not null;uniqueIndex:ux_webhook_stats_day" json:"day"`
	Received   int64     `gorm:"not null;default:0" json:"received"`
	Duplicates int64     `gorm:"not null;default:0" json:"duplicates"`
	Conflicts  int64     `gorm:"not null;default:0" json:"conflicts"`
	Completed  int64     `gorm:"not null;default:0" json:"completed"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
