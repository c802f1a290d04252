package models

import "time"

// DuelHistory is the append-only settlement ledger. Rows are written once
// by the settlement engine and never updated.
type DuelHistory struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	PairKey    string `gorm:"index" json:"pair_key"`
	WinnerID   string `gorm:"index;not null" json:"winner_id"`
	WinnerName string `json:"winner_name"`
	LoserID    string `gorm:"index;not null" json:"loser_id"`
	LoserName  string `json:"loser_name"`

	PointsAwarded     int64 `json:"points_awarded"` // 3, or 6 on a comeback
	ArtifactSizeBytes int64 `json:"artifact_size_bytes"`
	ElapsedSeconds    int64 `json:"elapsed_seconds"` // since activation

	SettledAt time.Time `json:"settled_at" gorm:"autoCreateTime;index"`
}
