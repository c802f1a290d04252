package models

import "time"

// DuelArrival records the first video post a participant made in a live
// duel. The unique index gives the settlement engine its idempotence: a
// participant gets at most one recorded arrival per duel, and the row is
// removed together with the duel.
type DuelArrival struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PairKey  string `gorm:"index;uniqueIndex:idx_arrival_pair_player,priority:1;not null" json:"pair_key"`
	PlayerID string `gorm:"uniqueIndex:idx_arrival_pair_player,priority:2;not null" json:"player_id"`

	Channel   string    `json:"channel"`
	SizeBytes int64     `json:"size_bytes"`
	ArrivedAt time.Time `json:"arrived_at"`

	// Qualifying is false for a sub-threshold (penalty) post. A qualifying
	// post settles the duel immediately, so stored rows are almost always
	// penalties.
	Qualifying bool `json:"qualifying" gorm:"default:false"`
}
