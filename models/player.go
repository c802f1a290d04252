package models

import (
	"time"

	"gorm.io/gorm"
)

// Player is the registry record for one chat-platform participant.
// Created lazily on first reference; mutated by settlement and by
// channel/timezone registration; never deleted.
type Player struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PlayerID string `gorm:"uniqueIndex;not null" json:"player_id"` // chat-platform identity
	Username string `gorm:"index" json:"username"`
	Handle   string `gorm:"index" json:"handle"` // normalized username, used for @handle lookups

	Score       int64 `json:"score" gorm:"default:0"`
	Wins        int64 `json:"wins" gorm:"default:0"`
	Losses      int64 `json:"losses" gorm:"default:0"`
	DuelsPlayed int64 `json:"duels_played" gorm:"default:0"`

	// ArtifactChannel is the content channel the relay watches for this
	// player's video posts. Absent until registered; snapshotted into the
	// Duel at creation time so later re-registration never touches an
	// in-flight duel.
	ArtifactChannel *string `json:"artifact_channel,omitempty"`

	// Timezone is display metadata for the chat front-end. The engine
	// stores it and nothing else.
	Timezone *string `json:"timezone,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
