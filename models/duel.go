package models

import (
	"strings"
	"time"
)

// Duel statuses. Settled and cancelled duels are removed from the table
// (history keeps the outcome), so only live statuses are ever stored.
const (
	DuelStatusPending   = "pending"
	DuelStatusScheduled = "scheduled"
	DuelStatusActive    = "active"
)

// Duel is the single live contest between two players. The primary key is
// the canonical pair key, which is what guarantees at most one duel per
// pair: a second insert for the same pair fails on the key.
type Duel struct {
	PairKey string `gorm:"primaryKey" json:"pair_key"`

	ChallengerID string `gorm:"index;not null" json:"challenger_id"`
	ChallengedID string `gorm:"index;not null" json:"challenged_id"`

	// Channel snapshots resolved from the players at creation time.
	ChallengerChannel string `gorm:"not null" json:"challenger_channel"`
	ChallengedChannel string `gorm:"not null" json:"challenged_channel"`

	Status string `gorm:"type:varchar(16);default:'pending'" json:"status"`

	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	ScheduledStartAt *time.Time `json:"scheduled_start_at,omitempty"` // nil = immediate start on accept
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`       // set on entering active
}

// PairKeyFor returns the canonical unordered key for two player identities.
func PairKeyFor(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "__" + b
}

// HasParticipant reports whether id is one of the duel's two players.
func (d *Duel) HasParticipant(id string) bool {
	return id == d.ChallengerID || id == d.ChallengedID
}

// OpponentOf returns the other participant's id.
func (d *Duel) OpponentOf(id string) string {
	if id == d.ChallengerID {
		return d.ChallengedID
	}
	return d.ChallengerID
}

// ParticipantByChannel resolves which participant owns the given artifact
// channel, if either does.
func (d *Duel) ParticipantByChannel(channel string) (string, bool) {
	switch channel {
	case d.ChallengerChannel:
		return d.ChallengerID, true
	case d.ChallengedChannel:
		return d.ChallengedID, true
	}
	return "", false
}
