package models

// ChannelBinding is the registry of channel → owner associations. A
// channel has one owner; re-registering moves the binding. Live duels are
// unaffected because they snapshot channels at creation.
type ChannelBinding struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	Channel       string `gorm:"uniqueIndex;not null" json:"channel"`
	OwnerPlayerID string `gorm:"index;not null" json:"owner_player_id"`

	Timestamps
}
