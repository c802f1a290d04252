package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"duel-bot/models"
	"duel-bot/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegistryService owns the Player table and the channel→owner bindings.
type RegistryService struct {
	DB *gorm.DB
}

func NewRegistryService(db *gorm.DB) *RegistryService {
	return &RegistryService{DB: db}
}

// GetOrCreate ensures a Player row exists for the identity (lazy creation
// on first reference) and refreshes the stored username when one is given.
func (s *RegistryService) GetOrCreate(playerID, username string) (*models.Player, error) {
	return s.getOrCreateTx(s.DB, playerID, username)
}

func (s *RegistryService) getOrCreateTx(tx *gorm.DB, playerID, username string) (*models.Player, error) {
	var p models.Player
	err := tx.Where("player_id = ?", playerID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if username == "" {
			username = playerID
		}
		p = models.Player{
			PlayerID: playerID,
			Username: username,
			Handle:   utils.NormalizeHandle(username),
		}
		if err := tx.Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	if username != "" && username != p.Username {
		p.Username = username
		p.Handle = utils.NormalizeHandle(username)
		if err := tx.Save(&p).Error; err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// Get returns the player or gorm.ErrRecordNotFound.
func (s *RegistryService) Get(playerID string) (*models.Player, error) {
	var p models.Player
	if err := s.DB.Where("player_id = ?", playerID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByHandle resolves a challenge target like "@SomeUser".
func (s *RegistryService) FindByHandle(handle string) (*models.Player, error) {
	var p models.Player
	err := s.DB.Where("handle = ?", utils.NormalizeHandle(handle)).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RegisterArtifactChannel binds a channel to the player and records it in
// the channel registry. Re-registering moves the binding; in-flight duels
// keep their snapshot.
func (s *RegistryService) RegisterArtifactChannel(playerID, username, channel string) (*models.Player, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel must not be empty")
	}
	var out *models.Player
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		p, err := s.getOrCreateTx(tx, playerID, username)
		if err != nil {
			return err
		}
		binding := models.ChannelBinding{Channel: channel, OwnerPlayerID: playerID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_player_id", "updated_at"}),
		}).Create(&binding).Error; err != nil {
			return err
		}
		p.ArtifactChannel = &channel
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[REGISTRY] player %s bound to channel %s", playerID, channel)
	return out, nil
}

// UnregisterChannel removes a channel binding (admin operation). Players
// pointing at it keep no channel until they register a new one. The delete
// is unscoped: a soft-deleted row would still occupy the unique channel
// index and shadow any later re-registration.
func (s *RegistryService) UnregisterChannel(channel string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("channel = ?", channel).Delete(&models.ChannelBinding{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Player{}).
			Where("artifact_channel = ?", channel).
			Update("artifact_channel", nil).Error
	})
}

// ListChannels returns all channel bindings.
func (s *RegistryService) ListChannels() ([]models.ChannelBinding, error) {
	var bindings []models.ChannelBinding
	err := s.DB.Order("created_at ASC").Find(&bindings).Error
	return bindings, err
}

// RegisterTimezone stores display-only timezone metadata. It validates the
// IANA name but the engine never uses it for anything else.
func (s *RegistryService) RegisterTimezone(playerID, username, tz string) (*models.Player, error) {
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	var out *models.Player
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		p, err := s.getOrCreateTx(tx, playerID, username)
		if err != nil {
			return err
		}
		p.Timezone = &tz
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Leaderboard returns players who have finished at least one duel, best
// score first.
func (s *RegistryService) Leaderboard(limit int) ([]models.Player, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var players []models.Player
	err := s.DB.Where("duels_played > 0").
		Order("score DESC").
		Limit(limit).
		Find(&players).Error
	return players, err
}

// ResetScore zeroes a player's score (admin operation).
func (s *RegistryService) ResetScore(playerID string) error {
	res := s.DB.Model(&models.Player{}).Where("player_id = ?", playerID).Update("score", 0)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
