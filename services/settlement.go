package services

import (
	"context"
	"errors"
	"log"
	"time"

	"duel-bot/models"
	"duel-bot/utils"

	"gorm.io/gorm"
)

// ArrivalEvent is one artifact post observed by the chat relay in some
// registered channel. ObjectKey is set when the relay mirrored the object
// to R2, which lets the engine verify the reported size.
type ArrivalEvent struct {
	Channel   string    `json:"channel"`
	SizeBytes int64     `json:"size_bytes"`
	ObjectKey string    `json:"object_key,omitempty"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// Scoring deltas.
const (
	PenaltyPoints  int64 = -3
	WinPoints      int64 = 3
	ComebackPoints int64 = 6
	LossPoints     int64 = -1
)

// SettlementService classifies arrivals against active duels and applies
// the scoring rules. It runs under the same lock as the lifecycle engine,
// so an arrival and a video-timeout can never interleave.
type SettlementService struct {
	DB        *gorm.DB
	Duels     *DuelService
	Bus       *EventBus
	SizeLimit int64
}

func NewSettlementService(db *gorm.DB, duels *DuelService, bus *EventBus, sizeLimit int64) *SettlementService {
	return &SettlementService{DB: db, Duels: duels, Bus: bus, SizeLimit: sizeLimit}
}

// HandleArrival processes one observed artifact post. Arrivals in channels
// with no active duel are dropped silently; the relay watches every
// registered channel, most posts are not duel submissions. A player who is
// active in several duels at once submits to all of them with one post.
func (s *SettlementService) HandleArrival(ctx context.Context, ev ArrivalEvent) error {
	s.Duels.StoreLock().Lock()
	defer s.Duels.StoreLock().Unlock()

	var duels []models.Duel
	err := s.DB.Where("status = ? AND (challenger_channel = ? OR challenged_channel = ?)",
		models.DuelStatusActive, ev.Channel, ev.Channel).
		Find(&duels).Error
	if err != nil {
		return err
	}
	if len(duels) == 0 {
		return nil
	}

	size := ev.SizeBytes
	if ev.ObjectKey != "" && utils.R2Ready() {
		if verified, err := utils.ArtifactSize(ctx, ev.ObjectKey); err != nil {
			log.Printf("[SETTLE] size check failed for %s, using reported %d: %v", ev.ObjectKey, size, err)
		} else {
			size = verified
		}
	}
	qualifying := size >= s.SizeLimit

	for i := range duels {
		if err := s.applyArrival(&duels[i], ev, size, qualifying); err != nil {
			return err
		}
	}
	return nil
}

// applyArrival classifies one post against one active duel. Caller holds
// the store lock.
func (s *SettlementService) applyArrival(duel *models.Duel, ev ArrivalEvent, size int64, qualifying bool) error {
	playerID, ok := duel.ParticipantByChannel(ev.Channel)
	if !ok {
		return nil
	}

	// Idempotence is per classification: a repeat of the same class of
	// post changes nothing, but a qualifying post after a penalty still
	// settles the duel.
	var prior models.DuelArrival
	err := s.DB.Where("pair_key = ? AND player_id = ?", duel.PairKey, playerID).
		First(&prior).Error
	hasPrior := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if hasPrior && (prior.Qualifying || !qualifying) {
		log.Printf("[SETTLE] repeat arrival from %s in %s ignored", playerID, duel.PairKey)
		return nil
	}

	if !qualifying {
		return s.applyPenalty(duel, playerID, ev, size)
	}
	return s.settle(duel, playerID, ev, size)
}

// applyPenalty records a sub-threshold arrival and docks the poster. The
// duel stays active; the poster can still win with a qualifying post.
func (s *SettlementService) applyPenalty(duel *models.Duel, playerID string, ev ArrivalEvent, size int64) error {
	var newScore int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		arrival := models.DuelArrival{
			PairKey:   duel.PairKey,
			PlayerID:  playerID,
			Channel:   ev.Channel,
			SizeBytes: size,
			ArrivedAt: ev.ArrivedAt,
		}
		if err := tx.Create(&arrival).Error; err != nil {
			return err
		}
		var p models.Player
		if err := tx.Where("player_id = ?", playerID).First(&p).Error; err != nil {
			return err
		}
		p.Score += PenaltyPoints
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		newScore = p.Score
		return nil
	})
	if err != nil {
		return err
	}
	s.Bus.Publish(Event{
		Type:              EventPenaltyApplied,
		PairKey:           duel.PairKey,
		Player:            playerID,
		NewScore:          &newScore,
		ArtifactSizeBytes: size,
	})
	log.Printf("[SETTLE] %s posted %d bytes in %s, below limit, %+d", playerID, size, duel.PairKey, PenaltyPoints)
	return nil
}

// settle ends the duel: first qualifying post wins. Winner takes +3, or +6
// when coming back from an earlier penalty in this duel; loser takes -1.
// History is appended and the duel row (with its arrivals) is removed, all
// in one transaction.
func (s *SettlementService) settle(duel *models.Duel, winnerID string, ev ArrivalEvent, size int64) error {
	loserID := duel.OpponentOf(winnerID)

	points := WinPoints
	var winnerPenalized int64
	if err := s.DB.Model(&models.DuelArrival{}).
		Where("pair_key = ? AND player_id = ? AND qualifying = ?", duel.PairKey, winnerID, false).
		Count(&winnerPenalized).Error; err != nil {
		return err
	}
	if winnerPenalized > 0 {
		points = ComebackPoints
	}

	var loserArrival *ArrivalSummary
	var la models.DuelArrival
	err := s.DB.Where("pair_key = ? AND player_id = ?", duel.PairKey, loserID).
		First(&la).Error
	if err == nil {
		loserArrival = &ArrivalSummary{SizeBytes: la.SizeBytes, Channel: la.Channel, ArrivedAt: la.ArrivedAt}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var elapsed int64
	if duel.ActivatedAt != nil {
		elapsed = int64(ev.ArrivedAt.Sub(*duel.ActivatedAt).Seconds())
		if elapsed < 0 {
			elapsed = 0
		}
	}

	var winner, loser models.Player
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("player_id = ?", winnerID).First(&winner).Error; err != nil {
			return err
		}
		if err := tx.Where("player_id = ?", loserID).First(&loser).Error; err != nil {
			return err
		}
		winner.Score += points
		winner.Wins++
		winner.DuelsPlayed++
		loser.Score += LossPoints
		loser.Losses++
		loser.DuelsPlayed++
		if err := tx.Save(&winner).Error; err != nil {
			return err
		}
		if err := tx.Save(&loser).Error; err != nil {
			return err
		}
		history := models.DuelHistory{
			PairKey:           duel.PairKey,
			WinnerID:          winner.PlayerID,
			WinnerName:        winner.Username,
			LoserID:           loser.PlayerID,
			LoserName:         loser.Username,
			PointsAwarded:     points,
			ArtifactSizeBytes: size,
			ElapsedSeconds:    elapsed,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		if err := tx.Where("pair_key = ?", duel.PairKey).Delete(&models.DuelArrival{}).Error; err != nil {
			return err
		}
		return tx.Where("pair_key = ?", duel.PairKey).Delete(&models.Duel{}).Error
	})
	if err != nil {
		return err
	}

	s.Bus.Publish(Event{
		Type:              EventDuelSettled,
		PairKey:           duel.PairKey,
		Winner:            winnerID,
		Loser:             loserID,
		PointsAwarded:     points,
		ArtifactSizeBytes: size,
		ElapsedSeconds:    elapsed,
		LoserArrival:      loserArrival,
	})
	log.Printf("[SETTLE] %s won %s with %d bytes in %ds (%+d)", winnerID, duel.PairKey, size, elapsed, points)
	return nil
}

// History returns the most recent settled duels, newest first.
func (s *SettlementService) History(limit int) ([]models.DuelHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []models.DuelHistory
	err := s.DB.Order("settled_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
