package services

import (
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"duel-bot/models"

	"gorm.io/gorm"
)

// Validation and authorization failures surfaced to callers. Timer no-ops
// are never errors; they are logged and swallowed.
var (
	ErrNoSuchPlayer            = errors.New("no such player")
	ErrSelfChallengeNotAllowed = errors.New("you cannot challenge yourself")
	ErrDuelAlreadyExists       = errors.New("a duel between these two players is already in progress")
	ErrMissingArtifactChannel  = errors.New("player has no artifact channel registered")
	ErrNotTheChallengedParty   = errors.New("only the challenged player can respond to this duel")
	ErrNoPendingDuelForCaller  = errors.New("no pending duel for this player")
	ErrNoDuelForCaller         = errors.New("no duel to cancel for this player")
	ErrInvalidScheduleTime     = errors.New("scheduled start must be at least 2 minutes in the future")
)

const (
	MinScheduleLead = 2 * time.Minute
	ReminderLead    = 5 * time.Minute

	DefaultAcceptTimeout = 300 * time.Second
	DefaultVideoTimeout  = 300 * time.Second
	DefaultSizeLimit     = 70 * 1024 * 1024 // 70 MiB
)

// DuelConfig carries the engine tunables.
type DuelConfig struct {
	AcceptTimeout time.Duration
	VideoTimeout  time.Duration
	SizeLimit     int64
}

// LoadDuelConfig reads tunables from the environment, falling back to the
// defaults above.
func LoadDuelConfig() DuelConfig {
	cfg := DuelConfig{
		AcceptTimeout: DefaultAcceptTimeout,
		VideoTimeout:  DefaultVideoTimeout,
		SizeLimit:     DefaultSizeLimit,
	}
	if v := os.Getenv("ACCEPT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AcceptTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("VIDEO_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.VideoTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("VIDEO_SIZE_LIMIT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.SizeLimit = n
		}
	}
	return cfg
}

// DuelService is the lifecycle engine: it validates transitions, applies
// them to the duel table, arms timers and publishes events. All
// read-modify-write sequences on duels run under mu — commands and timer
// callbacks alike — which is the serialization the store needs at this
// scale.
type DuelService struct {
	DB        *gorm.DB
	Registry  *RegistryService
	Scheduler *DuelScheduler
	Bus       *EventBus
	Config    DuelConfig

	mu  sync.Mutex
	now func() time.Time
}

func NewDuelService(db *gorm.DB, registry *RegistryService, sched *DuelScheduler, bus *EventBus, cfg DuelConfig) *DuelService {
	return &DuelService{
		DB:        db,
		Registry:  registry,
		Scheduler: sched,
		Bus:       bus,
		Config:    cfg,
		now:       time.Now,
	}
}

// StoreLock exposes the duel-store lock so the settlement engine can
// serialize against commands and timers.
func (s *DuelService) StoreLock() sync.Locker {
	return &s.mu
}

// CreateDuel validates and writes a pending duel for challenger vs the
// player behind challengedHandle, then arms the accept-timeout timer.
// scheduledAt nil means the duel starts the moment it is accepted.
func (s *DuelService) CreateDuel(challengerID, challengedHandle string, scheduledAt *time.Time) (*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenger, err := s.Registry.Get(challengerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSuchPlayer
	}
	if err != nil {
		return nil, err
	}
	challenged, err := s.Registry.FindByHandle(challengedHandle)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSuchPlayer
	}
	if err != nil {
		return nil, err
	}
	if challenged.PlayerID == challenger.PlayerID {
		return nil, ErrSelfChallengeNotAllowed
	}
	if challenger.ArtifactChannel == nil || challenged.ArtifactChannel == nil {
		return nil, ErrMissingArtifactChannel
	}

	// The start must be strictly later than creation plus the lead.
	if scheduledAt != nil && !scheduledAt.After(s.now().Add(MinScheduleLead)) {
		return nil, ErrInvalidScheduleTime
	}

	key := models.PairKeyFor(challenger.PlayerID, challenged.PlayerID)

	var existing models.Duel
	err = s.DB.Where("pair_key = ?", key).First(&existing).Error
	if err == nil {
		return nil, ErrDuelAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	duel := models.Duel{
		PairKey:           key,
		ChallengerID:      challenger.PlayerID,
		ChallengedID:      challenged.PlayerID,
		ChallengerChannel: *challenger.ArtifactChannel,
		ChallengedChannel: *challenged.ArtifactChannel,
		Status:            models.DuelStatusPending,
		ScheduledStartAt:  scheduledAt,
	}
	if err := s.DB.Create(&duel).Error; err != nil {
		return nil, err
	}

	// Persisted first; only now is it safe to arm the timer and announce.
	s.Scheduler.ArmAfter(key, TimerAcceptTimeout, s.Config.AcceptTimeout, func() {
		s.OnAcceptTimeout(key)
	})
	s.Bus.Publish(Event{
		Type:             EventDuelCreated,
		PairKey:          key,
		Challenger:       challenger.PlayerID,
		Challenged:       challenged.PlayerID,
		ScheduledStartAt: scheduledAt,
	})
	log.Printf("[DUEL] created %s (%s vs %s)", key, challenger.PlayerID, challenged.PlayerID)
	return &duel, nil
}

// Accept moves the caller's pending duel to scheduled or active. Only the
// challenged party may accept.
func (s *DuelService) Accept(callerID string) (*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	duel, err := s.pendingDuelFor(callerID)
	if err != nil {
		return nil, err
	}

	if duel.ScheduledStartAt != nil {
		duel.Status = models.DuelStatusScheduled
		if err := s.DB.Save(duel).Error; err != nil {
			return nil, err
		}

		// The accept-timeout timer is not cancelled; it re-checks status
		// when it fires and finds the duel no longer pending.
		key := duel.PairKey
		startAt := *duel.ScheduledStartAt
		s.Scheduler.ArmAt(key, TimerScheduledStart, startAt, func() {
			s.OnScheduledStart(key)
		})
		if reminderAt := startAt.Add(-ReminderLead); reminderAt.After(s.now()) {
			s.Scheduler.ArmAt(key, TimerPreStartReminder, reminderAt, func() {
				s.OnPreStartReminder(key)
			})
		}
		s.Bus.Publish(Event{
			Type:             EventDuelScheduled,
			PairKey:          key,
			Challenger:       duel.ChallengerID,
			Challenged:       duel.ChallengedID,
			ScheduledStartAt: duel.ScheduledStartAt,
		})
		log.Printf("[DUEL] %s scheduled for %s", key, startAt.Format(time.RFC3339))
		return duel, nil
	}

	if err := s.activateLocked(duel); err != nil {
		return nil, err
	}
	return duel, nil
}

// Decline removes the caller's pending duel. Only the challenged party may
// decline.
func (s *DuelService) Decline(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	duel, err := s.pendingDuelFor(callerID)
	if err != nil {
		return err
	}
	if err := s.removeDuel(duel.PairKey); err != nil {
		return err
	}
	s.Bus.Publish(Event{
		Type:       EventDuelCancelled,
		PairKey:    duel.PairKey,
		Challenger: duel.ChallengerID,
		Challenged: duel.ChallengedID,
		Reason:     CancelReasonDeclined,
	})
	log.Printf("[DUEL] %s declined by %s", duel.PairKey, callerID)
	return nil
}

// Cancel removes any live duel the caller participates in, regardless of
// status. Penalties already applied stand.
func (s *DuelService) Cancel(callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var duel models.Duel
	err := s.DB.Where("challenger_id = ? OR challenged_id = ?", callerID, callerID).
		First(&duel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoDuelForCaller
	}
	if err != nil {
		return err
	}
	if err := s.removeDuel(duel.PairKey); err != nil {
		return err
	}
	s.Bus.Publish(Event{
		Type:       EventDuelCancelled,
		PairKey:    duel.PairKey,
		Challenger: duel.ChallengerID,
		Challenged: duel.ChallengedID,
		Reason:     CancelReasonCancelled,
	})
	log.Printf("[DUEL] %s cancelled by %s", duel.PairKey, callerID)
	return nil
}

// Get returns the caller's live duel, if any.
func (s *DuelService) Get(pairKey string) (*models.Duel, error) {
	var duel models.Duel
	if err := s.DB.Where("pair_key = ?", pairKey).First(&duel).Error; err != nil {
		return nil, err
	}
	return &duel, nil
}

// OnAcceptTimeout fires when the accept window closes. A duel that is no
// longer pending (accepted, declined, cancelled) makes this a no-op.
func (s *DuelService) OnAcceptTimeout(pairKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	duel, ok := s.requireStatus(pairKey, models.DuelStatusPending, "accept-timeout")
	if !ok {
		return
	}
	if err := s.removeDuel(pairKey); err != nil {
		log.Printf("[DUEL] accept-timeout removal failed for %s: %v", pairKey, err)
		return
	}
	s.Bus.Publish(Event{
		Type:       EventDuelCancelled,
		PairKey:    pairKey,
		Challenger: duel.ChallengerID,
		Challenged: duel.ChallengedID,
		Reason:     CancelReasonAcceptTimeout,
	})
	log.Printf("[DUEL] %s cancelled: not accepted in time", pairKey)
}

// OnPreStartReminder fires five minutes before a scheduled start.
func (s *DuelService) OnPreStartReminder(pairKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	duel, ok := s.requireStatus(pairKey, models.DuelStatusScheduled, "pre-start-reminder")
	if !ok {
		return
	}
	s.Bus.Publish(Event{
		Type:             EventReminderDue,
		PairKey:          pairKey,
		Challenger:       duel.ChallengerID,
		Challenged:       duel.ChallengedID,
		ScheduledStartAt: duel.ScheduledStartAt,
	})
}

// OnScheduledStart fires at the scheduled instant and activates the duel
// if it is still scheduled.
func (s *DuelService) OnScheduledStart(pairKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	duel, ok := s.requireStatus(pairKey, models.DuelStatusScheduled, "scheduled-start")
	if !ok {
		return
	}
	if duel.ScheduledStartAt != nil && s.now().Before(*duel.ScheduledStartAt) {
		// Armed under a clock that has since moved; the sweep re-arms it.
		log.Printf("[DUEL] scheduled-start fired early for %s, ignoring", pairKey)
		return
	}
	if err := s.activateLocked(duel); err != nil {
		log.Printf("[DUEL] scheduled activation failed for %s: %v", pairKey, err)
	}
}

// OnVideoTimeout fires when the race window closes. A still-active duel
// ends as a draw with no score change; penalties already applied stand.
func (s *DuelService) OnVideoTimeout(pairKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	duel, ok := s.requireStatus(pairKey, models.DuelStatusActive, "video-timeout")
	if !ok {
		return
	}
	if err := s.removeDuel(pairKey); err != nil {
		log.Printf("[DUEL] video-timeout removal failed for %s: %v", pairKey, err)
		return
	}
	s.Bus.Publish(Event{
		Type:       EventDuelTimedOut,
		PairKey:    pairKey,
		Challenger: duel.ChallengerID,
		Challenged: duel.ChallengedID,
	})
	log.Printf("[DUEL] %s timed out with no winner", pairKey)
}

// RecoverTimers re-arms timers for every persisted duel from its stored
// deadlines. Called once at boot and every minute as a sweep, so a timer
// lost to a restart still fires; the status guards make double-arming
// harmless.
func (s *DuelService) RecoverTimers() {
	var duels []models.Duel
	if err := s.DB.Find(&duels).Error; err != nil {
		log.Printf("[DUEL] timer recovery scan failed: %v", err)
		return
	}
	for _, d := range duels {
		key := d.PairKey
		switch d.Status {
		case models.DuelStatusPending:
			s.Scheduler.ArmAt(key, TimerAcceptTimeout, d.CreatedAt.Add(s.Config.AcceptTimeout), func() {
				s.OnAcceptTimeout(key)
			})
		case models.DuelStatusScheduled:
			if d.ScheduledStartAt == nil {
				continue
			}
			s.Scheduler.ArmAt(key, TimerScheduledStart, *d.ScheduledStartAt, func() {
				s.OnScheduledStart(key)
			})
			if reminderAt := d.ScheduledStartAt.Add(-ReminderLead); reminderAt.After(s.now()) {
				s.Scheduler.ArmAt(key, TimerPreStartReminder, reminderAt, func() {
					s.OnPreStartReminder(key)
				})
			}
		case models.DuelStatusActive:
			if d.ActivatedAt == nil {
				continue
			}
			s.Scheduler.ArmAt(key, TimerVideoTimeout, d.ActivatedAt.Add(s.Config.VideoTimeout), func() {
				s.OnVideoTimeout(key)
			})
		}
	}
}

// activateLocked flips a duel to active, arms the video-timeout timer and
// announces the start. Caller holds mu.
func (s *DuelService) activateLocked(duel *models.Duel) error {
	now := s.now()
	duel.Status = models.DuelStatusActive
	duel.ActivatedAt = &now
	if err := s.DB.Save(duel).Error; err != nil {
		return err
	}
	key := duel.PairKey
	s.Scheduler.ArmAfter(key, TimerVideoTimeout, s.Config.VideoTimeout, func() {
		s.OnVideoTimeout(key)
	})
	s.Bus.Publish(Event{
		Type:       EventDuelActivated,
		PairKey:    key,
		Challenger: duel.ChallengerID,
		Challenged: duel.ChallengedID,
	})
	log.Printf("[DUEL] %s active, %s to post", key, s.Config.VideoTimeout)
	return nil
}

// pendingDuelFor finds the pending duel the caller may accept or decline.
// A challenger poking their own pending duel gets the authorization error,
// not the not-found one.
func (s *DuelService) pendingDuelFor(callerID string) (*models.Duel, error) {
	var duel models.Duel
	err := s.DB.Where("challenged_id = ? AND status = ?", callerID, models.DuelStatusPending).
		First(&duel).Error
	if err == nil {
		return &duel, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	var asChallenger int64
	if err := s.DB.Model(&models.Duel{}).
		Where("challenger_id = ? AND status = ?", callerID, models.DuelStatusPending).
		Count(&asChallenger).Error; err != nil {
		return nil, err
	}
	if asChallenger > 0 {
		return nil, ErrNotTheChallengedParty
	}
	return nil, ErrNoPendingDuelForCaller
}

// requireStatus re-reads the duel and checks it is still in the state the
// timer was armed under. Caller holds mu.
func (s *DuelService) requireStatus(pairKey, status, timer string) (*models.Duel, bool) {
	var duel models.Duel
	err := s.DB.Where("pair_key = ?", pairKey).First(&duel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[DUEL] %s fired for %s but the duel is gone, no-op", timer, pairKey)
		return nil, false
	}
	if err != nil {
		log.Printf("[DUEL] %s lookup failed for %s: %v", timer, pairKey, err)
		return nil, false
	}
	if duel.Status != status {
		log.Printf("[DUEL] %s fired for %s in status %s, no-op", timer, pairKey, duel.Status)
		return nil, false
	}
	return &duel, true
}

// removeDuel deletes the duel and its recorded arrivals in one
// transaction. Caller holds mu.
func (s *DuelService) removeDuel(pairKey string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pair_key = ?", pairKey).Delete(&models.DuelArrival{}).Error; err != nil {
			return err
		}
		return tx.Where("pair_key = ?", pairKey).Delete(&models.Duel{}).Error
	})
}

// SetClock overrides the engine clock. Test hook.
func (s *DuelService) SetClock(now func() time.Time) {
	s.now = now
}
