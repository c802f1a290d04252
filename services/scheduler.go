// services/scheduler.go
package services

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TimerPurpose names the four single-shot timers the lifecycle engine
// arms against a duel.
type TimerPurpose string

const (
	TimerAcceptTimeout    TimerPurpose = "accept-timeout"
	TimerVideoTimeout     TimerPurpose = "video-timeout"
	TimerScheduledStart   TimerPurpose = "scheduled-start"
	TimerPreStartReminder TimerPurpose = "pre-start-reminder"
)

// DuelScheduler arms fire-and-forget one-shot jobs. Timers are never
// cancelled once armed; every callback re-checks duel state before acting,
// so a stale firing is a no-op rather than a race.
type DuelScheduler struct {
	sched gocron.Scheduler
}

func NewDuelScheduler() (*DuelScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &DuelScheduler{sched: sched}, nil
}

func (s *DuelScheduler) Start() {
	s.sched.Start()
}

func (s *DuelScheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// ArmAt schedules fn to run once at the given instant. An instant already
// in the past fires immediately; it can never fire early. Re-arming the
// same pair/purpose replaces the previous job, which keeps the recovery
// sweep from piling up duplicates.
func (s *DuelScheduler) ArmAt(pairKey string, purpose TimerPurpose, at time.Time, fn func()) {
	name := pairKey + "/" + string(purpose)
	s.sched.RemoveByTags(name)

	var def gocron.OneTimeJobStartAtOption
	if at.After(time.Now()) {
		def = gocron.OneTimeJobStartDateTime(at)
	} else {
		def = gocron.OneTimeJobStartImmediately()
	}
	_, err := s.sched.NewJob(
		gocron.OneTimeJob(def),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithTags(pairKey, name),
	)
	if err != nil {
		log.Printf("[Scheduler] failed to arm %s for %s: %v", purpose, pairKey, err)
		return
	}
	log.Printf("[Scheduler] armed %s for %s at %s", purpose, pairKey, at.Format(time.RFC3339))
}

// ArmAfter schedules fn to run once after the given delay.
func (s *DuelScheduler) ArmAfter(pairKey string, purpose TimerPurpose, d time.Duration, fn func()) {
	s.ArmAt(pairKey, purpose, time.Now().Add(d), fn)
}

// Every registers a recurring job, used for the timer recovery sweep.
func (s *DuelScheduler) Every(d time.Duration, name string, fn func()) {
	_, err := s.sched.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		log.Printf("[Scheduler] failed to register %s: %v", name, err)
	}
}
