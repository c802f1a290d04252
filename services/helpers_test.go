package services

import (
	"fmt"
	"testing"

	"duel-bot/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEngine wires the full service stack over an in-memory sqlite store.
// The scheduler is created but never started, so armed timers stay inert
// and tests drive the callbacks directly.
type testEngine struct {
	db         *gorm.DB
	registry   *RegistryService
	duels      *DuelService
	settlement *SettlementService
	bus        *EventBus
	events     <-chan Event
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Player{},
		&models.Duel{},
		&models.DuelArrival{},
		&models.DuelHistory{},
		&models.ChannelBinding{},
	))

	sched, err := NewDuelScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Shutdown() })

	bus := NewEventBus()
	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	registry := NewRegistryService(db)
	cfg := DuelConfig{
		AcceptTimeout: DefaultAcceptTimeout,
		VideoTimeout:  DefaultVideoTimeout,
		SizeLimit:     DefaultSizeLimit,
	}
	duels := NewDuelService(db, registry, sched, bus, cfg)
	settlement := NewSettlementService(db, duels, bus, cfg.SizeLimit)

	return &testEngine{
		db:         db,
		registry:   registry,
		duels:      duels,
		settlement: settlement,
		bus:        bus,
		events:     events,
	}
}

// addPlayer registers a player with an artifact channel, the state most
// tests need before a challenge can be issued.
func (e *testEngine) addPlayer(t *testing.T, playerID, username, channel string) *models.Player {
	t.Helper()
	p, err := e.registry.RegisterArtifactChannel(playerID, username, channel)
	require.NoError(t, err)
	return p
}

// drainEvents empties the subscription buffer and returns what was there.
func (e *testEngine) drainEvents() []Event {
	var out []Event
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// requireEvent drains the buffer and returns the first event of the given
// type, failing the test if none was published.
func (e *testEngine) requireEvent(t *testing.T, typ EventType) Event {
	t.Helper()
	for _, ev := range e.drainEvents() {
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event published", typ)
	return Event{}
}

func (e *testEngine) player(t *testing.T, playerID string) *models.Player {
	t.Helper()
	p, err := e.registry.Get(playerID)
	require.NoError(t, err)
	return p
}
