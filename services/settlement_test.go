package services

import (
	"context"
	"testing"
	"time"

	"duel-bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const mib = 1024 * 1024

// startDuel creates and accepts an immediate duel so it is active.
func startDuel(t *testing.T, e *testEngine, challenger, challenged string) *models.Duel {
	t.Helper()
	_, err := e.duels.CreateDuel(challenger, "@"+challenged, nil)
	require.NoError(t, err)
	duel, err := e.duels.Accept(challenged)
	require.NoError(t, err)
	e.drainEvents()
	return duel
}

func arrival(channel string, sizeBytes int64) ArrivalEvent {
	return ArrivalEvent{Channel: channel, SizeBytes: sizeBytes, ArrivedAt: time.Now().UTC()}
}

func TestQualifyingPostSettlesDuel(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	duel := startDuel(t, e, "alice", "bob")

	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-alice", 80*mib)))

	// winner +3, loser -1, both played one duel
	alice := e.player(t, "alice")
	assert.EqualValues(t, 3, alice.Score)
	assert.EqualValues(t, 1, alice.Wins)
	assert.EqualValues(t, 1, alice.DuelsPlayed)
	bob := e.player(t, "bob")
	assert.EqualValues(t, -1, bob.Score)
	assert.EqualValues(t, 1, bob.Losses)
	assert.EqualValues(t, 1, bob.DuelsPlayed)

	// duel is gone, history has the outcome
	_, err := e.duels.Get(duel.PairKey)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	entries, err := e.settlement.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].WinnerID)
	assert.Equal(t, "bob", entries[0].LoserID)
	assert.EqualValues(t, 3, entries[0].PointsAwarded)
	assert.EqualValues(t, 80*mib, entries[0].ArtifactSizeBytes)

	ev := e.requireEvent(t, EventDuelSettled)
	assert.Equal(t, "alice", ev.Winner)
	assert.Equal(t, "bob", ev.Loser)
	assert.EqualValues(t, 3, ev.PointsAwarded)
	assert.Nil(t, ev.LoserArrival)
}

func TestExactThresholdQualifies(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	startDuel(t, e, "alice", "bob")

	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-bob", 70*mib)))

	assert.EqualValues(t, 3, e.player(t, "bob").Score)
	assert.EqualValues(t, -1, e.player(t, "alice").Score)
}

func TestSubThresholdPostAppliesPenaltyAndDuelContinues(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	duel := startDuel(t, e, "alice", "bob")

	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-alice", 40*mib)))

	assert.EqualValues(t, -3, e.player(t, "alice").Score)
	assert.Zero(t, e.player(t, "bob").Score)

	got, err := e.duels.Get(duel.PairKey)
	require.NoError(t, err)
	assert.Equal(t, models.DuelStatusActive, got.Status)

	ev := e.requireEvent(t, EventPenaltyApplied)
	assert.Equal(t, "alice", ev.Player)
	require.NotNil(t, ev.NewScore)
	assert.EqualValues(t, -3, *ev.NewScore)
}

func TestComebackWin(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	startDuel(t, e, "alice", "bob")

	ctx := context.Background()
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-alice", 40*mib)))
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-alice", 80*mib)))

	// -3 penalty then +6 comeback
	alice := e.player(t, "alice")
	assert.EqualValues(t, 3, alice.Score)
	assert.EqualValues(t, 1, alice.Wins)
	assert.EqualValues(t, -1, e.player(t, "bob").Score)

	ev := e.requireEvent(t, EventDuelSettled)
	assert.EqualValues(t, 6, ev.PointsAwarded)
}

func TestRepeatSubThresholdPostIgnored(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	startDuel(t, e, "alice", "bob")

	ctx := context.Background()
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-alice", 40*mib)))
	e.drainEvents()
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-alice", 50*mib)))

	// penalized once, not twice
	assert.EqualValues(t, -3, e.player(t, "alice").Score)
	assert.Empty(t, e.drainEvents())
}

func TestFirstQualifyingPostWinsRace(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	startDuel(t, e, "alice", "bob")

	ctx := context.Background()
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-bob", 75*mib)))
	// alice's qualifying post lands after the duel settled: no duel in her
	// channel anymore, silently dropped
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-alice", 90*mib)))

	assert.EqualValues(t, 3, e.player(t, "bob").Score)
	assert.EqualValues(t, -1, e.player(t, "alice").Score)

	entries, err := e.settlement.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].WinnerID)
}

func TestOnePostSettlesAllActiveDuels(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	e.addPlayer(t, "carol", "Carol", "chan-carol")

	// alice is active against bob and carol at the same time; pair
	// exclusivity only binds each pair
	startDuel(t, e, "alice", "bob")
	startDuel(t, e, "alice", "carol")

	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-alice", 80*mib)))

	alice := e.player(t, "alice")
	assert.EqualValues(t, 6, alice.Score)
	assert.EqualValues(t, 2, alice.Wins)
	assert.EqualValues(t, 2, alice.DuelsPlayed)
	assert.EqualValues(t, -1, e.player(t, "bob").Score)
	assert.EqualValues(t, -1, e.player(t, "carol").Score)

	var live int64
	require.NoError(t, e.db.Model(&models.Duel{}).Count(&live).Error)
	assert.Zero(t, live)
	entries, err := e.settlement.History(10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOnePostPenalizesAllActiveDuels(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	e.addPlayer(t, "carol", "Carol", "chan-carol")
	startDuel(t, e, "alice", "bob")
	startDuel(t, e, "alice", "carol")

	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-alice", 40*mib)))

	// one sub-threshold post counts against each duel alice is in
	assert.EqualValues(t, -6, e.player(t, "alice").Score)
	var live int64
	require.NoError(t, e.db.Model(&models.Duel{}).Count(&live).Error)
	assert.EqualValues(t, 2, live)
}

func TestLoserPenaltyArrivalReportedOnSettle(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	startDuel(t, e, "alice", "bob")

	ctx := context.Background()
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-bob", 20*mib)))
	e.drainEvents()
	require.NoError(t, e.settlement.HandleArrival(ctx, arrival("chan-alice", 80*mib)))

	// bob keeps the -3 and takes the -1 loss on top
	assert.EqualValues(t, -4, e.player(t, "bob").Score)

	ev := e.requireEvent(t, EventDuelSettled)
	require.NotNil(t, ev.LoserArrival)
	assert.EqualValues(t, 20*mib, ev.LoserArrival.SizeBytes)
	assert.Equal(t, "chan-bob", ev.LoserArrival.Channel)
}

func TestArrivalInUnmatchedChannelDropped(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	e.addPlayer(t, "carol", "Carol", "chan-carol")
	startDuel(t, e, "alice", "bob")

	// carol has no active duel; her post is not a submission
	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-carol", 90*mib)))

	assert.Zero(t, e.player(t, "carol").Score)
	assert.Empty(t, e.drainEvents())
}

func TestArrivalOnlyCountsWhileActive(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")

	_, err := e.duels.CreateDuel("alice", "@Bob", nil)
	require.NoError(t, err)
	e.drainEvents()

	// duel still pending: the post is not a submission
	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-alice", 90*mib)))

	assert.Zero(t, e.player(t, "alice").Score)
	assert.Empty(t, e.drainEvents())
}

func TestPenaltySurvivesTimeout(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	duel := startDuel(t, e, "alice", "bob")

	require.NoError(t, e.settlement.HandleArrival(context.Background(), arrival("chan-alice", 10*mib)))
	e.duels.OnVideoTimeout(duel.PairKey)

	// the -3 stands, nothing else changes, no history row for a draw
	assert.EqualValues(t, -3, e.player(t, "alice").Score)
	assert.Zero(t, e.player(t, "alice").DuelsPlayed)
	assert.Zero(t, e.player(t, "bob").Score)
	entries, err := e.settlement.History(10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// arrivals are removed with the duel, so a rematch starts clean
	var count int64
	require.NoError(t, e.db.Model(&models.DuelArrival{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestElapsedSecondsMeasuredFromActivation(t *testing.T) {
	e := newTestEngine(t)
	e.addPlayer(t, "alice", "Alice", "chan-alice")
	e.addPlayer(t, "bob", "Bob", "chan-bob")
	duel := startDuel(t, e, "alice", "bob")

	ev := arrival("chan-alice", 80*mib)
	ev.ArrivedAt = duel.ActivatedAt.Add(42 * time.Second)
	require.NoError(t, e.settlement.HandleArrival(context.Background(), ev))

	settled := e.requireEvent(t, EventDuelSettled)
	assert.EqualValues(t, 42, settled.ElapsedSeconds)

	entries, err := e.settlement.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 42, entries[0].ElapsedSeconds)
}
