package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairKeyFor(t *testing.T) {
	// order-independent
	assert.Equal(t, PairKeyFor("alice", "bob"), PairKeyFor("bob", "alice"))
	assert.Equal(t, "alice__bob", PairKeyFor("bob", "alice"))
	assert.Equal(t, "alice__bob", PairKeyFor("alice", "bob"))
}

func TestDuelParticipants(t *testing.T) {
	d := Duel{
		ChallengerID:      "alice",
		ChallengedID:      "bob",
		ChallengerChannel: "chan-alice",
		ChallengedChannel: "chan-bob",
	}

	assert.True(t, d.HasParticipant("alice"))
	assert.True(t, d.HasParticipant("bob"))
	assert.False(t, d.HasParticipant("carol"))

	assert.Equal(t, "bob", d.OpponentOf("alice"))
	assert.Equal(t, "alice", d.OpponentOf("bob"))

	id, ok := d.ParticipantByChannel("chan-alice")
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
	id, ok = d.ParticipantByChannel("chan-bob")
	assert.True(t, ok)
	assert.Equal(t, "bob", id)
	_, ok = d.ParticipantByChannel("chan-other")
	assert.False(t, ok)
}
