package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
)

func twoPlayer() *challenge.Challenge {
	forfeited := time.Now()
	return &challenge.Challenge{
		ID:        "c1",
		CreatorID: "alice",
		Name:      "March Madness",
		Participants: []*challenge.Participant{
			{UserID: "alice", UserName: "Alice"},
			{UserID: "bob", UserName: "Bob", ForfeitedAt: &forfeited},
		},
	}
}

func TestResultSkipsForfeited(t *testing.T) {
	sink := &MemorySink{}
	n := NewNotifier(sink, nil)

	winner := "alice"
	n.Result(context.Background(), twoPlayer(), &winner)

	sent := sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].UserID)
	assert.Equal(t, KindChallengeWon, sent[0].Kind)
	assert.Equal(t, "c1", sent[0].ChallengeID)
}

func TestResultTieAndLoss(t *testing.T) {
	sink := &MemorySink{}
	n := NewNotifier(sink, nil)

	c := twoPlayer()
	c.Participants[1].ForfeitedAt = nil

	n.Result(context.Background(), c, nil)
	assert.Equal(t, []Kind{KindChallengeTie}, sink.Kinds("alice"))
	assert.Equal(t, []Kind{KindChallengeTie}, sink.Kinds("bob"))

	winner := "bob"
	n.Result(context.Background(), c, &winner)
	assert.Equal(t, []Kind{KindChallengeTie, KindChallengeLost}, sink.Kinds("alice"))
	assert.Equal(t, []Kind{KindChallengeTie, KindChallengeWon}, sink.Kinds("bob"))
}

func TestCreatorOnlyEvents(t *testing.T) {
	sink := &MemorySink{}
	n := NewNotifier(sink, nil)
	c := twoPlayer()

	n.OpponentJoined(context.Background(), c, c.Participants[1])
	n.Expired(context.Background(), c)
	n.Cancelled(context.Background(), c)

	assert.Equal(t, []Kind{KindOpponentJoined, KindChallengeExpired}, sink.Kinds("alice"))
	assert.Equal(t, []Kind{KindChallengeCancelled}, sink.Kinds("bob"))
	assert.Contains(t, sink.Sent()[0].Message, "Bob")
}

func TestUnnamedChallenge(t *testing.T) {
	sink := &MemorySink{}
	n := NewNotifier(sink, nil)
	c := twoPlayer()
	c.Name = ""

	n.Started(context.Background(), c)
	require.Len(t, sink.Sent(), 2)
	assert.Contains(t, sink.Sent()[0].Message, `"Challenge"`)
}

type failingSink struct{ calls int }

func (f *failingSink) Notify(ctx context.Context, n Notification) error {
	f.calls++
	return errors.New("sink down")
}

func TestDeliveryFailureDoesNotStopFanOut(t *testing.T) {
	sink := &failingSink{}
	n := NewNotifier(sink, nil)

	c := twoPlayer()
	c.Participants[1].ForfeitedAt = nil
	n.Started(context.Background(), c)

	assert.Equal(t, 2, sink.calls)
}

type recordingStore struct{ rows []*database.Notification }

func (r *recordingStore) InsertNotification(ctx context.Context, n *database.Notification) error {
	r.rows = append(r.rows, n)
	return nil
}

func TestStoreSink(t *testing.T) {
	store := &recordingStore{}
	sink := NewStoreSink(store, nil)

	err := sink.Notify(context.Background(), Notification{
		UserID: "alice", Kind: KindChallengeStarted, ChallengeID: "c1", Message: "go",
	})
	require.NoError(t, err)
	require.Len(t, store.rows, 1)

	row := store.rows[0]
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, "challenge_started", row.Kind)
	require.NotNil(t, row.ChallengeID)
	assert.Equal(t, "c1", *row.ChallengeID)
	assert.False(t, row.Read)
}
