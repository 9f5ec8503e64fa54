package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tutorhub "github.com/tutorhub/tutorhub-go-sdk"
	"github.com/tutorhub/tutorhub-go-sdk/wire"
)

var parent = tutorhub.Identity{UserID: "parent-1", Name: "Pat", Role: tutorhub.RoleParent}

func newComposerFixture(t *testing.T) (*fakeHub, *Timeline, *Composer) {
	t.Helper()
	hub := &fakeHub{}
	tl := NewTimeline(newFakeAPI())
	tl.Select(7)
	return hub, tl, NewComposer(hub, tl, parent, nil)
}

func TestOptimisticSendReconciles(t *testing.T) {
	hub, tl, c := newComposerFixture(t)

	sent, err := c.Send(context.Background(), "  X  ")
	require.NoError(t, err)
	assert.Equal(t, "X", sent.Content)
	assert.True(t, sent.Provisional)
	assert.Greater(t, sent.ID, ProvisionalIDThreshold)

	require.Len(t, hub.callsTo(wire.MethodSendMessage), 1)
	assert.Len(t, tl.Messages(), 1)

	// The server's copy arrives with a real id.
	require.True(t, tl.ApplyPush(wire.Message{
		ID: 301, ChannelID: 7, SenderID: parent.UserID, Content: "X", CreatedAt: time.Now().UTC(),
	}))

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(301), msgs[0].ID)
	assert.Equal(t, "X", msgs[0].Content)
	assert.False(t, msgs[0].Provisional)
}

func TestSendFailureRollsBack(t *testing.T) {
	hub, tl, c := newComposerFixture(t)
	hub.sendErr = tutorhub.ErrNotConnected

	_, err := c.Send(context.Background(), "lost")
	assert.ErrorIs(t, err, tutorhub.ErrNotConnected)
	assert.Empty(t, tl.Messages())
}

func TestEmptyMessageMakesNoCall(t *testing.T) {
	hub, tl, c := newComposerFixture(t)

	_, err := c.Send(context.Background(), " \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, hub.callsTo(wire.MethodSendMessage))
	assert.Empty(t, tl.Messages())
}

func TestSendWithoutChannel(t *testing.T) {
	hub := &fakeHub{}
	c := NewComposer(hub, NewTimeline(newFakeAPI()), parent, nil)

	_, err := c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoActiveChannel)
	assert.Empty(t, hub.callsTo(wire.MethodSendMessage))
}

func TestIdenticalSendsReconcileNewestFirst(t *testing.T) {
	_, tl, c := newComposerFixture(t)
	ctx := context.Background()

	first, err := c.Send(ctx, "ok")
	require.NoError(t, err)
	second, err := c.Send(ctx, "ok")
	require.NoError(t, err)
	require.Len(t, tl.Messages(), 2)

	tl.ApplyPush(wire.Message{ID: 40, ChannelID: 7, SenderID: parent.UserID, Content: "ok", CreatedAt: time.Now().UTC()})

	// The heuristic cannot tell the copies apart: the newest one goes.
	remaining := ids(tl.Messages())
	assert.Contains(t, remaining, int64(40))
	assert.Contains(t, remaining, first.ID)
	assert.NotContains(t, remaining, second.ID)

	tl.ApplyPush(wire.Message{ID: 41, ChannelID: 7, SenderID: parent.UserID, Content: "ok", CreatedAt: time.Now().UTC()})
	assert.ElementsMatch(t, []int64{40, 41}, ids(tl.Messages()))
}

func TestPushFromOtherSenderDoesNotReconcile(t *testing.T) {
	_, tl, c := newComposerFixture(t)

	_, err := c.Send(context.Background(), "same words")
	require.NoError(t, err)
	tl.ApplyPush(wire.Message{ID: 50, ChannelID: 7, SenderID: "tutor-1", Content: "same words", CreatedAt: time.Now().UTC()})

	assert.Len(t, tl.Messages(), 2)
}

func TestSendErrorFromHubIsReturned(t *testing.T) {
	hub, _, c := newComposerFixture(t)
	hub.sendErr = &tutorhub.InvocationError{Target: wire.MethodSendMessage, Message: "channel closed"}

	_, err := c.Send(context.Background(), "hi")
	var invErr *tutorhub.InvocationError
	assert.True(t, errors.As(err, &invErr))
}
