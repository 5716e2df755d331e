package discussion

import (
	"testing"
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/stretchr/testify/require"
)

func TestDeferredWipeWinsOverLaterEdit(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	t1 := ids.NewID()
	k := ids.MessageKey{Sender: sender, ThreadID: t1, Seq: 7}
	created := tm.clock.Now()

	tm.clock.Advance(time.Second)
	result, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: sender, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal([]ids.MessageKey{k}, result.Deferred)

	tm.clock.Advance(time.Second)
	deferred, err := tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "edited", Requester: sender, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.True(deferred)

	waiting, err := tm.DeferredRequests(d.ID)
	require.Nil(err)
	require.Len(waiting, 1)
	require.Equal(DeferredWipe, waiting[0].Kind)

	msg, err := tm.ProcessNewMessage(NewMessage{DiscussionID: d.ID, Key: k, Body: "hello", ServerTimestamp: created})
	require.Nil(err)
	require.True(msg.Base().IsWiped)
	require.Equal("", msg.Base().Body)
	require.Equal(MessageRead, msg.(*ReceivedMessage).Status)

	waiting, err = tm.DeferredRequests(d.ID)
	require.Nil(err)
	require.Empty(waiting)
	require.Equal(0, tm.reload(t, d).NumberOfNewMessages)
}

func TestDeferredWipeSupersedesWaitingEdit(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 7)

	_, err := tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "edited", Requester: sender, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	_, err = tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: sender, ServerTimestamp: tm.clock.Now().Add(time.Second)})
	require.Nil(err)

	waiting, err := tm.DeferredRequests(d.ID)
	require.Nil(err)
	require.Len(waiting, 1)
	require.Equal(DeferredWipe, waiting[0].Kind)
}

func TestDeferredEditAppliedOnCreation(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	mentioned := ids.NewIdentity()

	edited := tm.clock.Now().Add(time.Minute)
	deferred, err := tm.ProcessEditMessage(EditMessage{
		DiscussionID:    d.ID,
		Target:          k,
		Body:            "hi @you",
		Mentions:        []Mention{{Identity: mentioned, Start: 3, End: 7}},
		Requester:       sender,
		ServerTimestamp: edited,
	})
	require.Nil(err)
	require.True(deferred)

	msg := tm.receive(t, d, k, "hi")
	require.Equal("hi @you", msg.Base().Body)
	require.True(msg.Base().IsEdited)
	require.Equal([]Mention{{Identity: mentioned, Start: 3, End: 7}}, msg.Base().Mentions)
}

func TestDeferredDeleteRemovesMessageOnCreation(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	result, err := tm.ProcessDeleteMessages(DeleteMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: tm.owned, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal([]ids.MessageKey{k}, result.Deferred)

	msg := tm.receive(t, d, k, "hi")
	require.Nil(msg)
	_, err = tm.MessageByKey(d.ID, k)
	require.ErrorIs(err, ErrNotFound)
	require.Equal(0, tm.reload(t, d).NumberOfNewMessages)
}

func TestDeferredFailureIsConsumed(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	stranger := ids.NewIdentity()

	_, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: stranger, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)

	msg := tm.receive(t, d, k, "still here")
	require.False(msg.Base().IsWiped)
	waiting, err := tm.DeferredRequests(d.ID)
	require.Nil(err)
	require.Empty(waiting)
}

func TestDeferredReactionApplied(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	emoji := "👍"
	deferred, err := tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: k, Emoji: &emoji, Requester: sender, ServerTimestamp: tm.clock.Now(), OverrideExisting: true})
	require.Nil(err)
	require.True(deferred)

	msg := tm.receive(t, d, k, "hi")
	require.Len(msg.Base().Reactions, 1)
	require.Equal(emoji, msg.Base().Reactions[0].Emoji)
	require.Equal(sender, msg.Base().Reactions[0].Reactor)
}

func TestPurgeDeferredRequests(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	old := tm.clock.Now().Add(-30 * 24 * time.Hour)
	_, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{keyFrom(sender, 1)}, Requester: sender, ServerTimestamp: old})
	require.Nil(err)
	_, err = tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{keyFrom(sender, 2)}, Requester: sender, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)

	count, err := tm.PurgeDeferredRequests(tm.clock.Now().Add(-15 * 24 * time.Hour))
	require.Nil(err)
	require.Equal(int64(1), count)
	waiting, err := tm.DeferredRequests(d.ID)
	require.Nil(err)
	require.Len(waiting, 1)
}
