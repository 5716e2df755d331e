package discussion

import (
	"testing"
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/stretchr/testify/require"
)

func TestEditLastWriterWins(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	msg := tm.receive(t, d, k, "first")

	later := tm.clock.Now().Add(2 * time.Second)
	earlier := tm.clock.Now().Add(time.Second)
	_, err := tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "later", Requester: sender, ServerTimestamp: later})
	require.Nil(err)
	_, err = tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "earlier", Requester: sender, ServerTimestamp: earlier})
	require.Nil(err)

	stored, err := tm.Message(msg.Base().ID)
	require.Nil(err)
	require.Equal("later", stored.Base().Body)
	require.True(stored.Base().IsEdited)
}

func TestEditByOtherThanSenderRejected(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	tm.receive(t, d, k, "first")

	_, err := tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "nope", Requester: tm.owned, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrPermission)
}

func TestEditOfWipedMessageIgnored(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	k := keyFrom(sender, 1)
	tm.receive(t, d, k, "first")
	_, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: sender, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)

	_, err = tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "back", Requester: sender, ServerTimestamp: tm.clock.Now().Add(time.Second)})
	require.Nil(err)
	msg, err := tm.MessageByKey(d.ID, k)
	require.Nil(err)
	require.Equal("", msg.Base().Body)
}

func TestEditSentMessage(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, sender := tm.oneToOne(t)
	sent, err := tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "tpyo"})
	require.Nil(err)
	tm.clock.Advance(time.Second)
	require.Nil(tm.EditSentMessage(sent.ID, "typo", nil))

	msg, err := tm.Message(sent.ID)
	require.Nil(err)
	require.Equal("typo", msg.Base().Body)

	received := tm.receive(t, d, keyFrom(sender, 1), "theirs")
	require.ErrorIs(tm.EditSentMessage(received.Base().ID, "mine now", nil), ErrPermission)
}

func TestReactions(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	sent, err := tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "hi"})
	require.Nil(err)

	thumbs, heart := "👍", "❤️"
	t1 := tm.clock.Now().Add(time.Second)
	_, err = tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: sent.Key, Emoji: &thumbs, Requester: contact, ServerTimestamp: t1, OverrideExisting: true})
	require.Nil(err)

	_, err = tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: sent.Key, Emoji: &heart, Requester: contact, ServerTimestamp: t1.Add(-time.Second), OverrideExisting: true})
	require.Nil(err)
	_, err = tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: sent.Key, Emoji: &heart, Requester: contact, ServerTimestamp: t1.Add(time.Second), OverrideExisting: false})
	require.Nil(err)
	msg, err := tm.Message(sent.ID)
	require.Nil(err)
	require.Len(msg.Base().Reactions, 1)
	require.Equal(thumbs, msg.Base().Reactions[0].Emoji)

	_, err = tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: sent.Key, Requester: contact, ServerTimestamp: t1.Add(2 * time.Second), OverrideExisting: true})
	require.Nil(err)
	msg, err = tm.Message(sent.ID)
	require.Nil(err)
	require.Empty(msg.Base().Reactions)

	require.Nil(tm.SetOwnedReaction(sent.ID, &heart))
	msg, err = tm.Message(sent.ID)
	require.Nil(err)
	require.Len(msg.Base().Reactions, 1)
	require.Equal(tm.owned, msg.Base().Reactions[0].Reactor)

	_, err = tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: sent.Key, Emoji: &thumbs, Requester: ids.NewIdentity(), ServerTimestamp: t1, OverrideExisting: true})
	require.ErrorIs(err, ErrPermission)
}

func TestEditAndReactRejectedOutsideActive(t *testing.T) {
	thumbs := "👍"
	for _, status := range []Status{StatusPreDiscussion, StatusLocked} {
		status := status
		t.Run(status.String(), func(t *testing.T) {
			require := require.New(t)
			tm := newTestManager(t)

			contact := ids.NewIdentity()
			var d *Discussion
			var sent *SentMessage
			var received Message
			if status == StatusLocked {
				d = tm.create(t, OneToOne{Contact: &contact})
				var err error
				sent, err = tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "mine"})
				require.Nil(err)
				received = tm.receive(t, d, keyFrom(contact, 1), "theirs")
				tm.clock.Advance(time.Second)
				require.Nil(tm.SetStatus(d.ID, StatusLocked))
			} else {
				var err error
				d, err = tm.CreateDiscussion(NewDiscussion{OwnedIdentity: tm.owned, Kind: OneToOne{Contact: &contact}, Status: StatusPreDiscussion})
				require.Nil(err)
			}

			unknown := keyFrom(contact, 99)
			_, err := tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: unknown, Body: "edit", Requester: contact, ServerTimestamp: tm.clock.Now()})
			require.ErrorIs(err, ErrInvalidState)
			_, err = tm.ProcessReaction(SetOrUpdateReaction{DiscussionID: d.ID, Target: unknown, Emoji: &thumbs, Requester: contact, ServerTimestamp: tm.clock.Now(), OverrideExisting: true})
			require.ErrorIs(err, ErrInvalidState)

			if received != nil {
				k := keyFrom(contact, 1)
				_, err = tm.ProcessEditMessage(EditMessage{DiscussionID: d.ID, Target: k, Body: "edit", Requester: contact, ServerTimestamp: tm.clock.Now()})
				require.ErrorIs(err, ErrInvalidState)
				require.ErrorIs(tm.EditSentMessage(sent.ID, "edit", nil), ErrInvalidState)
				require.ErrorIs(tm.SetOwnedReaction(received.Base().ID, &thumbs), ErrInvalidState)

				msg, err := tm.Message(received.Base().ID)
				require.Nil(err)
				require.Equal("theirs", msg.Base().Body)
				require.Empty(msg.Base().Reactions)
				msg, err = tm.Message(sent.ID)
				require.Nil(err)
				require.Equal("mine", msg.Base().Body)
			}

			waiting, err := tm.DeferredRequests(d.ID)
			require.Nil(err)
			require.Empty(waiting)
		})
	}
}
