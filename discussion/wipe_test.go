package discussion

import (
	"testing"
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/stretchr/testify/require"
)

func TestWipeIsIdempotent(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	k := keyFrom(contact, 1)
	tm.receive(t, d, k, "secret")
	require.Equal(1, tm.reload(t, d).NumberOfNewMessages)

	r := WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: contact, ServerTimestamp: tm.clock.Now()}
	result, err := tm.ProcessWipeMessages(r)
	require.Nil(err)
	require.Equal([]ids.MessageKey{k}, result.Applied)

	result, err = tm.ProcessWipeMessages(r)
	require.Nil(err)
	require.Equal([]ids.MessageKey{k}, result.Ignored)

	msg, err := tm.MessageByKey(d.ID, k)
	require.Nil(err)
	require.True(msg.Base().IsWiped)
	require.Equal("", msg.Base().Body)
	require.Equal(contact, *msg.Base().WipedBy)
	require.Equal(0, tm.reload(t, d).NumberOfNewMessages)
}

func TestContactCannotWipeSentMessage(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	sent, err := tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "mine"})
	require.Nil(err)
	require.Equal(int64(1), sent.Key.Seq)

	result, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{sent.Key}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrPermission)
	require.Equal([]ids.MessageKey{sent.Key}, result.Ignored)
	msg, err := tm.Message(sent.ID)
	require.Nil(err)
	require.False(msg.Base().IsWiped)

	result, err = tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{sent.Key}, Requester: tm.owned, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal([]ids.MessageKey{sent.Key}, result.Applied)
	msg, err = tm.Message(sent.ID)
	require.Nil(err)
	require.True(msg.Base().IsWiped)
}

func TestWipeContinuesAfterRejectedTarget(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	sent, err := tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "mine"})
	require.Nil(err)
	k := keyFrom(contact, 9)
	tm.receive(t, d, k, "theirs")

	result, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{sent.Key, k}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrPermission)
	require.Equal([]ids.MessageKey{sent.Key}, result.Ignored)
	require.Equal([]ids.MessageKey{k}, result.Applied)
}

func TestGroupV2PermissionAllowsWipe(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	group := ids.NewID()
	d := tm.create(t, GroupV2{Group: &group})
	author := ids.NewIdentity()
	admin := ids.NewIdentity()
	k := keyFrom(author, 1)
	tm.receive(t, d, k, "spam")

	_, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: admin, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrPermission)

	tm.directory.permissions[admin] = &GroupV2Permissions{RemoteDeleteAnything: true}
	result, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: admin, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal([]ids.MessageKey{k}, result.Applied)
}

func TestWipeRejectedWhileLocked(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	k := keyFrom(contact, 1)
	tm.receive(t, d, k, "hi")
	require.Nil(tm.SetStatus(d.ID, StatusLocked))

	_, err := tm.ProcessWipeMessages(WipeMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrInvalidState)
}

func TestDeleteMessageScopes(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	received := tm.receive(t, d, keyFrom(contact, 1), "theirs")
	sent, err := tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "mine"})
	require.Nil(err)

	require.ErrorIs(tm.DeleteMessage(received.Base().ID, AllOwnedDevices), ErrPermission)
	require.ErrorIs(tm.DeleteMessage(received.Base().ID, AllOwnedDevicesAndContactDevices), ErrPermission)
	require.Nil(tm.DeleteMessage(sent.ID, AllOwnedDevicesAndContactDevices))

	tm.directory.otherDevice = true
	require.Nil(tm.DeleteMessage(received.Base().ID, AllOwnedDevices))

	msgs, err := tm.Messages(d.ID)
	require.Nil(err)
	require.Len(msgs, 1)
	require.ErrorIs(tm.DeleteMessage(msgs[0].Base().ID, ThisDeviceOnly), ErrPermission)
	require.Nil(tm.reload(t, d).IllustrativeMessageID)
	require.Equal(0, tm.reload(t, d).NumberOfNewMessages)
}

func TestDeleteMessageWhileLockedStaysOnOwnedDevices(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, _ := tm.oneToOne(t)
	sent, err := tm.SendMessage(OutboundMessage{DiscussionID: d.ID, Body: "mine"})
	require.Nil(err)
	require.Nil(tm.SetStatus(d.ID, StatusLocked))

	require.ErrorIs(tm.DeleteMessage(sent.ID, AllOwnedDevicesAndContactDevices), ErrInvalidState)
	require.Nil(tm.DeleteMessage(sent.ID, ThisDeviceOnly))
}

func TestProcessDeleteMessagesFromOwnedDevice(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	k := keyFrom(contact, 1)
	tm.receive(t, d, k, "hi")

	_, err := tm.ProcessDeleteMessages(DeleteMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrPermission)

	result, err := tm.ProcessDeleteMessages(DeleteMessages{DiscussionID: d.ID, Targets: []ids.MessageKey{k}, Requester: tm.owned, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal([]ids.MessageKey{k}, result.Applied)
	_, err = tm.MessageByKey(d.ID, k)
	require.ErrorIs(err, ErrNotFound)
	require.Equal(0, tm.reload(t, d).NumberOfNewMessages)
}

func TestWatermarkRejection(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	tm.receive(t, d, keyFrom(contact, 1), "old")
	tm.clock.Advance(time.Minute)
	t0 := tm.clock.Now()
	require.Nil(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: d.ID, Requester: tm.owned, ServerTimestamp: &t0}))

	reloaded := tm.reload(t, d)
	require.True(reloaded.IsArchived)
	require.True(t0.Equal(*reloaded.ServerTimestampOfLastRemoteDeletion))
	msgs, err := tm.Messages(d.ID)
	require.Nil(err)
	require.Empty(msgs)

	_, err = tm.ProcessNewMessage(NewMessage{DiscussionID: d.ID, Key: keyFrom(contact, 2), Body: "late", ServerTimestamp: t0.Add(-time.Second)})
	require.ErrorIs(err, ErrPredatesRemoteDeletion)
	require.ErrorIs(err, ErrAlreadyExpired)

	msg, err := tm.ProcessNewMessage(NewMessage{DiscussionID: d.ID, Key: keyFrom(contact, 3), Body: "new", ServerTimestamp: t0.Add(time.Second)})
	require.Nil(err)
	require.Equal("new", msg.Base().Body)

	earlier := t0.Add(-time.Hour)
	require.Nil(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: d.ID, Requester: tm.owned, ServerTimestamp: &earlier}))
	require.True(t0.Equal(*tm.reload(t, d).ServerTimestampOfLastRemoteDeletion))
}

func TestDeleteAllFromContact(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	require.ErrorIs(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: d.ID, Requester: contact}), ErrPermission)

	group := ids.NewID()
	g := tm.create(t, GroupV2{Group: &group})
	admin := ids.NewIdentity()
	tm.receive(t, g, keyFrom(ids.NewIdentity(), 1), "hi")
	require.ErrorIs(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: g.ID, Requester: admin}), ErrPermission)

	tm.directory.permissions[admin] = &GroupV2Permissions{RemoteDeleteAnything: true}
	require.Nil(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: g.ID, Requester: admin}))
	msgs, err := tm.Messages(g.ID)
	require.Nil(err)
	require.Len(msgs, 1)
	wiped := msgs[0].(*SystemMessage)
	require.Equal(DiscussionWasRemotelyWiped, wiped.Category)
	require.Equal(admin, *wiped.RelatedIdentity)
	require.Equal(1, tm.reload(t, g).NumberOfNewMessages)
}

func TestDeleteAllWhileLockedDeletesDiscussion(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, _ := tm.oneToOne(t)
	require.Nil(tm.SetStatus(d.ID, StatusLocked))
	require.Nil(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: d.ID, Requester: tm.owned}))
	_, err := tm.Discussion(d.ID)
	require.ErrorIs(err, ErrNotFound)
}

func TestDeleteAllRejectedBeforeDiscussion(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	contact := ids.NewIdentity()
	d, err := tm.CreateDiscussion(NewDiscussion{OwnedIdentity: tm.owned, Kind: OneToOne{Contact: &contact}, Status: StatusPreDiscussion})
	require.Nil(err)
	require.ErrorIs(tm.ProcessDeleteAllMessages(DeleteAllMessages{DiscussionID: d.ID, Requester: tm.owned}), ErrInvalidState)
}

func TestIllustrativeMessageRescannedOnDelete(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	first := tm.receive(t, d, keyFrom(contact, 1), "first")
	second := tm.receive(t, d, keyFrom(contact, 2), "second")
	require.Equal(second.Base().ID, *tm.reload(t, d).IllustrativeMessageID)

	require.Nil(tm.DeleteMessage(second.Base().ID, ThisDeviceOnly))
	require.Equal(first.Base().ID, *tm.reload(t, d).IllustrativeMessageID)
}
