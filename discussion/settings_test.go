package discussion

import (
	"testing"
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/sharedconfig"
	"github.com/stretchr/testify/require"
)

func TestSharedConfigurationVersionMonotonic(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	a := sharedconfig.NewExpiration(true, 0, 0)
	b := sharedconfig.NewExpiration(false, time.Minute, 0)

	result, err := tm.ProcessSharedConfigurationUpdate(SharedConfigurationUpdate{DiscussionID: d.ID, Configuration: sharedconfig.Configuration{Version: 3, Expiration: a}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal(SharedConfigurationResult{Updated: true}, result)

	result, err = tm.ProcessSharedConfigurationUpdate(SharedConfigurationUpdate{DiscussionID: d.ID, Configuration: sharedconfig.Configuration{Version: 2, Expiration: b}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal(SharedConfigurationResult{SendBack: true}, result)

	result, err = tm.ProcessSharedConfigurationUpdate(SharedConfigurationUpdate{DiscussionID: d.ID, Configuration: sharedconfig.Configuration{Version: 3, Expiration: b}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.Nil(err)
	require.Equal(SharedConfigurationResult{SendBack: true}, result)

	reloaded := tm.reload(t, d)
	require.Equal(sharedconfig.Configuration{Version: 3, Expiration: a}, reloaded.Shared)
	require.Equal(1, reloaded.NumberOfNewMessages)

	last := tm.lastMessage(t, d).(*SystemMessage)
	require.Equal(UpdatedDiscussionSharedSettings, last.Category)
	require.Equal(contact, *last.RelatedIdentity)
}

func TestSharedConfigurationRejectedUnlessActive(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	require.Nil(tm.SetStatus(d.ID, StatusLocked))
	_, err := tm.ProcessSharedConfigurationUpdate(SharedConfigurationUpdate{DiscussionID: d.ID, Configuration: sharedconfig.Configuration{Version: 1}, Requester: contact, ServerTimestamp: tm.clock.Now()})
	require.ErrorIs(err, ErrInvalidState)
	_, err = tm.ReplaceSharedConfiguration(d.ID, sharedconfig.NewExpiration(true, 0, 0))
	require.ErrorIs(err, ErrInvalidState)

	reply, err := tm.QuerySharedSettings(QuerySharedSettings{DiscussionID: d.ID})
	require.Nil(err)
	require.False(reply)
}

func TestSharedConfigurationGroupPermissions(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	owner := ids.NewIdentity()
	g1 := tm.create(t, GroupV1{Group: &ids.GroupV1Ref{UID: ids.NewID(), Owner: owner}})
	update := SharedConfigurationUpdate{DiscussionID: g1.ID, Configuration: sharedconfig.Configuration{Version: 1, Expiration: sharedconfig.NewExpiration(true, 0, 0)}, ServerTimestamp: tm.clock.Now()}

	update.Requester = ids.NewIdentity()
	_, err := tm.ProcessSharedConfigurationUpdate(update)
	require.ErrorIs(err, ErrPermission)
	_, err = tm.ReplaceSharedConfiguration(g1.ID, sharedconfig.NewExpiration(true, 0, 0))
	require.ErrorIs(err, ErrPermission)
	update.Requester = owner
	result, err := tm.ProcessSharedConfigurationUpdate(update)
	require.Nil(err)
	require.True(result.Updated)

	group := ids.NewID()
	g2 := tm.create(t, GroupV2{Group: &group})
	admin := ids.NewIdentity()
	update.DiscussionID = g2.ID
	update.Requester = admin
	_, err = tm.ProcessSharedConfigurationUpdate(update)
	require.ErrorIs(err, ErrPermission)
	tm.directory.permissions[admin] = &GroupV2Permissions{ChangeSettings: true}
	result, err = tm.ProcessSharedConfigurationUpdate(update)
	require.Nil(err)
	require.True(result.Updated)
}

func TestReplaceSharedConfigurationAlwaysBumpsVersion(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, _ := tm.oneToOne(t)
	e := sharedconfig.NewExpiration(false, 0, time.Hour)
	c, err := tm.ReplaceSharedConfiguration(d.ID, e)
	require.Nil(err)
	require.Equal(int64(1), c.Version)
	c, err = tm.ReplaceSharedConfiguration(d.ID, e)
	require.Nil(err)
	require.Equal(int64(2), c.Version)

	version := int64(2)
	reply, err := tm.QuerySharedSettings(QuerySharedSettings{DiscussionID: d.ID, KnownVersion: &version, KnownExpiration: &e})
	require.Nil(err)
	require.False(reply)

	other := sharedconfig.NewExpiration(true, 0, 0)
	reply, err = tm.QuerySharedSettings(QuerySharedSettings{DiscussionID: d.ID, KnownVersion: &version, KnownExpiration: &other})
	require.Nil(err)
	require.True(reply)

	reply, err = tm.QuerySharedSettings(QuerySharedSettings{DiscussionID: d.ID})
	require.Nil(err)
	require.True(reply)
	require.Equal(0, tm.reload(t, d).NumberOfNewMessages)
}

func TestScreenCaptureNotice(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	tm.clock.Advance(time.Second)
	require.Nil(tm.ProcessScreenCaptureNotice(ScreenCaptureNotice{DiscussionID: d.ID, Requester: contact, ServerTimestamp: tm.clock.Now()}))
	last := tm.lastMessage(t, d).(*SystemMessage)
	require.Equal(ContactIdentityDidCaptureSensitiveMessages, last.Category)
	require.Equal(MessageNew, last.Status)

	tm.clock.Advance(time.Second)
	require.Nil(tm.ProcessScreenCaptureNotice(ScreenCaptureNotice{DiscussionID: d.ID, Requester: tm.owned, ServerTimestamp: tm.clock.Now()}))
	last = tm.lastMessage(t, d).(*SystemMessage)
	require.Equal(OwnedIdentityDidCaptureSensitiveMessages, last.Category)
	require.Equal(1, tm.reload(t, d).NumberOfNewMessages)
}
