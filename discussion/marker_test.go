package discussion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessagesMarker(t *testing.T) {
	require := require.New(t)
	tm := newTestManager(t)

	d, contact := tm.oneToOne(t)
	first := tm.receive(t, d, keyFrom(contact, 1), "one")
	tm.receive(t, d, keyFrom(contact, 2), "two")

	msgs, err := tm.Messages(d.ID)
	require.Nil(err)
	banner := msgs[0]

	marker, err := tm.UpdateNewMessagesMarker(d.ID)
	require.Nil(err)
	require.NotNil(marker)
	require.Equal(2, marker.NewMessagesCount)
	require.Equal((banner.Base().SortIndex+first.Base().SortIndex)/2, marker.SortIndex)
	require.Equal(2, tm.reload(t, d).NumberOfNewMessages)

	again, err := tm.UpdateNewMessagesMarker(d.ID)
	require.Nil(err)
	require.Equal(marker.ID, again.ID)
	require.Equal(marker.SortIndex, again.SortIndex)

	tm.receive(t, d, keyFrom(contact, 3), "three")
	again, err = tm.UpdateNewMessagesMarker(d.ID)
	require.Nil(err)
	require.Equal(marker.ID, again.ID)
	require.Equal(3, again.NewMessagesCount)

	require.Nil(tm.MarkAllMessagesAsNotNew(d.ID, tm.clock.Now()))
	gone, err := tm.UpdateNewMessagesMarker(d.ID)
	require.Nil(err)
	require.Nil(gone)
	_, err = tm.Message(marker.ID)
	require.ErrorIs(err, ErrNotFound)
}

func TestMarkerSortIndex(t *testing.T) {
	require := require.New(t)

	require.Equal(9.5, markerSortIndex(nil, 10))
	require.Equal(9.0, markerSortIndex(&ReceivedMessage{MessageBase: MessageBase{SortIndex: 8}}, 10))
	require.Equal(9.75, markerSortIndex(&SystemMessage{MessageBase: MessageBase{SortIndex: 9.75}, Category: NumberOfNewMessages}, 10))
}
