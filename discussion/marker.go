package discussion

import (
	"github.com/meow-io/go-discussions/ids"
)

// UpdateNewMessagesMarker places a single "N new messages" marker right before the first new message of a
// discussion, reusing the previous marker's position when it already sits there. Without new messages every
// marker is removed and nil is returned.
func (m *Manager) UpdateNewMessagesMarker(discussionID ids.ID) (*SystemMessage, error) {
	var out *SystemMessage
	err := m.run("update new messages marker", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		markers, err := m.db.systemMessagesWithCategory(d.ID, NumberOfNewMessages)
		if err != nil {
			return err
		}
		fresh, err := m.db.newMessages(d.ID)
		if err != nil {
			return err
		}
		if len(fresh) == 0 {
			for _, marker := range markers {
				if err := m.removeMessage(d, marker); err != nil {
					return err
				}
			}
			return m.save(d)
		}

		first := fresh[0].Base()
		previous, err := m.db.messageBefore(d.ID, first.SortIndex)
		if err != nil {
			return err
		}
		sortIndex := markerSortIndex(previous, first.SortIndex)

		if len(markers) == 0 {
			marker := newSystemMessage(d, NumberOfNewMessages, MessageRead, nil, first.Timestamp)
			marker.SortIndex = sortIndex
			marker.NewMessagesCount = len(fresh)
			if err := m.insert(d, marker); err != nil {
				return err
			}
			out = marker
			return m.save(d)
		}

		marker := markers[0].(*SystemMessage)
		for _, extra := range markers[1:] {
			if err := m.removeMessage(d, extra); err != nil {
				return err
			}
		}
		if marker.SortIndex != sortIndex || marker.NewMessagesCount != len(fresh) {
			marker.SortIndex = sortIndex
			marker.NewMessagesCount = len(fresh)
			if err := m.db.updateMessage(marker, nil); err != nil {
				return err
			}
			m.emit(&MessageEdited{DiscussionID: d.ID, MessageID: marker.ID})
		}
		out = marker
		return m.save(d)
	})
	return out, err
}

// markerSortIndex is the position of a marker placed before the message at first. A marker already right before
// it keeps its position, otherwise the marker goes halfway between the previous message (or first - 1) and first.
func markerSortIndex(previous Message, first float64) float64 {
	if sm, ok := previous.(*SystemMessage); ok && sm.Category == NumberOfNewMessages {
		return sm.SortIndex
	}
	before := first - 1
	if previous != nil {
		before = previous.Base().SortIndex
	}
	return (before + first) / 2
}
