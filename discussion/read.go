package discussion

import (
	"time"

	"github.com/meow-io/go-discussions/ids"
)

// markNotNew moves a new received or system message out of the new state.
func (m *Manager) markNotNew(msg Message) (bool, error) {
	var status MessageStatus
	switch msg := msg.(type) {
	case *ReceivedMessage:
		if !msg.IsNew() {
			return false, nil
		}
		status = msg.notNewStatus()
		msg.Status = status
	case *SystemMessage:
		if !msg.IsNew() {
			return false, nil
		}
		status = MessageRead
		msg.Status = status
	default:
		return false, nil
	}
	return true, m.db.setMessageStatus(msg.Base().ID, status)
}

func (m *Manager) markAllNotNew(msgs []Message) error {
	for _, msg := range msgs {
		if _, err := m.markNotNew(msg); err != nil {
			return err
		}
	}
	return nil
}

// MarkMessagesAsNotNew marks the given messages of a discussion as seen on this device.
func (m *Manager) MarkMessagesAsNotNew(discussionID ids.ID, messageIDs []ids.ID) error {
	return m.run("mark messages as not new", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		msgs, err := m.db.messagesByIDs(d.ID, messageIDs)
		if err != nil {
			return err
		}
		if err := m.markAllNotNew(msgs); err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
}

// MarkAllMessagesAsNotNew marks every new message of a discussion as seen on this device at the given date.
func (m *Manager) MarkAllMessagesAsNotNew(discussionID ids.ID, at time.Time) error {
	return m.run("mark all messages as not new", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		msgs, err := m.db.allNewMessages(d.ID)
		if err != nil {
			return err
		}
		if err := m.markAllNotNew(msgs); err != nil {
			return err
		}
		if d.raiseLocalRead(at) {
			m.emit(&DiscussionRead{DiscussionID: d.ID, At: at})
		}
		return m.refreshCounters(d)
	})
}

// ProcessDiscussionReadOnAnotherOwnedDevice marks as not new every message uploaded up to serverTimestamp.
// Messages arriving later with an older upload timestamp are stored as not new.
func (m *Manager) ProcessDiscussionReadOnAnotherOwnedDevice(discussionID ids.ID, serverTimestamp time.Time) error {
	return m.run("process discussion read on another device", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		if !d.raiseRemoteRead(serverTimestamp) {
			return nil
		}
		msgs, err := m.db.newMessagesUpTo(d.ID, serverTimestamp)
		if err != nil {
			return err
		}
		if err := m.markAllNotNew(msgs); err != nil {
			return err
		}
		m.emit(&DiscussionRead{DiscussionID: d.ID, At: serverTimestamp})
		return m.refreshCounters(d)
	})
}
