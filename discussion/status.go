package discussion

import (
	"time"

	"github.com/meow-io/go-discussions/ids"
)

// SetStatus moves a discussion through PreDiscussion -> Active <-> Locked.
func (m *Manager) SetStatus(discussionID ids.ID, to Status) error {
	return m.run("set status", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		if err := m.setStatus(d, to); err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
}

func (m *Manager) setStatus(d *Discussion, to Status) error {
	from := d.Status
	if from == to {
		return nil
	}
	if to == StatusPreDiscussion {
		return stateError("going back to "+to.String(), from)
	}

	now := m.clock.Now()
	d.Status = to
	switch {
	case from == StatusPreDiscussion && to == StatusActive:
		if err := m.insertSystemMessagesIfEmpty(d, now); err != nil {
			return err
		}
	case from == StatusLocked && to == StatusActive:
		if err := m.insertSystemMessagesIfEmpty(d, now); err != nil {
			return err
		}
		if _, err := m.insertSystemMessage(d, newSystemMessage(d, rejoinedCategory(d.Kind), MessageNew, nil, now)); err != nil {
			return err
		}
	case to == StatusLocked:
		if from == StatusActive {
			if _, err := m.insertSystemMessage(d, newSystemMessage(d, leftCategory(d.Kind), MessageNew, contactOf(d.Kind), now)); err != nil {
				return err
			}
		}
		if err := m.db.deleteSenderSequences(d.ID); err != nil {
			return err
		}
	}

	m.log.Debugf("discussion %x is now %s (was %s)", d.ID[:4], to, from)
	m.emit(&StatusChanged{DiscussionID: d.ID, From: from, To: to})
	return nil
}

func rejoinedCategory(k Kind) SystemCategory {
	switch k.(type) {
	case OneToOne:
		return ContactIsOneToOneAgain
	case GroupV1, GroupV2:
		return RejoinedGroup
	default:
		panic("discussion: unknown kind")
	}
}

func leftCategory(k Kind) SystemCategory {
	switch k.(type) {
	case OneToOne:
		return ContactWasDeleted
	case GroupV1, GroupV2:
		return NotPartOfTheGroupAnymore
	default:
		panic("discussion: unknown kind")
	}
}

func contactOf(k Kind) *ids.Identity {
	if k, ok := k.(OneToOne); ok {
		return k.Contact
	}
	return nil
}

func newSystemMessage(d *Discussion, category SystemCategory, status MessageStatus, related *ids.Identity, at time.Time) *SystemMessage {
	if !category.RelevantForCounting() {
		status = MessageRead
	}
	return &SystemMessage{
		MessageBase: MessageBase{
			ID:           ids.NewID(),
			DiscussionID: d.ID,
			SortIndex:    sortIndexOf(at),
			Timestamp:    at,
		},
		Category:        category,
		Status:          status,
		Seq:             d.nextSystemSequenceNumber(),
		RelatedIdentity: related,
	}
}

func (m *Manager) insertSystemMessage(d *Discussion, sm *SystemMessage) (*SystemMessage, error) {
	if err := m.insert(d, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// insert stores a new message and updates the discussion's illustrative message and last activity. A sent or
// received message brings an archived discussion back.
func (m *Manager) insert(d *Discussion, msg Message) error {
	if err := m.db.insertMessage(msg); err != nil {
		return err
	}
	b := msg.Base()
	if err := m.considerIllustrative(d, msg); err != nil {
		return err
	}
	d.touch(b.Timestamp)
	switch msg.(type) {
	case *SentMessage, *ReceivedMessage:
		if err := m.setArchived(d, false); err != nil {
			return err
		}
	}
	m.emit(&MessageInserted{DiscussionID: d.ID, MessageID: b.ID})
	return nil
}

// insertSystemMessagesIfEmpty opens an empty discussion with the end-to-end banner and, for an ephemeral
// discussion, the current settings. Both sort before at.
func (m *Manager) insertSystemMessagesIfEmpty(d *Discussion, at time.Time) error {
	count, err := m.db.countMessages(d.ID)
	if err != nil {
		return err
	}
	if count != 0 {
		return nil
	}
	banner := newSystemMessage(d, DiscussionIsEndToEndEncrypted, MessageRead, nil, at)
	banner.SortIndex = sortIndexOf(at) - 1
	if err := m.insert(d, banner); err != nil {
		return err
	}
	if d.Shared.Expiration.IsEphemeral() {
		settings := newSystemMessage(d, UpdatedDiscussionSharedSettings, MessageRead, nil, at)
		settings.SortIndex = sortIndexOf(at) - 0.5
		if err := m.insert(d, settings); err != nil {
			return err
		}
	}
	return nil
}
