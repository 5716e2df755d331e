package discussion

import (
	"fmt"

	"github.com/meow-io/go-discussions/ids"
)

// OutboundMessage is a message written on this device.
type OutboundMessage struct {
	DiscussionID    ids.ID
	Body            string
	Mentions        []Mention
	AttachmentCount int
}

// SendMessage stores a message written on this device, stamped with the next outbound sequence number of the
// discussion and its current ephemeral settings.
func (m *Manager) SendMessage(o OutboundMessage) (*SentMessage, error) {
	var out *SentMessage
	err := m.run("send message", func() error {
		d, err := m.load(o.DiscussionID)
		if err != nil {
			return err
		}
		if d.Status != StatusActive {
			return stateError("send message", d.Status)
		}
		now := m.clock.Now()
		if err := m.insertSystemMessagesIfEmpty(d, now); err != nil {
			return err
		}
		sent := &SentMessage{
			MessageBase: MessageBase{
				ID:           ids.NewID(),
				DiscussionID: d.ID,
				SortIndex:    sortIndexOf(now),
				Timestamp:    now,
				Body:         o.Body,
				Mentions:     o.Mentions,
			},
			Key:             ids.MessageKey{Sender: d.OwnedIdentity, ThreadID: d.SenderThreadID, Seq: d.nextOutboundSequenceNumber()},
			Expiration:      d.Shared.Expiration,
			AttachmentCount: o.AttachmentCount,
		}
		if err := m.insert(d, sent); err != nil {
			return err
		}
		out = sent
		return m.refreshCounters(d)
	})
	return out, err
}

// ProcessNewMessage stores a message from a contact, or a message sent from another device of the owned
// identity when the key's sender is the owned identity. Delivering the same key twice updates the stored
// message. Requests deferred for the key are replayed before returning. A nil message with a nil error means
// the message was deliberately not stored.
func (m *Manager) ProcessNewMessage(r NewMessage) (Message, error) {
	var out Message
	err := m.run("process new message", func() error {
		d, err := m.load(r.DiscussionID)
		if err != nil {
			return err
		}
		if d.Status != StatusActive {
			return stateError("receive message", d.Status)
		}
		if d.predatesRemoteDeletion(r.ServerTimestamp) {
			return fmt.Errorf("%w: message %s", ErrPredatesRemoteDeletion, r.Key)
		}
		expiration := r.Expiration.Normalized()
		if expiration.ExistenceDuration > 0 {
			reference := m.clock.Now()
			if r.DownloadTimestamp != nil {
				reference = *r.DownloadTimestamp
			}
			if reference.Sub(r.ServerTimestamp) >= expiration.ExistenceDuration {
				return fmt.Errorf("%w: message %s", ErrAlreadyExpired, r.Key)
			}
		}

		existing, err := m.db.messageByKey(d.ID, r.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			m.log.Debugf("message %s already exists", r.Key)
			out = existing
			return m.refreshFromEngine(d, existing, r)
		}

		var msg Message
		base := MessageBase{
			ID:           ids.NewID(),
			DiscussionID: d.ID,
			SortIndex:    sortIndexOf(r.ServerTimestamp),
			Timestamp:    r.ServerTimestamp,
			Body:         r.Body,
			Mentions:     r.Mentions,
		}
		if r.Key.Sender == d.OwnedIdentity {
			if expiration.ReadOnce {
				m.log.Debugf("not storing read once message %s sent from another device", r.Key)
				return nil
			}
			msg = &SentMessage{MessageBase: base, Key: r.Key, Expiration: expiration, AttachmentCount: r.AttachmentCount}
		} else {
			received := &ReceivedMessage{
				MessageBase:     base,
				Key:             r.Key,
				Status:          MessageNew,
				ServerTimestamp: r.ServerTimestamp,
				Expiration:      expiration,
				AttachmentCount: r.AttachmentCount,
				Source:          r.Source,
			}
			if readAt := d.ServerTimestampWhenDiscussionReadOnAnotherOwnedDevice; readAt != nil && !r.ServerTimestamp.After(*readAt) {
				received.Status = received.notNewStatus()
			}
			msg = received
		}

		if err := m.insertSystemMessagesIfEmpty(d, r.ServerTimestamp); err != nil {
			return err
		}
		if err := m.insert(d, msg); err != nil {
			return err
		}
		if err := m.db.recordSenderSequence(d.ID, r.Key); err != nil {
			return err
		}
		if err := m.applyDeferred(d, r.Key); err != nil {
			return err
		}
		if out, err = m.db.messageByKey(d.ID, r.Key); err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// refreshFromEngine replaces the content of a received message first stored from a user notification once the
// engine delivers it.
func (m *Manager) refreshFromEngine(d *Discussion, existing Message, r NewMessage) error {
	received, ok := existing.(*ReceivedMessage)
	if !ok || received.IsWiped || received.Source != SourceUserNotification || r.Source != SourceEngine {
		return nil
	}
	received.Body = r.Body
	received.Mentions = r.Mentions
	received.AttachmentCount = r.AttachmentCount
	received.Expiration = r.Expiration.Normalized()
	received.Source = SourceEngine
	if err := m.db.updateMessage(received, nil); err != nil {
		return err
	}
	m.emit(&MessageEdited{DiscussionID: d.ID, MessageID: received.ID})
	return nil
}
