package discussion

import (
	"fmt"
	"time"

	"github.com/meow-io/go-discussions/ids"
)

// editOne replaces the body of the message at k. Only the sender may edit, and an edit older than the last
// applied one is ignored.
func (m *Manager) editOne(d *Discussion, k ids.MessageKey, body string, mentions []Mention, requester ids.Identity, ts time.Time, allowDefer bool) (outcome, error) {
	if d.Status != StatusActive {
		return outcomeIgnored, stateError("edit", d.Status)
	}
	if requester != k.Sender {
		return outcomeIgnored, permissionError("edit", fmt.Sprintf("%s did not send %s", requester, k))
	}
	msg, err := m.db.messageByKey(d.ID, k)
	if err != nil {
		return outcomeIgnored, err
	}
	if msg == nil {
		if !allowDefer {
			return outcomeIgnored, fmt.Errorf("%w: message %s", ErrNotFound, k)
		}
		return outcomeDeferred, m.deferRequest(&DeferredRequest{DiscussionID: d.ID, Kind: DeferredEdit, Target: k, Requester: requester, ServerTimestamp: ts, Body: &body, Mentions: mentions})
	}
	b := msg.Base()
	if b.IsWiped {
		return outcomeIgnored, nil
	}
	lastEdit, err := m.db.lastEdit(b.ID)
	if err != nil {
		return outcomeIgnored, err
	}
	if lastEdit != nil && !ts.After(*lastEdit) {
		m.log.Debugf("ignoring edit of %s older than the last one", k)
		return outcomeIgnored, nil
	}

	b.Body = body
	b.Mentions = mentions
	b.IsEdited = true
	if err := m.db.updateMessage(msg, &ts); err != nil {
		return outcomeIgnored, err
	}
	m.emit(&MessageEdited{DiscussionID: d.ID, MessageID: b.ID})
	return outcomeApplied, nil
}

// ProcessEditMessage applies an edit from a contact or from another owned device. It reports whether the edit
// had to wait for its target.
func (m *Manager) ProcessEditMessage(r EditMessage) (bool, error) {
	var deferred bool
	err := m.run("process edit message", func() error {
		d, err := m.load(r.DiscussionID)
		if err != nil {
			return err
		}
		o, err := m.editOne(d, r.Target, r.Body, r.Mentions, r.Requester, r.ServerTimestamp, true)
		if err != nil {
			return err
		}
		deferred = o == outcomeDeferred
		return nil
	})
	return deferred, err
}

// EditSentMessage changes the body of a message sent by the owned identity.
func (m *Manager) EditSentMessage(messageID ids.ID, body string, mentions []Mention) error {
	return m.run("edit sent message", func() error {
		msg, err := m.db.message(messageID)
		if err != nil {
			return err
		}
		sent, ok := msg.(*SentMessage)
		if !ok {
			return permissionError("edit", "only sent messages can be edited")
		}
		d, err := m.load(sent.DiscussionID)
		if err != nil {
			return err
		}
		_, err = m.editOne(d, sent.Key, body, mentions, d.OwnedIdentity, m.clock.Now(), false)
		return err
	})
}

func (m *Manager) mayReact(d *Discussion, requester ids.Identity) error {
	if requester == d.OwnedIdentity {
		return nil
	}
	switch k := d.Kind.(type) {
	case OneToOne:
		if k.Contact == nil || *k.Contact != requester {
			return permissionError("react", fmt.Sprintf("%s is not the contact of this discussion", requester))
		}
	case GroupV1:
		if k.Group == nil {
			return permissionError("react", "the group is gone")
		}
	case GroupV2:
		if k.Group == nil {
			return permissionError("react", "the group is gone")
		}
		permissions, err := m.directory.GroupV2Permissions(d.OwnedIdentity, *k.Group, requester)
		if err != nil {
			return err
		}
		if permissions == nil {
			return permissionError("react", fmt.Sprintf("%s is not a member of the group", requester))
		}
	}
	return nil
}

// reactOne sets, replaces or removes (nil emoji) the reaction of requester on the message at k. An existing
// reaction is only replaced when override is set and it is not newer than ts.
func (m *Manager) reactOne(d *Discussion, k ids.MessageKey, emoji *string, requester ids.Identity, ts time.Time, override bool, allowDefer bool) (outcome, error) {
	if d.Status != StatusActive {
		return outcomeIgnored, stateError("react", d.Status)
	}
	if err := m.mayReact(d, requester); err != nil {
		return outcomeIgnored, err
	}
	msg, err := m.db.messageByKey(d.ID, k)
	if err != nil {
		return outcomeIgnored, err
	}
	if msg == nil {
		if !allowDefer {
			return outcomeIgnored, fmt.Errorf("%w: message %s", ErrNotFound, k)
		}
		return outcomeDeferred, m.deferRequest(&DeferredRequest{DiscussionID: d.ID, Kind: DeferredReaction, Target: k, Requester: requester, ServerTimestamp: ts, Emoji: emoji, OverrideExisting: override})
	}
	b := msg.Base()
	if b.IsWiped {
		return outcomeIgnored, nil
	}
	for _, existing := range b.Reactions {
		if existing.Reactor != requester {
			continue
		}
		if !override || existing.Timestamp.After(ts) {
			return outcomeIgnored, nil
		}
	}

	if emoji == nil {
		err = m.db.deleteReaction(b.ID, requester)
	} else {
		err = m.db.upsertReaction(b.ID, Reaction{Reactor: requester, Emoji: *emoji, Timestamp: ts})
	}
	if err != nil {
		return outcomeIgnored, err
	}
	m.emit(&ReactionsChanged{DiscussionID: d.ID, MessageID: b.ID})
	return outcomeApplied, nil
}

// ProcessReaction applies a reaction from a contact or from another owned device. It reports whether the
// reaction had to wait for its target.
func (m *Manager) ProcessReaction(r SetOrUpdateReaction) (bool, error) {
	var deferred bool
	err := m.run("process reaction", func() error {
		d, err := m.load(r.DiscussionID)
		if err != nil {
			return err
		}
		o, err := m.reactOne(d, r.Target, r.Emoji, r.Requester, r.ServerTimestamp, r.OverrideExisting, true)
		if err != nil {
			return err
		}
		deferred = o == outcomeDeferred
		return nil
	})
	return deferred, err
}

// SetOwnedReaction sets or removes (nil emoji) the reaction of the owned identity on a message.
func (m *Manager) SetOwnedReaction(messageID ids.ID, emoji *string) error {
	return m.run("set owned reaction", func() error {
		msg, err := m.db.message(messageID)
		if err != nil {
			return err
		}
		var k ids.MessageKey
		switch msg := msg.(type) {
		case *SentMessage:
			k = msg.Key
		case *ReceivedMessage:
			k = msg.Key
		default:
			return permissionError("react", "system messages take no reaction")
		}
		d, err := m.load(msg.Base().DiscussionID)
		if err != nil {
			return err
		}
		_, err = m.reactOne(d, k, emoji, d.OwnedIdentity, m.clock.Now(), true, false)
		return err
	})
}
