package discussion

import (
	"errors"
	"fmt"
	"time"

	"github.com/meow-io/go-discussions/ids"
)

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeDeferred
	outcomeIgnored
)

func (r *TargetResult) add(k ids.MessageKey, o outcome) {
	switch o {
	case outcomeApplied:
		r.Applied = append(r.Applied, k)
	case outcomeDeferred:
		r.Deferred = append(r.Deferred, k)
	default:
		r.Ignored = append(r.Ignored, k)
	}
}

// eachTarget runs f on every target. Expected failures are collected and the remaining targets still run;
// any other failure aborts the request.
func eachTarget(targets []ids.MessageKey, f func(ids.MessageKey) (outcome, error)) (*TargetResult, []error, error) {
	result := &TargetResult{}
	var failures []error
	for _, k := range targets {
		o, err := f(k)
		if err != nil {
			if !isExpected(err) {
				return nil, nil, err
			}
			failures = append(failures, fmt.Errorf("%s: %w", k, err))
			o = outcomeIgnored
		}
		result.add(k, o)
	}
	return result, failures, nil
}

// groupV2MayDeleteAnything reports whether member holds the remote-delete-anything permission in the group v2
// of d. It is false for every other kind.
func (m *Manager) groupV2MayDeleteAnything(d *Discussion, member ids.Identity) (bool, error) {
	k, ok := d.Kind.(GroupV2)
	if !ok || k.Group == nil {
		return false, nil
	}
	permissions, err := m.directory.GroupV2Permissions(d.OwnedIdentity, *k.Group, member)
	if err != nil {
		return false, err
	}
	return permissions != nil && permissions.RemoteDeleteAnything, nil
}

func (m *Manager) mayWipe(d *Discussion, msg Message, requester ids.Identity) error {
	switch msg := msg.(type) {
	case *SentMessage:
		if requester == d.OwnedIdentity {
			return nil
		}
	case *ReceivedMessage:
		if requester == msg.Key.Sender || requester == d.OwnedIdentity {
			return nil
		}
	case *SystemMessage:
		return permissionError("wipe", "system messages cannot be wiped")
	}
	allowed, err := m.groupV2MayDeleteAnything(d, requester)
	if err != nil {
		return err
	}
	if !allowed {
		return permissionError("wipe", fmt.Sprintf("%s does not own message %x", requester, msg.Base().ID[:4]))
	}
	return nil
}

func (m *Manager) wipeOne(d *Discussion, k ids.MessageKey, requester ids.Identity, ts time.Time, allowDefer bool) (outcome, error) {
	if d.Status != StatusActive {
		return outcomeIgnored, stateError("wipe", d.Status)
	}
	msg, err := m.db.messageByKey(d.ID, k)
	if err != nil {
		return outcomeIgnored, err
	}
	if msg == nil {
		if !allowDefer {
			return outcomeIgnored, fmt.Errorf("%w: message %s", ErrNotFound, k)
		}
		return outcomeDeferred, m.deferRequest(&DeferredRequest{DiscussionID: d.ID, Kind: DeferredWipe, Target: k, Requester: requester, ServerTimestamp: ts})
	}
	b := msg.Base()
	if b.IsWiped {
		return outcomeIgnored, nil
	}
	if err := m.mayWipe(d, msg, requester); err != nil {
		return outcomeIgnored, err
	}

	b.wipeContent(requester)
	if received, ok := msg.(*ReceivedMessage); ok {
		received.Status = MessageRead
	}
	if err := m.db.updateMessage(msg, nil); err != nil {
		return outcomeIgnored, err
	}
	m.emit(&MessageWiped{DiscussionID: d.ID, MessageID: b.ID, By: requester})
	return outcomeApplied, nil
}

// ProcessWipeMessages wipes the content of each target. Targets the requester may not wipe are reported in the
// joined error while the others are still applied. Missing targets are deferred.
func (m *Manager) ProcessWipeMessages(r WipeMessages) (*TargetResult, error) {
	var result *TargetResult
	var failures []error
	err := m.run("process wipe messages", func() error {
		d, err := m.load(r.DiscussionID)
		if err != nil {
			return err
		}
		if d.Status != StatusActive {
			return stateError("wipe", d.Status)
		}
		result, failures, err = eachTarget(r.Targets, func(k ids.MessageKey) (outcome, error) {
			return m.wipeOne(d, k, r.Requester, r.ServerTimestamp, true)
		})
		if err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
	if err != nil {
		return nil, err
	}
	return result, errors.Join(failures...)
}

func (m *Manager) deleteOne(d *Discussion, k ids.MessageKey, requester ids.Identity, ts time.Time, allowDefer bool) (outcome, error) {
	if d.Status == StatusPreDiscussion {
		return outcomeIgnored, stateError("delete", d.Status)
	}
	msg, err := m.db.messageByKey(d.ID, k)
	if err != nil {
		return outcomeIgnored, err
	}
	if msg == nil {
		if !allowDefer {
			return outcomeIgnored, fmt.Errorf("%w: message %s", ErrNotFound, k)
		}
		return outcomeDeferred, m.deferRequest(&DeferredRequest{DiscussionID: d.ID, Kind: DeferredDelete, Target: k, Requester: requester, ServerTimestamp: ts})
	}
	return outcomeApplied, m.removeMessage(d, msg)
}

func (m *Manager) removeMessage(d *Discussion, msg Message) error {
	id := msg.Base().ID
	if err := m.db.deleteMessage(id); err != nil {
		return err
	}
	m.emit(&MessageDeleted{DiscussionID: d.ID, MessageID: id})
	if d.IllustrativeMessageID != nil && *d.IllustrativeMessageID == id {
		return m.rescanIllustrative(d)
	}
	return nil
}

// ProcessDeleteMessages removes messages as requested by another device of the owned identity.
func (m *Manager) ProcessDeleteMessages(r DeleteMessages) (*TargetResult, error) {
	var result *TargetResult
	var failures []error
	err := m.run("process delete messages", func() error {
		d, err := m.load(r.DiscussionID)
		if err != nil {
			return err
		}
		if r.Requester != d.OwnedIdentity {
			return permissionError("delete", "only owned devices may delete messages")
		}
		result, failures, err = eachTarget(r.Targets, func(k ids.MessageKey) (outcome, error) {
			return m.deleteOne(d, k, r.Requester, r.ServerTimestamp, true)
		})
		if err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
	if err != nil {
		return nil, err
	}
	return result, errors.Join(failures...)
}

// DeleteMessage removes a message on this device. The scope says which devices the caller will ask to do the
// same, and is checked against the discussion and the message.
func (m *Manager) DeleteMessage(messageID ids.ID, scope DeletionScope) error {
	return m.run("delete message", func() error {
		msg, err := m.db.message(messageID)
		if err != nil {
			return err
		}
		d, err := m.load(msg.Base().DiscussionID)
		if err != nil {
			return err
		}
		if err := m.mayDelete(d, msg, scope); err != nil {
			return err
		}
		if err := m.removeMessage(d, msg); err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
}

func (m *Manager) mayDelete(d *Discussion, msg Message, scope DeletionScope) error {
	if d.Status == StatusPreDiscussion {
		return stateError("delete", d.Status)
	}
	b := msg.Base()
	var ownedScopesOnly bool
	switch msg := msg.(type) {
	case *SystemMessage:
		if !msg.Category.Deletable() {
			return permissionError("delete", fmt.Sprintf("%s messages cannot be deleted", msg.Category))
		}
		ownedScopesOnly = true
	default:
		ownedScopesOnly = b.IsWiped && b.WipedBy != nil && *b.WipedBy != d.OwnedIdentity
	}

	switch scope {
	case ThisDeviceOnly:
		return nil
	case AllOwnedDevices:
		reachable, err := m.directory.HasAnotherReachableOwnedDevice(d.OwnedIdentity)
		if err != nil {
			return err
		}
		if !reachable {
			return permissionError("delete", "no other owned device")
		}
		return nil
	case AllOwnedDevicesAndContactDevices:
		if d.Status != StatusActive {
			return stateError("delete on contact devices", d.Status)
		}
		if ownedScopesOnly {
			return permissionError("delete", "message can only be deleted on owned devices")
		}
		if _, sent := msg.(*SentMessage); sent {
			return nil
		}
		allowed, err := m.groupV2MayDeleteAnything(d, d.OwnedIdentity)
		if err != nil {
			return err
		}
		if !allowed {
			return permissionError("delete", "contacts can only be asked to delete messages sent to them")
		}
		return nil
	default:
		return fmt.Errorf("discussion: unknown deletion scope %d", scope)
	}
}

// ProcessDeleteAllMessages empties a discussion. From an owned device an active discussion is then archived
// and a locked one deleted. From a contact it needs the group v2 remote-delete-anything permission.
func (m *Manager) ProcessDeleteAllMessages(r DeleteAllMessages) error {
	return m.run("process delete all messages", func() error {
		d, err := m.load(r.DiscussionID)
		if err != nil {
			return err
		}
		if r.Requester == d.OwnedIdentity {
			switch d.Status {
			case StatusPreDiscussion:
				return stateError("delete all messages", d.Status)
			case StatusLocked:
				return m.hardDelete(d)
			}
			if err := m.removeAll(d, r.ServerTimestamp); err != nil {
				return err
			}
			if err := m.setArchived(d, true); err != nil {
				return err
			}
			return m.refreshCounters(d)
		}

		if _, ok := d.Kind.(GroupV2); !ok {
			return permissionError("delete all messages", "only group v2 members may delete everything")
		}
		if d.Status != StatusActive {
			return stateError("delete all messages", d.Status)
		}
		allowed, err := m.groupV2MayDeleteAnything(d, r.Requester)
		if err != nil {
			return err
		}
		if !allowed {
			return permissionError("delete all messages", fmt.Sprintf("%s may not delete messages of others", r.Requester))
		}
		if err := m.removeAll(d, r.ServerTimestamp); err != nil {
			return err
		}
		requester := r.Requester
		if _, err := m.insertSystemMessage(d, newSystemMessage(d, DiscussionWasRemotelyWiped, MessageNew, &requester, m.clock.Now())); err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
}

func (m *Manager) removeAll(d *Discussion, watermark *time.Time) error {
	if err := m.db.deleteAllMessages(d.ID); err != nil {
		return err
	}
	d.IllustrativeMessageID = nil
	if watermark != nil {
		d.raiseRemoteDeletion(*watermark)
	}
	m.emit(&AllMessagesDeleted{DiscussionID: d.ID})
	return nil
}
