package discussion

import (
	"fmt"

	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/sharedconfig"
)

// mayChangeSettings checks that requester may change the shared configuration of d. In a one-to-one discussion
// both sides may, in a group v1 only the group owner and in a group v2 the members holding the permission.
func (m *Manager) mayChangeSettings(d *Discussion, requester ids.Identity) error {
	switch k := d.Kind.(type) {
	case OneToOne:
		if requester == d.OwnedIdentity || (k.Contact != nil && *k.Contact == requester) {
			return nil
		}
		return permissionError("change settings", fmt.Sprintf("%s is not part of this discussion", requester))
	case GroupV1:
		if k.Group == nil {
			return fmt.Errorf("%w: group v1 of discussion %x is gone", ErrInconsistentReference, d.ID[:4])
		}
		if k.Group.Owner != requester {
			return permissionError("change settings", fmt.Sprintf("%s does not own the group", requester))
		}
		return nil
	case GroupV2:
		if k.Group == nil {
			return fmt.Errorf("%w: group v2 of discussion %x is gone", ErrInconsistentReference, d.ID[:4])
		}
		permissions, err := m.directory.GroupV2Permissions(d.OwnedIdentity, *k.Group, requester)
		if err != nil {
			return err
		}
		if permissions == nil || !permissions.ChangeSettings {
			return permissionError("change settings", fmt.Sprintf("%s may not change the group settings", requester))
		}
		return nil
	default:
		panic(fmt.Sprintf("discussion: unknown kind %T", k))
	}
}

// ProcessSharedConfigurationUpdate merges settings received from a contact or another owned device.
func (m *Manager) ProcessSharedConfigurationUpdate(u SharedConfigurationUpdate) (SharedConfigurationResult, error) {
	var result SharedConfigurationResult
	err := m.run("process shared configuration", func() error {
		d, err := m.load(u.DiscussionID)
		if err != nil {
			return err
		}
		if d.Status != StatusActive {
			return stateError("change settings", d.Status)
		}
		if err := m.mayChangeSettings(d, u.Requester); err != nil {
			return err
		}
		merged := d.Shared.Merge(u.Configuration)
		result = SharedConfigurationResult{Updated: merged.Updated, SendBack: merged.SendBack}
		if !merged.Updated {
			return nil
		}

		status := MessageNew
		if u.Requester == d.OwnedIdentity {
			status = MessageRead
		}
		requester := u.Requester
		if _, err := m.insertSystemMessage(d, newSystemMessage(d, UpdatedDiscussionSharedSettings, status, &requester, u.ServerTimestamp)); err != nil {
			return err
		}
		m.emit(&SharedConfigurationChanged{DiscussionID: d.ID, Configuration: d.Shared})
		return m.refreshCounters(d)
	})
	return result, err
}

// ReplaceSharedConfiguration applies settings chosen on this device. The version moves forward even when the
// expiration is unchanged.
func (m *Manager) ReplaceSharedConfiguration(discussionID ids.ID, e sharedconfig.Expiration) (sharedconfig.Configuration, error) {
	var out sharedconfig.Configuration
	err := m.run("replace shared configuration", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		if d.Status != StatusActive {
			return stateError("change settings", d.Status)
		}
		if err := m.mayChangeSettings(d, d.OwnedIdentity); err != nil {
			return err
		}
		d.Shared.Replace(e)
		owned := d.OwnedIdentity
		if _, err := m.insertSystemMessage(d, newSystemMessage(d, UpdatedDiscussionSharedSettings, MessageRead, &owned, m.clock.Now())); err != nil {
			return err
		}
		m.emit(&SharedConfigurationChanged{DiscussionID: d.ID, Configuration: d.Shared})
		out = d.Shared
		return m.save(d)
	})
	return out, err
}

// QuerySharedSettings reports whether the peer asking should be sent our settings. Only active discussions answer.
func (m *Manager) QuerySharedSettings(q QuerySharedSettings) (bool, error) {
	var reply bool
	err := m.run("query shared settings", func() error {
		d, err := m.load(q.DiscussionID)
		if err != nil {
			return err
		}
		reply = d.Status == StatusActive && d.Shared.NeedsReply(q.KnownVersion, q.KnownExpiration)
		return nil
	})
	return reply, err
}

// ProcessScreenCaptureNotice records that a participant captured the screen while sensitive messages were shown.
func (m *Manager) ProcessScreenCaptureNotice(n ScreenCaptureNotice) error {
	return m.run("process screen capture", func() error {
		d, err := m.load(n.DiscussionID)
		if err != nil {
			return err
		}
		if d.Status != StatusActive {
			return stateError("screen capture", d.Status)
		}
		category, status := ContactIdentityDidCaptureSensitiveMessages, MessageNew
		if n.Requester == d.OwnedIdentity {
			category, status = OwnedIdentityDidCaptureSensitiveMessages, MessageRead
		}
		requester := n.Requester
		if _, err := m.insertSystemMessage(d, newSystemMessage(d, category, status, &requester, n.ServerTimestamp)); err != nil {
			return err
		}
		return m.refreshCounters(d)
	})
}
