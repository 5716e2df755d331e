package discussion

import (
	"fmt"

	"github.com/meow-io/go-discussions/ids"
	"golang.org/x/exp/maps"
)

// refreshCounters recomputes the number of new messages of d, pushes the difference to the owned identity
// badge and saves d.
func (m *Manager) refreshCounters(d *Discussion) error {
	count, err := m.newMessageCount(d)
	if err != nil {
		return err
	}
	delta := count - d.NumberOfNewMessages
	d.NumberOfNewMessages = count
	if err := m.save(d); err != nil {
		return err
	}
	return m.applyBadgeDelta(d.OwnedIdentity, delta)
}

func (m *Manager) newMessageCount(d *Discussion) (int, error) {
	if d.isMuted(m.clock.Now()) {
		return 0, nil
	}
	return m.db.countNewMessages(d.ID)
}

func (m *Manager) applyBadgeDelta(owned ids.Identity, delta int) error {
	if delta == 0 {
		return nil
	}
	total, err := m.db.addToBadge(owned, delta)
	if err != nil {
		return err
	}
	m.emit(&BadgeChanged{OwnedIdentity: owned, Delta: delta, Total: total})
	return nil
}

// BadgeCount is the number of new messages across the discussions of an owned identity.
func (m *Manager) BadgeCount(owned ids.Identity) (int, error) {
	var count int
	err := m.view("get badge count", func() error {
		row, err := m.db.ownedIdentity(owned)
		if err != nil {
			return err
		}
		count = row.BadgeCount
		return nil
	})
	return count, err
}

// RefreshAllBadges recomputes the counter of every discussion of owned and then sets the badge to their sum.
// Discussions which fail are logged and left out.
func (m *Manager) RefreshAllBadges(owned ids.Identity) (int, error) {
	var discussionIDs []ids.ID
	if err := m.run("list discussions for badge", func() error {
		var err error
		discussionIDs, err = m.db.discussionIDs(owned)
		return err
	}); err != nil {
		return 0, err
	}

	counts := make(map[ids.ID]int, len(discussionIDs))
	for _, id := range discussionIDs {
		id := id
		if err := m.run(fmt.Sprintf("refresh counter %x", id[:4]), func() error {
			d, err := m.load(id)
			if err != nil {
				return err
			}
			count, err := m.newMessageCount(d)
			if err != nil {
				return err
			}
			counts[id] = count
			if count == d.NumberOfNewMessages {
				return nil
			}
			d.NumberOfNewMessages = count
			return m.save(d)
		}); err != nil {
			m.log.Warnf("error refreshing counter of %x: %v", id[:4], err)
		}
	}

	total := 0
	for _, c := range maps.Values(counts) {
		total += c
	}
	err := m.run("set badge", func() error {
		if err := m.db.ensureOwnedIdentity(owned); err != nil {
			return err
		}
		row, err := m.db.ownedIdentity(owned)
		if err != nil {
			return err
		}
		if row.BadgeCount == total {
			return nil
		}
		if err := m.db.setBadge(owned, total); err != nil {
			return err
		}
		m.emit(&BadgeChanged{OwnedIdentity: owned, Delta: total - row.BadgeCount, Total: total})
		return nil
	})
	return total, err
}

// considerIllustrative makes msg the preview of d when it sorts after the current one.
func (m *Manager) considerIllustrative(d *Discussion, msg Message) error {
	if !eligibleForIllustration(msg) {
		return nil
	}
	b := msg.Base()
	if d.IllustrativeMessageID != nil {
		current, found, err := m.db.sortIndex(*d.IllustrativeMessageID)
		if err != nil {
			return err
		}
		if found && b.SortIndex <= current {
			return nil
		}
	}
	id := b.ID
	d.IllustrativeMessageID = &id
	return nil
}

func (m *Manager) rescanIllustrative(d *Discussion) error {
	best, err := m.db.bestIllustrativeMessage(d.ID)
	if err != nil {
		return err
	}
	if best == nil {
		d.IllustrativeMessageID = nil
		return nil
	}
	id := best.Base().ID
	d.IllustrativeMessageID = &id
	return nil
}
