package discussion

import (
	"github.com/meow-io/go-discussions/ids"
	"golang.org/x/exp/slices"
)

// reconcilePinned computes the new pinned order. An ordered request is taken as is. Otherwise the currently
// pinned discussions still requested keep their relative order and the newly requested ones follow in the
// given order.
func reconcilePinned(current, requested []ids.ID, ordered bool) []ids.ID {
	out := make([]ids.ID, 0, len(requested))
	if ordered {
		for _, id := range requested {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
		return out
	}
	for _, id := range current {
		if slices.Contains(requested, id) {
			out = append(out, id)
		}
	}
	for _, id := range requested {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func discussionIDsOf(ds []*Discussion) []ids.ID {
	out := make([]ids.ID, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

// SetPinnedDiscussions replaces the pinned discussions of an owned identity and reports whether the pinned
// order changed. Unknown discussion ids are skipped.
func (m *Manager) SetPinnedDiscussions(owned ids.Identity, discussionIDs []ids.ID, ordered bool) (bool, error) {
	var changed bool
	err := m.run("set pinned discussions", func() error {
		pinned, err := m.db.pinnedDiscussions(owned)
		if err != nil {
			return err
		}
		before := discussionIDsOf(pinned)
		target := reconcilePinned(before, discussionIDs, ordered)

		found, err := m.db.discussionsByIDs(owned, target)
		if err != nil {
			return err
		}
		byID := make(map[ids.ID]*Discussion, len(found)+len(pinned))
		for _, d := range found {
			byID[d.ID] = d
		}
		for _, d := range pinned {
			byID[d.ID] = d
		}
		known := target[:0]
		for _, id := range target {
			if _, ok := byID[id]; !ok {
				m.log.Debugf("not pinning unknown discussion %x", id[:4])
				continue
			}
			known = append(known, id)
		}
		target = known

		for _, d := range pinned {
			if !slices.Contains(target, d.ID) {
				d.PinnedIndex = nil
				if err := m.save(d); err != nil {
					return err
				}
			}
		}
		for i, id := range target {
			d := byID[id]
			if d.PinnedIndex != nil && *d.PinnedIndex == i {
				continue
			}
			index := i
			d.PinnedIndex = &index
			if err := m.save(d); err != nil {
				return err
			}
		}

		changed = !slices.Equal(before, target)
		if changed {
			m.emit(&PinnedChanged{OwnedIdentity: owned, Pinned: target})
		}
		return nil
	})
	return changed, err
}

// emitPinned reports the pinned order of owned without unpinned, which may not be saved yet.
func (m *Manager) emitPinned(owned ids.Identity, unpinned ids.ID) error {
	pinned, err := m.db.pinnedDiscussions(owned)
	if err != nil {
		return err
	}
	remaining := make([]ids.ID, 0, len(pinned))
	for _, d := range pinned {
		if d.ID != unpinned {
			remaining = append(remaining, d.ID)
		}
	}
	m.emit(&PinnedChanged{OwnedIdentity: owned, Pinned: remaining})
	return nil
}

func (m *Manager) PinnedDiscussions(owned ids.Identity) ([]*Discussion, error) {
	var out []*Discussion
	err := m.view("get pinned discussions", func() error {
		var err error
		out, err = m.db.pinnedDiscussions(owned)
		return err
	})
	return out, err
}
