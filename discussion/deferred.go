package discussion

import (
	"fmt"
	"time"

	"github.com/meow-io/go-discussions/ids"
)

type DeferredKind int

const (
	DeferredWipe DeferredKind = iota
	DeferredDelete
	DeferredEdit
	DeferredReaction
)

func (k DeferredKind) String() string {
	switch k {
	case DeferredWipe:
		return "wipe"
	case DeferredDelete:
		return "delete"
	case DeferredEdit:
		return "edit"
	case DeferredReaction:
		return "reaction"
	default:
		return fmt.Sprintf("deferred(%d)", int(k))
	}
}

// DeferredRequest is a mutation received before the message it targets.
type DeferredRequest struct {
	ID               ids.ID
	DiscussionID     ids.ID
	Kind             DeferredKind
	Target           ids.MessageKey
	Requester        ids.Identity
	ServerTimestamp  time.Time
	Body             *string
	Mentions         []Mention
	Emoji            *string
	OverrideExisting bool
}

func newDeferredRow(r *DeferredRequest) *deferredRow {
	return &deferredRow{
		ID:                r.ID[:],
		DiscussionID:      r.DiscussionID[:],
		Kind:              int(r.Kind),
		Requester:         r.Requester[:],
		SenderIdentity:    r.Target.Sender[:],
		SenderThreadID:    r.Target.ThreadID[:],
		SenderSeq:         r.Target.Seq,
		ServerTimestampMs: toMs(r.ServerTimestamp),
		Body:              r.Body,
		Emoji:             r.Emoji,
		OverrideExisting:  r.OverrideExisting,
	}
}

func (row *deferredRow) request() *DeferredRequest {
	return &DeferredRequest{
		ID:           ids.IDFromBytes(row.ID),
		DiscussionID: ids.IDFromBytes(row.DiscussionID),
		Kind:         DeferredKind(row.Kind),
		Target: ids.MessageKey{
			Sender:   ids.IdentityFromBytes(row.SenderIdentity),
			ThreadID: ids.IDFromBytes(row.SenderThreadID),
			Seq:      row.SenderSeq,
		},
		Requester:        ids.IdentityFromBytes(row.Requester),
		ServerTimestamp:  fromMs(row.ServerTimestampMs),
		Body:             row.Body,
		Emoji:            row.Emoji,
		OverrideExisting: row.OverrideExisting,
	}
}

// deferRequest stores r until its target appears. A wipe or delete supersedes everything stored for the same
// target, and edits or reactions are dropped once a wipe or delete is waiting.
func (m *Manager) deferRequest(r *DeferredRequest) error {
	r.ID = ids.NewID()
	switch r.Kind {
	case DeferredWipe, DeferredDelete:
		if err := m.db.deleteDeferredFor(r.DiscussionID, r.Target); err != nil {
			return err
		}
	case DeferredEdit, DeferredReaction:
		count, err := m.db.countDeferredOfKinds(r.DiscussionID, r.Target, DeferredWipe, DeferredDelete)
		if err != nil {
			return err
		}
		if count > 0 {
			m.log.Debugf("dropping %s for %s, a deletion is already waiting", r.Kind, r.Target)
			return nil
		}
	}
	m.log.Debugf("deferring %s for %s", r.Kind, r.Target)
	return m.db.insertDeferred(r)
}

// applyDeferred replays every request waiting on the message just created, oldest first. Each request is
// consumed whatever its outcome.
func (m *Manager) applyDeferred(d *Discussion, k ids.MessageKey) (err error) {
	requests, err := m.db.deferredFor(d.ID, k)
	if err != nil {
		return fmt.Errorf("discussion: error applying deferred requests: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}
	defer func() {
		if err == nil {
			err = m.db.deleteDeferredFor(d.ID, k)
		}
	}()

	for _, r := range requests {
		m.log.Debugf("replaying deferred %s for %s", r.Kind, k)
		if replayErr := m.replay(d, r); replayErr != nil {
			if isExpected(replayErr) {
				m.log.Warnf("deferred %s for %s failed: %v", r.Kind, k, replayErr)
				continue
			}
			return replayErr
		}
	}
	return nil
}

func (m *Manager) replay(d *Discussion, r *DeferredRequest) error {
	switch r.Kind {
	case DeferredWipe:
		_, err := m.wipeOne(d, r.Target, r.Requester, r.ServerTimestamp, false)
		return err
	case DeferredDelete:
		_, err := m.deleteOne(d, r.Target, r.Requester, r.ServerTimestamp, false)
		return err
	case DeferredEdit:
		body := ""
		if r.Body != nil {
			body = *r.Body
		}
		_, err := m.editOne(d, r.Target, body, r.Mentions, r.Requester, r.ServerTimestamp, false)
		return err
	case DeferredReaction:
		_, err := m.reactOne(d, r.Target, r.Emoji, r.Requester, r.ServerTimestamp, r.OverrideExisting, false)
		return err
	default:
		return fmt.Errorf("%w: unknown deferred kind %d", ErrInconsistentReference, r.Kind)
	}
}

// PurgeDeferredRequests drops requests whose server timestamp is before cutoff.
func (m *Manager) PurgeDeferredRequests(cutoff time.Time) (int64, error) {
	var count int64
	err := m.run("purge deferred requests", func() error {
		var err error
		count, err = m.db.deleteDeferredOlderThan(cutoff)
		return err
	})
	return count, err
}

// DeferredRequests lists the requests waiting in a discussion.
func (m *Manager) DeferredRequests(discussionID ids.ID) ([]*DeferredRequest, error) {
	var out []*DeferredRequest
	err := m.view("get deferred requests", func() error {
		var err error
		out, err = m.db.deferredForDiscussion(discussionID)
		return err
	})
	return out, err
}
