// Package discussion keeps the messages, ephemeral settings, deletion state and unread counters of discussions
// consistent while requests arrive out of order from contacts and from other devices of the owned identity.
//
// Every exported operation runs in its own transaction. Requests whose target message is not known yet are
// stored and replayed when the message shows up.
package discussion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meow-io/go-discussions/clock"
	"github.com/meow-io/go-discussions/config"
	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/internal/db"
	"github.com/meow-io/go-discussions/sharedconfig"
	"go.uber.org/zap"
)

type UpdateChannel chan interface{}

type Manager struct {
	config     *config.Config
	db         *database
	log        *zap.SugaredLogger
	clock      clock.Clock
	directory  Directory
	updates    UpdateChannel
	pending    []interface{}
	outbox     *outbox
	ctx        context.Context
	finished   sync.WaitGroup
	cancelFunc context.CancelFunc
}

// outbox holds committed events until they are handed to the updates channel, in commit order.
type outbox struct {
	lock   sync.Mutex
	events []interface{}
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(events []interface{}) {
	o.lock.Lock()
	o.events = append(o.events, events...)
	o.lock.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []interface{} {
	o.lock.Lock()
	defer o.lock.Unlock()
	events := o.events
	o.events = nil
	return events
}

func NewManager(c *config.Config, db *db.Database, dir Directory, cl clock.Clock) (*Manager, error) {
	log := c.Logger("discussion/manager")
	d, err := newDatabase(db)
	if err != nil {
		return nil, fmt.Errorf("discussion: error making manager %w", err)
	}

	capacity := c.UpdatesChannelCapacity
	if capacity <= 0 {
		capacity = 100
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	m := &Manager{
		config:     c,
		db:         d,
		log:        log,
		clock:      cl,
		directory:  dir,
		updates:    make(UpdateChannel, capacity),
		outbox:     newOutbox(),
		ctx:        ctx,
		cancelFunc: cancelFunc,
	}
	m.finished.Add(1)
	go m.deliver()
	return m, nil
}

// deliver moves committed events to the updates channel one at a time.
func (m *Manager) deliver() {
	defer m.finished.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.outbox.signal:
		}
		for _, e := range m.outbox.take() {
			select {
			case m.updates <- e:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// Start runs the cleaners once and then on every cleanup interval.
func (m *Manager) Start() error {
	m.cleanup()
	if m.config.CleanupInterval <= 0 {
		return nil
	}
	m.finished.Add(1)
	go func() {
		defer m.finished.Done()
		ticker := time.NewTicker(m.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()
	return nil
}

func (m *Manager) Shutdown() error {
	if m.cancelFunc != nil {
		m.cancelFunc()
		m.finished.Wait()
		m.cancelFunc = nil
	}
	return nil
}

func (m *Manager) cleanup() {
	if count, err := m.PurgeDeferredRequests(m.clock.Now().Add(-m.config.DeferredRequestMaxAge)); err != nil {
		m.log.Warnf("error purging deferred requests: %v", err)
	} else if count != 0 {
		m.log.Debugf("purged %d deferred requests", count)
	}
	count, err := m.DeleteLockedDiscussionsWithoutMessages()
	if err != nil {
		m.log.Warnf("error purging locked discussions: %v", err)
		return
	}
	if count != 0 {
		if err := m.db.Vacuum(); err != nil {
			m.log.Warnf("error vacuuming: %v", err)
		}
	}
}

// Updates delivers the events produced by committed transactions.
func (m *Manager) Updates() UpdateChannel {
	return m.updates
}

// view executes f in a read-only transaction.
func (m *Manager) view(label string, f func() error) error {
	return m.db.RunReadOnly(label, f)
}

// run executes f in a transaction. Events emitted by f are delivered only if the transaction commits.
func (m *Manager) run(label string, f func() error) error {
	return m.db.Run(label, func() error {
		m.pending = nil
		if err := f(); err != nil {
			m.pending = nil
			return err
		}
		events := m.pending
		m.pending = nil
		if len(events) != 0 {
			m.db.AfterCommit(func() {
				m.outbox.push(events)
			})
		}
		return nil
	})
}

func (m *Manager) emit(e interface{}) {
	m.pending = append(m.pending, e)
}

func isExpected(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrPermission) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExpired)
}

// NewDiscussion describes a discussion to create.
type NewDiscussion struct {
	OwnedIdentity ids.Identity
	Kind          Kind
	Title         string
	Status        Status
	Expiration    sharedconfig.Expiration
}

// CreateDiscussion creates a discussion, or returns the existing one for the same kind reference after moving
// it to the requested status.
func (m *Manager) CreateDiscussion(nd NewDiscussion) (*Discussion, error) {
	var out *Discussion
	err := m.run("create discussion", func() error {
		if nd.Kind == nil || !hasReference(nd.Kind) {
			return fmt.Errorf("%w: a new discussion needs a contact or group", ErrInconsistentReference)
		}
		if err := m.db.ensureOwnedIdentity(nd.OwnedIdentity); err != nil {
			return err
		}
		existing, err := m.db.discussionByKind(nd.OwnedIdentity, nd.Kind)
		if err != nil {
			return err
		}
		if existing != nil {
			m.log.Debugf("discussion %x already exists", existing.ID[:4])
			if existing.Status != nd.Status {
				if err := m.setStatus(existing, nd.Status); err != nil {
					return err
				}
				if err := m.refreshCounters(existing); err != nil {
					return err
				}
			}
			out = existing
			return nil
		}

		now := m.clock.Now()
		d := &Discussion{
			ID:                     ids.NewID(),
			OwnedIdentity:          nd.OwnedIdentity,
			Kind:                   nd.Kind,
			Status:                 nd.Status,
			Title:                  nd.Title,
			SenderThreadID:         ids.NewID(),
			Shared:                 sharedconfig.Configuration{Version: 0, Expiration: nd.Expiration.Normalized()},
			TimestampOfLastMessage: now,
		}
		if err := m.db.insertDiscussion(d); err != nil {
			return err
		}
		if d.Status == StatusActive {
			if err := m.insertSystemMessagesIfEmpty(d, now); err != nil {
				return err
			}
		}
		out = d
		return m.save(d)
	})
	return out, err
}

func (m *Manager) load(id ids.ID) (*Discussion, error) {
	return m.db.discussion(id)
}

func (m *Manager) save(d *Discussion) error {
	return m.db.updateDiscussion(d)
}

func (m *Manager) Discussion(id ids.ID) (*Discussion, error) {
	var out *Discussion
	err := m.view("get discussion", func() error {
		var err error
		out, err = m.load(id)
		return err
	})
	return out, err
}

// DiscussionByKind finds the discussion of an owned identity with a contact or group.
func (m *Manager) DiscussionByKind(owned ids.Identity, kind Kind) (*Discussion, error) {
	var out *Discussion
	err := m.view("get discussion by kind", func() error {
		d, err := m.db.discussionByKind(owned, kind)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("%w: no discussion for %T", ErrNotFound, kind)
		}
		out = d
		return nil
	})
	return out, err
}

func (m *Manager) Discussions(owned ids.Identity) ([]*Discussion, error) {
	var out []*Discussion
	err := m.view("get discussions", func() error {
		var err error
		out, err = m.db.discussions(owned)
		return err
	})
	return out, err
}

func (m *Manager) Messages(discussionID ids.ID) ([]Message, error) {
	var out []Message
	err := m.view("get messages", func() error {
		var err error
		out, err = m.db.messages(discussionID)
		return err
	})
	return out, err
}

func (m *Manager) Message(id ids.ID) (Message, error) {
	var out Message
	err := m.view("get message", func() error {
		var err error
		out, err = m.db.message(id)
		return err
	})
	return out, err
}

func (m *Manager) MessageByKey(discussionID ids.ID, k ids.MessageKey) (Message, error) {
	var out Message
	err := m.view("get message by key", func() error {
		msg, err := m.db.messageByKey(discussionID, k)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("%w: message %s", ErrNotFound, k)
		}
		out = msg
		return nil
	})
	return out, err
}

// LatestSenderSequenceNumber is the highest sequence number seen from a sender thread since the discussion was last locked.
func (m *Manager) LatestSenderSequenceNumber(discussionID ids.ID, sender ids.Identity, threadID ids.ID) (int64, bool, error) {
	var seq int64
	var found bool
	err := m.view("get latest sender sequence number", func() error {
		var err error
		seq, found, err = m.db.latestSenderSequence(discussionID, sender, threadID)
		return err
	})
	return seq, found, err
}

// SetArchived archives or unarchives a discussion. Archiving unpins it.
func (m *Manager) SetArchived(discussionID ids.ID, archived bool) error {
	return m.run("set archived", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		if err := m.setArchived(d, archived); err != nil {
			return err
		}
		return m.save(d)
	})
}

func (m *Manager) setArchived(d *Discussion, archived bool) error {
	if d.IsArchived == archived {
		return nil
	}
	d.IsArchived = archived
	if archived && d.PinnedIndex != nil {
		d.PinnedIndex = nil
		if err := m.emitPinned(d.OwnedIdentity, d.ID); err != nil {
			return err
		}
	}
	m.emit(&ArchivedChanged{DiscussionID: d.ID, IsArchived: archived})
	return nil
}

// SetMuteUntil sets or clears the mute end date, which zeroes the discussion's contribution to the badge while in the future.
func (m *Manager) SetMuteUntil(discussionID ids.ID, until *time.Time) error {
	return m.run("set mute", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		d.MuteUntil = until
		return m.refreshCounters(d)
	})
}

// RemoveReference records that the contact or group behind a discussion is gone.
func (m *Manager) RemoveReference(discussionID ids.ID) error {
	return m.run("remove reference", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		d.Kind = withoutReference(d.Kind)
		return m.save(d)
	})
}

// DeleteDiscussion removes a discussion and everything in it from this device.
func (m *Manager) DeleteDiscussion(discussionID ids.ID) error {
	return m.run("delete discussion", func() error {
		d, err := m.load(discussionID)
		if err != nil {
			return err
		}
		return m.hardDelete(d)
	})
}

func (m *Manager) hardDelete(d *Discussion) error {
	if err := m.applyBadgeDelta(d.OwnedIdentity, -d.NumberOfNewMessages); err != nil {
		return err
	}
	wasPinned := d.PinnedIndex != nil
	if err := m.db.deleteDiscussion(d.ID); err != nil {
		return err
	}
	if wasPinned {
		if err := m.emitPinned(d.OwnedIdentity, d.ID); err != nil {
			return err
		}
	}
	m.emit(&DiscussionDeleted{DiscussionID: d.ID, OwnedIdentity: d.OwnedIdentity})
	return nil
}

// DeleteLockedDiscussionsWithoutMessages removes locked discussions left empty. A failure on one discussion is
// logged and does not stop the others.
func (m *Manager) DeleteLockedDiscussionsWithoutMessages() (int, error) {
	var discussionIDs []ids.ID
	if err := m.run("find empty locked discussions", func() error {
		var err error
		discussionIDs, err = m.db.lockedDiscussionIDsWithoutMessages()
		return err
	}); err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range discussionIDs {
		id := id
		if err := m.run(fmt.Sprintf("delete empty locked discussion %x", id[:4]), func() error {
			d, err := m.load(id)
			if err != nil {
				return err
			}
			count, err := m.db.countMessages(id)
			if err != nil {
				return err
			}
			if d.Status != StatusLocked || count != 0 {
				return nil
			}
			deleted++
			return m.hardDelete(d)
		}); err != nil {
			m.log.Warnf("error deleting empty locked discussion %x: %v", id[:4], err)
		}
	}
	return deleted, nil
}
