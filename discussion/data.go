package discussion

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/internal/db"
	"github.com/meow-io/go-discussions/migration"
	"github.com/meow-io/go-discussions/sharedconfig"
)

type ownedIdentityRow struct {
	Identity   []byte `db:"identity"`
	BadgeCount int    `db:"badge_count"`
}

type discussionRow struct {
	ID                    []byte  `db:"id"`
	OwnedIdentity         []byte  `db:"owned_identity"`
	Kind                  int     `db:"kind"`
	ContactIdentity       *[]byte `db:"contact_identity"`
	GroupUID              *[]byte `db:"group_uid"`
	GroupOwner            *[]byte `db:"group_owner"`
	Status                int     `db:"status"`
	Title                 string  `db:"title"`
	SenderThreadID        []byte  `db:"sender_thread_id"`
	SharedVersion         int64   `db:"shared_version"`
	SharedReadOnce        bool    `db:"shared_read_once"`
	SharedVisibilityMs    int64   `db:"shared_visibility_ms"`
	SharedExistenceMs     int64   `db:"shared_existence_ms"`
	IllustrativeMessageID *[]byte `db:"illustrative_message_id"`
	NumberOfNewMessages   int     `db:"number_of_new_messages"`
	PinnedIndex           *int    `db:"pinned_index"`
	IsArchived            bool    `db:"is_archived"`
	MuteUntilMs           *int64  `db:"mute_until_ms"`
	LastOutboundSeq       int64   `db:"last_outbound_seq"`
	LastSystemSeq         int64   `db:"last_system_seq"`
	LastMessageMs         int64   `db:"last_message_ms"`
	LastRemoteDeletionMs  *int64  `db:"last_remote_deletion_ms"`
	LocalReadMs           *int64  `db:"local_read_ms"`
	RemoteReadMs          *int64  `db:"remote_read_ms"`
}

type messageRow struct {
	ID                []byte  `db:"id"`
	DiscussionID      []byte  `db:"discussion_id"`
	Variant           int     `db:"variant"`
	SenderIdentity    *[]byte `db:"sender_identity"`
	SenderThreadID    *[]byte `db:"sender_thread_id"`
	SenderSeq         *int64  `db:"sender_seq"`
	SortIndex         float64 `db:"sort_index"`
	TimestampMs       int64   `db:"timestamp_ms"`
	ServerTimestampMs *int64  `db:"server_timestamp_ms"`
	Status            int     `db:"status"`
	Body              string  `db:"body"`
	IsWiped           bool    `db:"is_wiped"`
	WipedBy           *[]byte `db:"wiped_by"`
	IsEdited          bool    `db:"is_edited"`
	LastEditMs        *int64  `db:"last_edit_ms"`
	Category          *int    `db:"category"`
	SystemSeq         *int64  `db:"system_seq"`
	RelatedIdentity   *[]byte `db:"related_identity"`
	NewMessagesCount  int     `db:"new_messages_count"`
	ReadOnce          bool    `db:"read_once"`
	VisibilityMs      int64   `db:"visibility_ms"`
	ExistenceMs       int64   `db:"existence_ms"`
	AttachmentCount   int     `db:"attachment_count"`
	Source            int     `db:"source"`
}

type mentionRow struct {
	OwnerID    []byte `db:"owner_id"`
	Identity   []byte `db:"mentioned_identity"`
	RangeStart int    `db:"range_start"`
	RangeEnd   int    `db:"range_end"`
}

type reactionRow struct {
	MessageID   []byte `db:"message_id"`
	Reactor     []byte `db:"reactor"`
	Emoji       string `db:"emoji"`
	TimestampMs int64  `db:"timestamp_ms"`
}

type deferredRow struct {
	ID                []byte  `db:"id"`
	DiscussionID      []byte  `db:"discussion_id"`
	Kind              int     `db:"kind"`
	Requester         []byte  `db:"requester"`
	SenderIdentity    []byte  `db:"sender_identity"`
	SenderThreadID    []byte  `db:"sender_thread_id"`
	SenderSeq         int64   `db:"sender_seq"`
	ServerTimestampMs int64   `db:"server_timestamp_ms"`
	Body              *string `db:"body"`
	Emoji             *string `db:"emoji"`
	OverrideExisting  bool    `db:"override_existing"`
}

type senderSequenceRow struct {
	DiscussionID   []byte `db:"discussion_id"`
	SenderIdentity []byte `db:"sender_identity"`
	SenderThreadID []byte `db:"sender_thread_id"`
	LatestSeq      int64  `db:"latest_seq"`
}

type database struct {
	*db.Database
}

func newDatabase(internalDB *db.Database) (*database, error) {
	d := &database{internalDB}

	if err := internalDB.Migrate("_discussions", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE _owned_identities (
						identity BLOB PRIMARY KEY,
						badge_count INTEGER NOT NULL DEFAULT 0
					);

					CREATE TABLE _discussions (
						id BLOB PRIMARY KEY,
						owned_identity BLOB NOT NULL,
						kind INTEGER NOT NULL,
						contact_identity BLOB,
						group_uid BLOB,
						group_owner BLOB,
						status INTEGER NOT NULL,
						title TEXT NOT NULL,
						sender_thread_id BLOB NOT NULL,
						shared_version INTEGER NOT NULL,
						shared_read_once NUMBER NOT NULL,
						shared_visibility_ms INTEGER NOT NULL,
						shared_existence_ms INTEGER NOT NULL,
						illustrative_message_id BLOB,
						number_of_new_messages INTEGER NOT NULL,
						pinned_index INTEGER,
						is_archived NUMBER NOT NULL,
						mute_until_ms INTEGER,
						last_outbound_seq INTEGER NOT NULL,
						last_system_seq INTEGER NOT NULL,
						last_message_ms INTEGER NOT NULL,
						last_remote_deletion_ms INTEGER,
						local_read_ms INTEGER,
						remote_read_ms INTEGER,
						FOREIGN KEY(owned_identity) REFERENCES _owned_identities(identity) ON DELETE CASCADE
					);
					CREATE INDEX discussions_owned_identity ON _discussions (owned_identity);
					CREATE UNIQUE INDEX discussions_one_to_one ON _discussions (owned_identity, contact_identity) WHERE kind = 0;
					CREATE UNIQUE INDEX discussions_group_v1 ON _discussions (owned_identity, group_uid, group_owner) WHERE kind = 1;
					CREATE UNIQUE INDEX discussions_group_v2 ON _discussions (owned_identity, group_uid) WHERE kind = 2;

					CREATE TABLE _messages (
						id BLOB PRIMARY KEY,
						discussion_id BLOB NOT NULL,
						variant INTEGER NOT NULL,
						sender_identity BLOB,
						sender_thread_id BLOB,
						sender_seq INTEGER,
						sort_index REAL NOT NULL,
						timestamp_ms INTEGER NOT NULL,
						server_timestamp_ms INTEGER,
						status INTEGER NOT NULL,
						body TEXT NOT NULL,
						is_wiped NUMBER NOT NULL,
						wiped_by BLOB,
						is_edited NUMBER NOT NULL,
						last_edit_ms INTEGER,
						category INTEGER,
						system_seq INTEGER,
						related_identity BLOB,
						new_messages_count INTEGER NOT NULL,
						read_once NUMBER NOT NULL,
						visibility_ms INTEGER NOT NULL,
						existence_ms INTEGER NOT NULL,
						attachment_count INTEGER NOT NULL,
						source INTEGER NOT NULL,
						FOREIGN KEY(discussion_id) REFERENCES _discussions(id) ON DELETE CASCADE
					);
					CREATE UNIQUE INDEX messages_logical_key ON _messages (discussion_id, sender_identity, sender_thread_id, sender_seq);
					CREATE INDEX messages_sort_index ON _messages (discussion_id, sort_index);
					CREATE INDEX messages_status ON _messages (discussion_id, status);

					CREATE TABLE _message_mentions (
						owner_id BLOB NOT NULL,
						mentioned_identity BLOB NOT NULL,
						range_start INTEGER NOT NULL,
						range_end INTEGER NOT NULL,
						FOREIGN KEY(owner_id) REFERENCES _messages(id) ON DELETE CASCADE
					);
					CREATE INDEX message_mentions_owner_id ON _message_mentions (owner_id);

					CREATE TABLE _message_reactions (
						message_id BLOB NOT NULL,
						reactor BLOB NOT NULL,
						emoji TEXT NOT NULL,
						timestamp_ms INTEGER NOT NULL,
						PRIMARY KEY (message_id, reactor),
						FOREIGN KEY(message_id) REFERENCES _messages(id) ON DELETE CASCADE
					);

					CREATE TABLE _deferred_requests (
						id BLOB PRIMARY KEY,
						discussion_id BLOB NOT NULL,
						kind INTEGER NOT NULL,
						requester BLOB NOT NULL,
						sender_identity BLOB NOT NULL,
						sender_thread_id BLOB NOT NULL,
						sender_seq INTEGER NOT NULL,
						server_timestamp_ms INTEGER NOT NULL,
						body TEXT,
						emoji TEXT,
						override_existing NUMBER NOT NULL,
						FOREIGN KEY(discussion_id) REFERENCES _discussions(id) ON DELETE CASCADE
					);
					CREATE INDEX deferred_requests_key ON _deferred_requests (discussion_id, sender_identity, sender_thread_id, sender_seq);
					CREATE INDEX deferred_requests_server_timestamp ON _deferred_requests (server_timestamp_ms);

					CREATE TABLE _deferred_request_mentions (
						owner_id BLOB NOT NULL,
						mentioned_identity BLOB NOT NULL,
						range_start INTEGER NOT NULL,
						range_end INTEGER NOT NULL,
						FOREIGN KEY(owner_id) REFERENCES _deferred_requests(id) ON DELETE CASCADE
					);
					CREATE INDEX deferred_request_mentions_owner_id ON _deferred_request_mentions (owner_id);

					CREATE TABLE _sender_sequence_numbers (
						discussion_id BLOB NOT NULL,
						sender_identity BLOB NOT NULL,
						sender_thread_id BLOB NOT NULL,
						latest_seq INTEGER NOT NULL,
						PRIMARY KEY (discussion_id, sender_identity, sender_thread_id),
						FOREIGN KEY(discussion_id) REFERENCES _discussions(id) ON DELETE CASCADE
					);
				`)
				return err
			},
		},
	}); err != nil {
		return nil, err
	}

	return d, nil
}

func toMs(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func optionalMs(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func optionalTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func optionalIDBytes(v *ids.ID) *[]byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 16)
	copy(b, v[:])
	return &b
}

func optionalIdentityBytes(v *ids.Identity) *[]byte {
	if v == nil {
		return nil
	}
	b := make([]byte, 16)
	copy(b, v[:])
	return &b
}

func optionalID(b *[]byte) *ids.ID {
	if b == nil {
		return nil
	}
	id := ids.IDFromBytes(*b)
	return &id
}

func optionalIdentity(b *[]byte) *ids.Identity {
	if b == nil {
		return nil
	}
	id := ids.IdentityFromBytes(*b)
	return &id
}

func newDiscussionRow(d *Discussion) *discussionRow {
	row := &discussionRow{
		ID:                    d.ID[:],
		OwnedIdentity:         d.OwnedIdentity[:],
		Kind:                  int(d.Kind.code()),
		Status:                int(d.Status),
		Title:                 d.Title,
		SenderThreadID:        d.SenderThreadID[:],
		SharedVersion:         d.Shared.Version,
		SharedReadOnce:        d.Shared.Expiration.ReadOnce,
		SharedVisibilityMs:    d.Shared.Expiration.VisibilityDuration.Milliseconds(),
		SharedExistenceMs:     d.Shared.Expiration.ExistenceDuration.Milliseconds(),
		IllustrativeMessageID: optionalIDBytes(d.IllustrativeMessageID),
		NumberOfNewMessages:   d.NumberOfNewMessages,
		PinnedIndex:           d.PinnedIndex,
		IsArchived:            d.IsArchived,
		MuteUntilMs:           optionalMs(d.MuteUntil),
		LastOutboundSeq:       d.LastOutboundSequenceNumber,
		LastSystemSeq:         d.LastSystemSequenceNumber,
		LastMessageMs:         toMs(d.TimestampOfLastMessage),
		LastRemoteDeletionMs:  optionalMs(d.ServerTimestampOfLastRemoteDeletion),
		LocalReadMs:           optionalMs(d.LocalDateWhenDiscussionRead),
		RemoteReadMs:          optionalMs(d.ServerTimestampWhenDiscussionReadOnAnotherOwnedDevice),
	}
	switch k := d.Kind.(type) {
	case OneToOne:
		row.ContactIdentity = optionalIdentityBytes(k.Contact)
	case GroupV1:
		if k.Group != nil {
			row.GroupUID = optionalIDBytes(&k.Group.UID)
			row.GroupOwner = optionalIdentityBytes(&k.Group.Owner)
		}
	case GroupV2:
		row.GroupUID = optionalIDBytes(k.Group)
	}
	return row
}

func (row *discussionRow) discussion() (*Discussion, error) {
	var kind Kind
	switch kindCode(row.Kind) {
	case kindOneToOne:
		kind = OneToOne{Contact: optionalIdentity(row.ContactIdentity)}
	case kindGroupV1:
		k := GroupV1{}
		if row.GroupUID != nil && row.GroupOwner != nil {
			k.Group = &ids.GroupV1Ref{UID: ids.IDFromBytes(*row.GroupUID), Owner: ids.IdentityFromBytes(*row.GroupOwner)}
		}
		kind = k
	case kindGroupV2:
		kind = GroupV2{Group: optionalID(row.GroupUID)}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d for discussion %x", ErrInconsistentReference, row.Kind, row.ID)
	}
	return &Discussion{
		ID:             ids.IDFromBytes(row.ID),
		OwnedIdentity:  ids.IdentityFromBytes(row.OwnedIdentity),
		Kind:           kind,
		Status:         Status(row.Status),
		Title:          row.Title,
		SenderThreadID: ids.IDFromBytes(row.SenderThreadID),
		Shared: sharedconfig.Configuration{
			Version: row.SharedVersion,
			Expiration: sharedconfig.NewExpiration(
				row.SharedReadOnce,
				time.Duration(row.SharedVisibilityMs)*time.Millisecond,
				time.Duration(row.SharedExistenceMs)*time.Millisecond,
			),
		},
		IllustrativeMessageID:      optionalID(row.IllustrativeMessageID),
		NumberOfNewMessages:        row.NumberOfNewMessages,
		PinnedIndex:                row.PinnedIndex,
		IsArchived:                 row.IsArchived,
		MuteUntil:                  optionalTime(row.MuteUntilMs),
		LastOutboundSequenceNumber: row.LastOutboundSeq,
		LastSystemSequenceNumber:   row.LastSystemSeq,
		TimestampOfLastMessage:     fromMs(row.LastMessageMs),

		ServerTimestampOfLastRemoteDeletion:                   optionalTime(row.LastRemoteDeletionMs),
		LocalDateWhenDiscussionRead:                           optionalTime(row.LocalReadMs),
		ServerTimestampWhenDiscussionReadOnAnotherOwnedDevice: optionalTime(row.RemoteReadMs),
	}, nil
}

func expirationRow(row *messageRow, e sharedconfig.Expiration) {
	row.ReadOnce = e.ReadOnce
	row.VisibilityMs = e.VisibilityDuration.Milliseconds()
	row.ExistenceMs = e.ExistenceDuration.Milliseconds()
}

func (row *messageRow) expiration() sharedconfig.Expiration {
	return sharedconfig.NewExpiration(row.ReadOnce, time.Duration(row.VisibilityMs)*time.Millisecond, time.Duration(row.ExistenceMs)*time.Millisecond)
}

func keyColumns(row *messageRow, k ids.MessageKey) {
	sender := make([]byte, 16)
	copy(sender, k.Sender[:])
	thread := make([]byte, 16)
	copy(thread, k.ThreadID[:])
	seq := k.Seq
	row.SenderIdentity = &sender
	row.SenderThreadID = &thread
	row.SenderSeq = &seq
}

func (row *messageRow) key() (ids.MessageKey, error) {
	if row.SenderIdentity == nil || row.SenderThreadID == nil || row.SenderSeq == nil {
		return ids.MessageKey{}, fmt.Errorf("%w: message %x has no logical key", ErrInconsistentReference, row.ID)
	}
	return ids.MessageKey{
		Sender:   ids.IdentityFromBytes(*row.SenderIdentity),
		ThreadID: ids.IDFromBytes(*row.SenderThreadID),
		Seq:      *row.SenderSeq,
	}, nil
}

func newMessageRow(m Message) *messageRow {
	b := m.Base()
	id := b.ID
	discussionID := b.DiscussionID
	row := &messageRow{
		ID:           id[:],
		DiscussionID: discussionID[:],
		Variant:      int(m.variant()),
		SortIndex:    b.SortIndex,
		TimestampMs:  toMs(b.Timestamp),
		Body:         b.Body,
		IsWiped:      b.IsWiped,
		WipedBy:      optionalIdentityBytes(b.WipedBy),
		IsEdited:     b.IsEdited,
		Status:       int(MessageRead),
	}
	switch m := m.(type) {
	case *SentMessage:
		keyColumns(row, m.Key)
		expirationRow(row, m.Expiration)
		row.AttachmentCount = m.AttachmentCount
	case *ReceivedMessage:
		keyColumns(row, m.Key)
		expirationRow(row, m.Expiration)
		row.AttachmentCount = m.AttachmentCount
		row.Status = int(m.Status)
		row.ServerTimestampMs = optionalMs(&m.ServerTimestamp)
		row.Source = int(m.Source)
	case *SystemMessage:
		category := int(m.Category)
		seq := m.Seq
		row.Category = &category
		row.SystemSeq = &seq
		row.Status = int(m.Status)
		row.RelatedIdentity = optionalIdentityBytes(m.RelatedIdentity)
		row.NewMessagesCount = m.NewMessagesCount
	}
	return row
}

// message converts a row without its mentions and reactions.
func (row *messageRow) message() (Message, error) {
	base := MessageBase{
		ID:           ids.IDFromBytes(row.ID),
		DiscussionID: ids.IDFromBytes(row.DiscussionID),
		SortIndex:    row.SortIndex,
		Timestamp:    fromMs(row.TimestampMs),
		Body:         row.Body,
		IsWiped:      row.IsWiped,
		WipedBy:      optionalIdentity(row.WipedBy),
		IsEdited:     row.IsEdited,
	}
	switch variant(row.Variant) {
	case variantSent:
		key, err := row.key()
		if err != nil {
			return nil, err
		}
		return &SentMessage{MessageBase: base, Key: key, Expiration: row.expiration(), AttachmentCount: row.AttachmentCount}, nil
	case variantReceived:
		key, err := row.key()
		if err != nil {
			return nil, err
		}
		if row.ServerTimestampMs == nil {
			return nil, fmt.Errorf("%w: received message %x has no server timestamp", ErrInconsistentReference, row.ID)
		}
		return &ReceivedMessage{
			MessageBase:     base,
			Key:             key,
			Status:          MessageStatus(row.Status),
			ServerTimestamp: fromMs(*row.ServerTimestampMs),
			Expiration:      row.expiration(),
			AttachmentCount: row.AttachmentCount,
			Source:          Source(row.Source),
		}, nil
	case variantSystem:
		if row.Category == nil || row.SystemSeq == nil {
			return nil, fmt.Errorf("%w: system message %x has no category", ErrInconsistentReference, row.ID)
		}
		return &SystemMessage{
			MessageBase:      base,
			Category:         SystemCategory(*row.Category),
			Status:           MessageStatus(row.Status),
			Seq:              *row.SystemSeq,
			RelatedIdentity:  optionalIdentity(row.RelatedIdentity),
			NewMessagesCount: row.NewMessagesCount,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %d for message %x", ErrInconsistentReference, row.Variant, row.ID)
	}
}

// owned identities

func (db *database) ensureOwnedIdentity(identity ids.Identity) error {
	if _, err := db.Tx.Exec("INSERT INTO _owned_identities (identity, badge_count) VALUES ($1, 0) ON CONFLICT(identity) DO NOTHING", identity[:]); err != nil {
		return fmt.Errorf("discussion: error inserting owned identity: %w", err)
	}
	return nil
}

func (db *database) ownedIdentity(identity ids.Identity) (*ownedIdentityRow, error) {
	row := &ownedIdentityRow{}
	if err := db.Tx.Get(row, "SELECT * FROM _owned_identities WHERE identity = $1", identity[:]); err != nil {
		return nil, fmt.Errorf("discussion: error getting owned identity: %w", err)
	}
	return row, nil
}

func (db *database) addToBadge(identity ids.Identity, delta int) (int, error) {
	if _, err := db.Tx.Exec("UPDATE _owned_identities SET badge_count = MAX(0, badge_count + $1) WHERE identity = $2", delta, identity[:]); err != nil {
		return 0, fmt.Errorf("discussion: error updating badge: %w", err)
	}
	row, err := db.ownedIdentity(identity)
	if err != nil {
		return 0, err
	}
	return row.BadgeCount, nil
}

func (db *database) setBadge(identity ids.Identity, count int) error {
	if _, err := db.Tx.Exec("UPDATE _owned_identities SET badge_count = $1 WHERE identity = $2", count, identity[:]); err != nil {
		return fmt.Errorf("discussion: error setting badge: %w", err)
	}
	return nil
}

// discussions

func (db *database) insertDiscussion(d *Discussion) error {
	if _, err := db.Tx.NamedExec(`INSERT INTO _discussions (id, owned_identity, kind, contact_identity, group_uid, group_owner, status, title, sender_thread_id, shared_version, shared_read_once, shared_visibility_ms, shared_existence_ms, illustrative_message_id, number_of_new_messages, pinned_index, is_archived, mute_until_ms, last_outbound_seq, last_system_seq, last_message_ms, last_remote_deletion_ms, local_read_ms, remote_read_ms)
	VALUES (:id, :owned_identity, :kind, :contact_identity, :group_uid, :group_owner, :status, :title, :sender_thread_id, :shared_version, :shared_read_once, :shared_visibility_ms, :shared_existence_ms, :illustrative_message_id, :number_of_new_messages, :pinned_index, :is_archived, :mute_until_ms, :last_outbound_seq, :last_system_seq, :last_message_ms, :last_remote_deletion_ms, :local_read_ms, :remote_read_ms)`, newDiscussionRow(d)); err != nil {
		return fmt.Errorf("discussion: error inserting discussion: %w", err)
	}
	return nil
}

func (db *database) updateDiscussion(d *Discussion) error {
	if _, err := db.Tx.NamedExec(`UPDATE _discussions SET contact_identity = :contact_identity, group_uid = :group_uid, group_owner = :group_owner, status = :status, title = :title, shared_version = :shared_version, shared_read_once = :shared_read_once, shared_visibility_ms = :shared_visibility_ms, shared_existence_ms = :shared_existence_ms, illustrative_message_id = :illustrative_message_id, number_of_new_messages = :number_of_new_messages, pinned_index = :pinned_index, is_archived = :is_archived, mute_until_ms = :mute_until_ms, last_outbound_seq = :last_outbound_seq, last_system_seq = :last_system_seq, last_message_ms = :last_message_ms, last_remote_deletion_ms = :last_remote_deletion_ms, local_read_ms = :local_read_ms, remote_read_ms = :remote_read_ms WHERE id = :id`, newDiscussionRow(d)); err != nil {
		return fmt.Errorf("discussion: error updating discussion: %w", err)
	}
	return nil
}

func (db *database) discussionRows(query string, args ...interface{}) ([]*Discussion, error) {
	var rows []*discussionRow
	if err := db.Tx.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("discussion: error getting discussions: %w", err)
	}
	out := make([]*Discussion, 0, len(rows))
	for _, row := range rows {
		d, err := row.discussion()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (db *database) discussionOrNil(query string, args ...interface{}) (*Discussion, error) {
	row := &discussionRow{}
	if err := db.Tx.Get(row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("discussion: error getting discussion: %w", err)
	}
	return row.discussion()
}

func (db *database) discussion(id ids.ID) (*Discussion, error) {
	d, err := db.discussionOrNil("SELECT * FROM _discussions WHERE id = $1", id[:])
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: discussion %x", ErrNotFound, id[:])
	}
	return d, nil
}

func (db *database) discussionByKind(owned ids.Identity, kind Kind) (*Discussion, error) {
	switch k := kind.(type) {
	case OneToOne:
		if k.Contact == nil {
			return nil, nil
		}
		return db.discussionOrNil("SELECT * FROM _discussions WHERE owned_identity = $1 AND kind = $2 AND contact_identity = $3", owned[:], kindOneToOne, k.Contact[:])
	case GroupV1:
		if k.Group == nil {
			return nil, nil
		}
		return db.discussionOrNil("SELECT * FROM _discussions WHERE owned_identity = $1 AND kind = $2 AND group_uid = $3 AND group_owner = $4", owned[:], kindGroupV1, k.Group.UID[:], k.Group.Owner[:])
	case GroupV2:
		if k.Group == nil {
			return nil, nil
		}
		return db.discussionOrNil("SELECT * FROM _discussions WHERE owned_identity = $1 AND kind = $2 AND group_uid = $3", owned[:], kindGroupV2, k.Group[:])
	default:
		panic(fmt.Sprintf("discussion: unknown kind %T", k))
	}
}

func (db *database) discussions(owned ids.Identity) ([]*Discussion, error) {
	return db.discussionRows("SELECT * FROM _discussions WHERE owned_identity = $1 ORDER BY last_message_ms DESC", owned[:])
}

func (db *database) pinnedDiscussions(owned ids.Identity) ([]*Discussion, error) {
	return db.discussionRows("SELECT * FROM _discussions WHERE owned_identity = $1 AND pinned_index IS NOT NULL ORDER BY pinned_index ASC", owned[:])
}

func (db *database) discussionsByIDs(owned ids.Identity, discussionIDs []ids.ID) ([]*Discussion, error) {
	if len(discussionIDs) == 0 {
		return nil, nil
	}
	idBytes := make([][]byte, len(discussionIDs))
	for i := range discussionIDs {
		idBytes[i] = discussionIDs[i][:]
	}
	query, args, err := sqlx.In("SELECT * FROM _discussions WHERE owned_identity = ? AND id IN (?)", owned[:], idBytes)
	if err != nil {
		return nil, fmt.Errorf("discussion: error building discussions query: %w", err)
	}
	return db.discussionRows(db.Tx.Rebind(query), args...)
}

func (db *database) lockedDiscussionIDsWithoutMessages() ([]ids.ID, error) {
	var rows [][]byte
	if err := db.Tx.Select(&rows, "SELECT id FROM _discussions d WHERE status = $1 AND NOT EXISTS (SELECT 1 FROM _messages m WHERE m.discussion_id = d.id)", StatusLocked); err != nil {
		return nil, fmt.Errorf("discussion: error getting empty locked discussions: %w", err)
	}
	out := make([]ids.ID, len(rows))
	for i, r := range rows {
		out[i] = ids.IDFromBytes(r)
	}
	return out, nil
}

func (db *database) discussionIDs(owned ids.Identity) ([]ids.ID, error) {
	var rows [][]byte
	if err := db.Tx.Select(&rows, "SELECT id FROM _discussions WHERE owned_identity = $1", owned[:]); err != nil {
		return nil, fmt.Errorf("discussion: error getting discussion ids: %w", err)
	}
	out := make([]ids.ID, len(rows))
	for i, r := range rows {
		out[i] = ids.IDFromBytes(r)
	}
	return out, nil
}

func (db *database) deleteDiscussion(id ids.ID) error {
	if _, err := db.Tx.Exec("DELETE FROM _discussions WHERE id = $1", id[:]); err != nil {
		return fmt.Errorf("discussion: error deleting discussion: %w", err)
	}
	return nil
}

// messages

func (db *database) insertMessage(m Message) error {
	if _, err := db.Tx.NamedExec(`INSERT INTO _messages (id, discussion_id, variant, sender_identity, sender_thread_id, sender_seq, sort_index, timestamp_ms, server_timestamp_ms, status, body, is_wiped, wiped_by, is_edited, last_edit_ms, category, system_seq, related_identity, new_messages_count, read_once, visibility_ms, existence_ms, attachment_count, source)
	VALUES (:id, :discussion_id, :variant, :sender_identity, :sender_thread_id, :sender_seq, :sort_index, :timestamp_ms, :server_timestamp_ms, :status, :body, :is_wiped, :wiped_by, :is_edited, :last_edit_ms, :category, :system_seq, :related_identity, :new_messages_count, :read_once, :visibility_ms, :existence_ms, :attachment_count, :source)`, newMessageRow(m)); err != nil {
		return fmt.Errorf("discussion: error inserting message: %w", err)
	}
	return db.replaceMentions("_message_mentions", m.Base().ID, m.Base().Mentions)
}

// updateMessage writes the mutable columns of m. The last edit timestamp is only written when lastEdit is set.
func (db *database) updateMessage(m Message, lastEdit *time.Time) error {
	row := newMessageRow(m)
	row.LastEditMs = optionalMs(lastEdit)
	if _, err := db.Tx.NamedExec(`UPDATE _messages SET sort_index = :sort_index, status = :status, body = :body, is_wiped = :is_wiped, wiped_by = :wiped_by, is_edited = :is_edited, last_edit_ms = COALESCE(:last_edit_ms, last_edit_ms), new_messages_count = :new_messages_count, read_once = :read_once, visibility_ms = :visibility_ms, existence_ms = :existence_ms, attachment_count = :attachment_count, source = :source WHERE id = :id`, row); err != nil {
		return fmt.Errorf("discussion: error updating message: %w", err)
	}
	if err := db.replaceMentions("_message_mentions", m.Base().ID, m.Base().Mentions); err != nil {
		return err
	}
	if m.Base().IsWiped {
		return db.deleteReactions(m.Base().ID)
	}
	return nil
}

func (db *database) setMessageStatus(id ids.ID, status MessageStatus) error {
	if _, err := db.Tx.Exec("UPDATE _messages SET status = $1 WHERE id = $2", status, id[:]); err != nil {
		return fmt.Errorf("discussion: error setting message status: %w", err)
	}
	return nil
}

func (db *database) lastEdit(id ids.ID) (*time.Time, error) {
	var ms *int64
	if err := db.Tx.Get(&ms, "SELECT last_edit_ms FROM _messages WHERE id = $1", id[:]); err != nil {
		return nil, fmt.Errorf("discussion: error getting last edit: %w", err)
	}
	return optionalTime(ms), nil
}

func (db *database) hydrate(row *messageRow) (Message, error) {
	m, err := row.message()
	if err != nil {
		return nil, err
	}
	b := m.Base()
	if b.Mentions, err = db.mentions("_message_mentions", b.ID); err != nil {
		return nil, err
	}
	if b.Reactions, err = db.reactions(b.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (db *database) messageOrNil(query string, args ...interface{}) (Message, error) {
	row := &messageRow{}
	if err := db.Tx.Get(row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("discussion: error getting message: %w", err)
	}
	return db.hydrate(row)
}

func (db *database) messageRows(query string, args ...interface{}) ([]Message, error) {
	var rows []*messageRow
	if err := db.Tx.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("discussion: error getting messages: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		m, err := db.hydrate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (db *database) message(id ids.ID) (Message, error) {
	m, err := db.messageOrNil("SELECT * FROM _messages WHERE id = $1", id[:])
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: message %x", ErrNotFound, id[:])
	}
	return m, nil
}

func (db *database) messageByKey(discussionID ids.ID, k ids.MessageKey) (Message, error) {
	return db.messageOrNil("SELECT * FROM _messages WHERE discussion_id = $1 AND sender_identity = $2 AND sender_thread_id = $3 AND sender_seq = $4", discussionID[:], k.Sender[:], k.ThreadID[:], k.Seq)
}

func (db *database) messages(discussionID ids.ID) ([]Message, error) {
	return db.messageRows("SELECT * FROM _messages WHERE discussion_id = $1 ORDER BY sort_index ASC", discussionID[:])
}

func (db *database) messagesByIDs(discussionID ids.ID, messageIDs []ids.ID) ([]Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	idBytes := make([][]byte, len(messageIDs))
	for i := range messageIDs {
		idBytes[i] = messageIDs[i][:]
	}
	query, args, err := sqlx.In("SELECT * FROM _messages WHERE discussion_id = ? AND id IN (?) ORDER BY sort_index ASC", discussionID[:], idBytes)
	if err != nil {
		return nil, fmt.Errorf("discussion: error building messages query: %w", err)
	}
	return db.messageRows(db.Tx.Rebind(query), args...)
}

// newMessages returns the received and counting system messages which are still new, oldest first.
func (db *database) newMessages(discussionID ids.ID) ([]Message, error) {
	return db.messageRows(`SELECT * FROM _messages WHERE discussion_id = $1 AND status = $2 AND (variant = $3 OR (variant = $4 AND category IN `+countingCategories+`)) ORDER BY sort_index ASC`, discussionID[:], MessageNew, variantReceived, variantSystem)
}

func (db *database) countNewMessages(discussionID ids.ID) (int, error) {
	var count int
	if err := db.Tx.Get(&count, `SELECT count(*) FROM _messages WHERE discussion_id = $1 AND status = $2 AND (variant = $3 OR (variant = $4 AND category IN `+countingCategories+`))`, discussionID[:], MessageNew, variantReceived, variantSystem); err != nil {
		return 0, fmt.Errorf("discussion: error counting new messages: %w", err)
	}
	return count, nil
}

func (db *database) countMessages(discussionID ids.ID) (int, error) {
	var count int
	if err := db.Tx.Get(&count, "SELECT count(*) FROM _messages WHERE discussion_id = $1", discussionID[:]); err != nil {
		return 0, fmt.Errorf("discussion: error counting messages: %w", err)
	}
	return count, nil
}

// newMessagesUpTo returns the new received and system messages with a timestamp at or before t.
func (db *database) newMessagesUpTo(discussionID ids.ID, t time.Time) ([]Message, error) {
	return db.messageRows(`SELECT * FROM _messages WHERE discussion_id = $1 AND status = $2 AND variant IN ($3, $4) AND COALESCE(server_timestamp_ms, timestamp_ms) <= $5 ORDER BY sort_index ASC`, discussionID[:], MessageNew, variantReceived, variantSystem, toMs(t))
}

func (db *database) allNewMessages(discussionID ids.ID) ([]Message, error) {
	return db.messageRows(`SELECT * FROM _messages WHERE discussion_id = $1 AND status = $2 AND variant IN ($3, $4) ORDER BY sort_index ASC`, discussionID[:], MessageNew, variantReceived, variantSystem)
}

func (db *database) messageBefore(discussionID ids.ID, sortIndex float64) (Message, error) {
	return db.messageOrNil("SELECT * FROM _messages WHERE discussion_id = $1 AND sort_index < $2 ORDER BY sort_index DESC LIMIT 1", discussionID[:], sortIndex)
}

func (db *database) systemMessagesWithCategory(discussionID ids.ID, c SystemCategory) ([]Message, error) {
	return db.messageRows("SELECT * FROM _messages WHERE discussion_id = $1 AND variant = $2 AND category = $3 ORDER BY sort_index ASC", discussionID[:], variantSystem, c)
}

func (db *database) bestIllustrativeMessage(discussionID ids.ID) (Message, error) {
	return db.messageOrNil(`SELECT * FROM _messages WHERE discussion_id = $1 AND (variant IN ($2, $3) OR (variant = $4 AND category IN `+illustrativeCategories+`)) ORDER BY sort_index DESC LIMIT 1`, discussionID[:], variantSent, variantReceived, variantSystem)
}

func (db *database) sortIndex(id ids.ID) (float64, bool, error) {
	var sortIndex float64
	if err := db.Tx.Get(&sortIndex, "SELECT sort_index FROM _messages WHERE id = $1", id[:]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("discussion: error getting sort index: %w", err)
	}
	return sortIndex, true, nil
}

func (db *database) deleteMessage(id ids.ID) error {
	if _, err := db.Tx.Exec("DELETE FROM _messages WHERE id = $1", id[:]); err != nil {
		return fmt.Errorf("discussion: error deleting message: %w", err)
	}
	return nil
}

func (db *database) deleteAllMessages(discussionID ids.ID) error {
	if _, err := db.Tx.Exec("DELETE FROM _messages WHERE discussion_id = $1", discussionID[:]); err != nil {
		return fmt.Errorf("discussion: error deleting messages: %w", err)
	}
	return nil
}

// mentions are stored in _message_mentions and _deferred_request_mentions, both keyed by owner_id.

func (db *database) mentions(table string, ownerID ids.ID) ([]Mention, error) {
	var rows []*mentionRow
	if err := db.Tx.Select(&rows, fmt.Sprintf("SELECT * FROM %s WHERE owner_id = $1 ORDER BY range_start ASC", table), ownerID[:]); err != nil {
		return nil, fmt.Errorf("discussion: error getting mentions: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]Mention, len(rows))
	for i, r := range rows {
		out[i] = Mention{Identity: ids.IdentityFromBytes(r.Identity), Start: r.RangeStart, End: r.RangeEnd}
	}
	return out, nil
}

func (db *database) replaceMentions(table string, ownerID ids.ID, mentions []Mention) error {
	if _, err := db.Tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE owner_id = $1", table), ownerID[:]); err != nil {
		return fmt.Errorf("discussion: error deleting mentions: %w", err)
	}
	for i := range mentions {
		m := mentions[i]
		row := &mentionRow{OwnerID: ownerID[:], Identity: m.Identity[:], RangeStart: m.Start, RangeEnd: m.End}
		if _, err := db.Tx.NamedExec(fmt.Sprintf("INSERT INTO %s (owner_id, mentioned_identity, range_start, range_end) VALUES (:owner_id, :mentioned_identity, :range_start, :range_end)", table), row); err != nil {
			return fmt.Errorf("discussion: error inserting mention: %w", err)
		}
	}
	return nil
}

// reactions

func (db *database) reactions(messageID ids.ID) ([]Reaction, error) {
	var rows []*reactionRow
	if err := db.Tx.Select(&rows, "SELECT * FROM _message_reactions WHERE message_id = $1 ORDER BY timestamp_ms ASC", messageID[:]); err != nil {
		return nil, fmt.Errorf("discussion: error getting reactions: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]Reaction, len(rows))
	for i, r := range rows {
		out[i] = Reaction{Reactor: ids.IdentityFromBytes(r.Reactor), Emoji: r.Emoji, Timestamp: fromMs(r.TimestampMs)}
	}
	return out, nil
}

func (db *database) upsertReaction(messageID ids.ID, r Reaction) error {
	row := &reactionRow{MessageID: messageID[:], Reactor: r.Reactor[:], Emoji: r.Emoji, TimestampMs: toMs(r.Timestamp)}
	if _, err := db.Tx.NamedExec("INSERT INTO _message_reactions (message_id, reactor, emoji, timestamp_ms) VALUES (:message_id, :reactor, :emoji, :timestamp_ms) ON CONFLICT(message_id, reactor) DO UPDATE SET emoji = :emoji, timestamp_ms = :timestamp_ms", row); err != nil {
		return fmt.Errorf("discussion: error upserting reaction: %w", err)
	}
	return nil
}

func (db *database) deleteReaction(messageID ids.ID, reactor ids.Identity) error {
	if _, err := db.Tx.Exec("DELETE FROM _message_reactions WHERE message_id = $1 AND reactor = $2", messageID[:], reactor[:]); err != nil {
		return fmt.Errorf("discussion: error deleting reaction: %w", err)
	}
	return nil
}

func (db *database) deleteReactions(messageID ids.ID) error {
	if _, err := db.Tx.Exec("DELETE FROM _message_reactions WHERE message_id = $1", messageID[:]); err != nil {
		return fmt.Errorf("discussion: error deleting reactions: %w", err)
	}
	return nil
}

// deferred requests

func (db *database) insertDeferred(r *DeferredRequest) error {
	row := newDeferredRow(r)
	if _, err := db.Tx.NamedExec(`INSERT INTO _deferred_requests (id, discussion_id, kind, requester, sender_identity, sender_thread_id, sender_seq, server_timestamp_ms, body, emoji, override_existing)
	VALUES (:id, :discussion_id, :kind, :requester, :sender_identity, :sender_thread_id, :sender_seq, :server_timestamp_ms, :body, :emoji, :override_existing)`, row); err != nil {
		return fmt.Errorf("discussion: error inserting deferred request: %w", err)
	}
	return db.replaceMentions("_deferred_request_mentions", r.ID, r.Mentions)
}

func (db *database) deferredRequests(query string, args ...interface{}) ([]*DeferredRequest, error) {
	var rows []*deferredRow
	if err := db.Tx.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("discussion: error getting deferred requests: %w", err)
	}
	out := make([]*DeferredRequest, 0, len(rows))
	for _, row := range rows {
		r := row.request()
		mentions, err := db.mentions("_deferred_request_mentions", r.ID)
		if err != nil {
			return nil, err
		}
		r.Mentions = mentions
		out = append(out, r)
	}
	return out, nil
}

// deferredFor returns the requests waiting on k, oldest server timestamp first.
func (db *database) deferredFor(discussionID ids.ID, k ids.MessageKey) ([]*DeferredRequest, error) {
	return db.deferredRequests("SELECT * FROM _deferred_requests WHERE discussion_id = $1 AND sender_identity = $2 AND sender_thread_id = $3 AND sender_seq = $4 ORDER BY server_timestamp_ms ASC, rowid ASC", discussionID[:], k.Sender[:], k.ThreadID[:], k.Seq)
}

func (db *database) deferredForDiscussion(discussionID ids.ID) ([]*DeferredRequest, error) {
	return db.deferredRequests("SELECT * FROM _deferred_requests WHERE discussion_id = $1 ORDER BY server_timestamp_ms ASC, rowid ASC", discussionID[:])
}

func (db *database) countDeferredOfKinds(discussionID ids.ID, k ids.MessageKey, kinds ...DeferredKind) (int, error) {
	query, args, err := sqlx.In("SELECT count(*) FROM _deferred_requests WHERE discussion_id = ? AND sender_identity = ? AND sender_thread_id = ? AND sender_seq = ? AND kind IN (?)", discussionID[:], k.Sender[:], k.ThreadID[:], k.Seq, kinds)
	if err != nil {
		return 0, fmt.Errorf("discussion: error building deferred query: %w", err)
	}
	var count int
	if err := db.Tx.Get(&count, db.Tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("discussion: error counting deferred requests: %w", err)
	}
	return count, nil
}

func (db *database) deleteDeferredFor(discussionID ids.ID, k ids.MessageKey) error {
	if _, err := db.Tx.Exec("DELETE FROM _deferred_requests WHERE discussion_id = $1 AND sender_identity = $2 AND sender_thread_id = $3 AND sender_seq = $4", discussionID[:], k.Sender[:], k.ThreadID[:], k.Seq); err != nil {
		return fmt.Errorf("discussion: error deleting deferred requests: %w", err)
	}
	return nil
}

func (db *database) deleteDeferredOlderThan(t time.Time) (int64, error) {
	res, err := db.Tx.Exec("DELETE FROM _deferred_requests WHERE server_timestamp_ms < $1", toMs(t))
	if err != nil {
		return 0, fmt.Errorf("discussion: error purging deferred requests: %w", err)
	}
	return res.RowsAffected()
}

// sender sequence numbers

func (db *database) recordSenderSequence(discussionID ids.ID, k ids.MessageKey) error {
	row := &senderSequenceRow{DiscussionID: discussionID[:], SenderIdentity: k.Sender[:], SenderThreadID: k.ThreadID[:], LatestSeq: k.Seq}
	if _, err := db.Tx.NamedExec("INSERT INTO _sender_sequence_numbers (discussion_id, sender_identity, sender_thread_id, latest_seq) VALUES (:discussion_id, :sender_identity, :sender_thread_id, :latest_seq) ON CONFLICT(discussion_id, sender_identity, sender_thread_id) DO UPDATE SET latest_seq = MAX(latest_seq, :latest_seq)", row); err != nil {
		return fmt.Errorf("discussion: error recording sender sequence number: %w", err)
	}
	return nil
}

func (db *database) latestSenderSequence(discussionID ids.ID, sender ids.Identity, threadID ids.ID) (int64, bool, error) {
	var seq int64
	if err := db.Tx.Get(&seq, "SELECT latest_seq FROM _sender_sequence_numbers WHERE discussion_id = $1 AND sender_identity = $2 AND sender_thread_id = $3", discussionID[:], sender[:], threadID[:]); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("discussion: error getting sender sequence number: %w", err)
	}
	return seq, true, nil
}

func (db *database) deleteSenderSequences(discussionID ids.ID) error {
	if _, err := db.Tx.Exec("DELETE FROM _sender_sequence_numbers WHERE discussion_id = $1", discussionID[:]); err != nil {
		return fmt.Errorf("discussion: error deleting sender sequence numbers: %w", err)
	}
	return nil
}
