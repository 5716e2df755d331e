package discussion

import (
	"fmt"
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/sharedconfig"
)

type Status int

const (
	StatusPreDiscussion Status = iota
	StatusActive
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusPreDiscussion:
		return "pre-discussion"
	case StatusActive:
		return "active"
	case StatusLocked:
		return "locked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type kindCode int

const (
	kindOneToOne kindCode = iota
	kindGroupV1
	kindGroupV2
)

// Kind is one of OneToOne, GroupV1 or GroupV2. The reference inside may be nil once the contact or group is gone.
type Kind interface {
	code() kindCode
}

type OneToOne struct {
	Contact *ids.Identity
}

type GroupV1 struct {
	Group *ids.GroupV1Ref
}

type GroupV2 struct {
	Group *ids.ID
}

func (OneToOne) code() kindCode { return kindOneToOne }
func (GroupV1) code() kindCode  { return kindGroupV1 }
func (GroupV2) code() kindCode  { return kindGroupV2 }

func hasReference(k Kind) bool {
	switch k := k.(type) {
	case OneToOne:
		return k.Contact != nil
	case GroupV1:
		return k.Group != nil
	case GroupV2:
		return k.Group != nil
	default:
		panic(fmt.Sprintf("discussion: unknown kind %T", k))
	}
}

func withoutReference(k Kind) Kind {
	switch k.(type) {
	case OneToOne:
		return OneToOne{}
	case GroupV1:
		return GroupV1{}
	case GroupV2:
		return GroupV2{}
	default:
		panic(fmt.Sprintf("discussion: unknown kind %T", k))
	}
}

type Discussion struct {
	ID                         ids.ID
	OwnedIdentity              ids.Identity
	Kind                       Kind
	Status                     Status
	Title                      string
	SenderThreadID             ids.ID
	Shared                     sharedconfig.Configuration
	IllustrativeMessageID      *ids.ID
	NumberOfNewMessages        int
	PinnedIndex                *int
	IsArchived                 bool
	MuteUntil                  *time.Time
	LastOutboundSequenceNumber int64
	LastSystemSequenceNumber   int64
	TimestampOfLastMessage     time.Time

	ServerTimestampOfLastRemoteDeletion                   *time.Time
	LocalDateWhenDiscussionRead                           *time.Time
	ServerTimestampWhenDiscussionReadOnAnotherOwnedDevice *time.Time
}

func (d *Discussion) isMuted(now time.Time) bool {
	return d.MuteUntil != nil && d.MuteUntil.After(now)
}

// raise sets *field to t if t is strictly after the current value, and reports whether it did.
func raise(field **time.Time, t time.Time) bool {
	if *field != nil && !t.After(**field) {
		return false
	}
	v := t
	*field = &v
	return true
}

func (d *Discussion) raiseRemoteDeletion(t time.Time) bool {
	return raise(&d.ServerTimestampOfLastRemoteDeletion, t)
}

func (d *Discussion) raiseLocalRead(t time.Time) bool {
	return raise(&d.LocalDateWhenDiscussionRead, t)
}

func (d *Discussion) raiseRemoteRead(t time.Time) bool {
	return raise(&d.ServerTimestampWhenDiscussionReadOnAnotherOwnedDevice, t)
}

// predatesRemoteDeletion is true for an upload timestamp at or before the last applied delete-all.
func (d *Discussion) predatesRemoteDeletion(uploaded time.Time) bool {
	return d.ServerTimestampOfLastRemoteDeletion != nil && !uploaded.After(*d.ServerTimestampOfLastRemoteDeletion)
}

func (d *Discussion) nextSystemSequenceNumber() int64 {
	d.LastSystemSequenceNumber++
	return d.LastSystemSequenceNumber
}

func (d *Discussion) nextOutboundSequenceNumber() int64 {
	d.LastOutboundSequenceNumber++
	return d.LastOutboundSequenceNumber
}

func (d *Discussion) touch(t time.Time) {
	if t.After(d.TimestampOfLastMessage) {
		d.TimestampOfLastMessage = t
	}
}

// GroupV2Permissions are the rights a group v2 member holds.
type GroupV2Permissions struct {
	RemoteDeleteAnything bool
	ChangeSettings       bool
}

// Directory answers questions about identities that live outside of discussions.
type Directory interface {
	// HasAnotherReachableOwnedDevice reports whether the owned identity has a device other than this one.
	HasAnotherReachableOwnedDevice(owned ids.Identity) (bool, error)
	// GroupV2Permissions returns nil when member is not part of the group.
	GroupV2Permissions(owned ids.Identity, group ids.ID, member ids.Identity) (*GroupV2Permissions, error)
}
