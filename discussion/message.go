package discussion

import (
	"fmt"
	"strings"
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/sharedconfig"
)

type variant int

const (
	variantSent variant = iota
	variantReceived
	variantSystem
)

type MessageStatus int

const (
	MessageNew MessageStatus = iota
	MessageUnread
	MessageRead
)

type SystemCategory int

const (
	ContactJoinedGroup SystemCategory = iota
	ContactLeftGroup
	NumberOfNewMessages
	DiscussionIsEndToEndEncrypted
	ContactWasDeleted
	CallLogItem
	UpdatedDiscussionSharedSettings
	DiscussionWasRemotelyWiped
	ContactRevokedByIdentityProvider
	NotPartOfTheGroupAnymore
	RejoinedGroup
	ContactIsOneToOneAgain
	MembersOfGroupV2WereUpdated
	OwnedIdentityIsPartOfGroupV2Admins
	OwnedIdentityIsNoLongerPartOfGroupV2Admins
	OwnedIdentityDidCaptureSensitiveMessages
	ContactIdentityDidCaptureSensitiveMessages
	ContactWasIntroducedToAnotherContact
)

var systemCategories = []SystemCategory{
	ContactJoinedGroup,
	ContactLeftGroup,
	NumberOfNewMessages,
	DiscussionIsEndToEndEncrypted,
	ContactWasDeleted,
	CallLogItem,
	UpdatedDiscussionSharedSettings,
	DiscussionWasRemotelyWiped,
	ContactRevokedByIdentityProvider,
	NotPartOfTheGroupAnymore,
	RejoinedGroup,
	ContactIsOneToOneAgain,
	MembersOfGroupV2WereUpdated,
	OwnedIdentityIsPartOfGroupV2Admins,
	OwnedIdentityIsNoLongerPartOfGroupV2Admins,
	OwnedIdentityDidCaptureSensitiveMessages,
	ContactIdentityDidCaptureSensitiveMessages,
	ContactWasIntroducedToAnotherContact,
}

func (c SystemCategory) RelevantForIllustration() bool {
	switch c {
	case NumberOfNewMessages, DiscussionIsEndToEndEncrypted:
		return false
	default:
		return true
	}
}

func (c SystemCategory) RelevantForCounting() bool {
	switch c {
	case NumberOfNewMessages, DiscussionIsEndToEndEncrypted, CallLogItem, ContactWasIntroducedToAnotherContact:
		return false
	default:
		return true
	}
}

// Deletable is false for the categories which structure the discussion rather than report an event.
func (c SystemCategory) Deletable() bool {
	return c != NumberOfNewMessages && c != DiscussionIsEndToEndEncrypted
}

func (c SystemCategory) String() string {
	return fmt.Sprintf("system(%d)", int(c))
}

// categoriesSQL renders the categories matching f as a SQL list, for example (0,1,4).
func categoriesSQL(f func(SystemCategory) bool) string {
	parts := make([]string, 0, len(systemCategories))
	for _, c := range systemCategories {
		if f(c) {
			parts = append(parts, fmt.Sprintf("%d", int(c)))
		}
	}
	return "(" + strings.Join(parts, ",") + ")"
}

var (
	countingCategories     = categoriesSQL(SystemCategory.RelevantForCounting)
	illustrativeCategories = categoriesSQL(SystemCategory.RelevantForIllustration)
)

// Mention marks a byte range of a body as referring to an identity.
type Mention struct {
	Identity ids.Identity
	Start    int
	End      int
}

type Reaction struct {
	Reactor   ids.Identity
	Emoji     string
	Timestamp time.Time
}

type MessageBase struct {
	ID           ids.ID
	DiscussionID ids.ID
	SortIndex    float64
	Timestamp    time.Time
	Body         string
	Mentions     []Mention
	Reactions    []Reaction
	IsWiped      bool
	WipedBy      *ids.Identity
	IsEdited     bool
}

// Message is one of *SentMessage, *ReceivedMessage or *SystemMessage.
type Message interface {
	Base() *MessageBase
	variant() variant
}

type SentMessage struct {
	MessageBase
	Key             ids.MessageKey
	Expiration      sharedconfig.Expiration
	AttachmentCount int
}

type ReceivedMessage struct {
	MessageBase
	Key             ids.MessageKey
	Status          MessageStatus
	ServerTimestamp time.Time
	Expiration      sharedconfig.Expiration
	AttachmentCount int
	Source          Source
}

type SystemMessage struct {
	MessageBase
	Category        SystemCategory
	Status          MessageStatus
	Seq             int64
	RelatedIdentity *ids.Identity
	// Only set on NumberOfNewMessages markers.
	NewMessagesCount int
}

func (m *SentMessage) Base() *MessageBase     { return &m.MessageBase }
func (m *ReceivedMessage) Base() *MessageBase { return &m.MessageBase }
func (m *SystemMessage) Base() *MessageBase   { return &m.MessageBase }

func (m *SentMessage) variant() variant     { return variantSent }
func (m *ReceivedMessage) variant() variant { return variantReceived }
func (m *SystemMessage) variant() variant   { return variantSystem }

func (m *ReceivedMessage) IsNew() bool { return m.Status == MessageNew }
func (m *SystemMessage) IsNew() bool   { return m.Status == MessageNew }

// notNewStatus is the status a received message takes once seen. Messages whose expiration starts on reading stay unread.
func (m *ReceivedMessage) notNewStatus() MessageStatus {
	if m.Expiration.RequiresUserAction() {
		return MessageUnread
	}
	return MessageRead
}

// eligibleForIllustration reports whether m may become the preview message of its discussion.
func eligibleForIllustration(m Message) bool {
	switch m := m.(type) {
	case *SentMessage, *ReceivedMessage:
		return true
	case *SystemMessage:
		return m.Category.RelevantForIllustration()
	default:
		panic(fmt.Sprintf("discussion: unknown message %T", m))
	}
}

// wipeContent clears everything a user wrote in the message.
func (b *MessageBase) wipeContent(by ids.Identity) {
	b.Body = ""
	b.Mentions = nil
	b.Reactions = nil
	b.IsWiped = true
	wiper := by
	b.WipedBy = &wiper
}

func sortIndexOf(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
