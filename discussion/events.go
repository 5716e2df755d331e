package discussion

import (
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/sharedconfig"
)

// Events are delivered on the channel returned by Manager.Updates once the transaction producing them commits.

type StatusChanged struct {
	DiscussionID ids.ID
	From         Status
	To           Status
}

type ArchivedChanged struct {
	DiscussionID ids.ID
	IsArchived   bool
}

type DiscussionDeleted struct {
	DiscussionID  ids.ID
	OwnedIdentity ids.Identity
}

type DiscussionRead struct {
	DiscussionID ids.ID
	At           time.Time
}

type BadgeChanged struct {
	OwnedIdentity ids.Identity
	Delta         int
	Total         int
}

type PinnedChanged struct {
	OwnedIdentity ids.Identity
	Pinned        []ids.ID
}

type SharedConfigurationChanged struct {
	DiscussionID  ids.ID
	Configuration sharedconfig.Configuration
}

type MessageInserted struct {
	DiscussionID ids.ID
	MessageID    ids.ID
}

type MessageEdited struct {
	DiscussionID ids.ID
	MessageID    ids.ID
}

type MessageWiped struct {
	DiscussionID ids.ID
	MessageID    ids.ID
	By           ids.Identity
}

type MessageDeleted struct {
	DiscussionID ids.ID
	MessageID    ids.ID
}

type AllMessagesDeleted struct {
	DiscussionID ids.ID
}

type ReactionsChanged struct {
	DiscussionID ids.ID
	MessageID    ids.ID
}
