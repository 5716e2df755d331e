package discussion

import (
	"time"

	"github.com/meow-io/go-discussions/ids"
	"github.com/meow-io/go-discussions/sharedconfig"
)

// Source is the delivery path a message arrived through.
type Source int

const (
	SourceEngine Source = iota
	SourceUserNotification
)

// NewMessage is a message from a contact, or from another device of the owned identity when Key.Sender is the owned identity.
type NewMessage struct {
	DiscussionID      ids.ID
	Key               ids.MessageKey
	Body              string
	Mentions          []Mention
	Expiration        sharedconfig.Expiration
	AttachmentCount   int
	ServerTimestamp   time.Time
	DownloadTimestamp *time.Time
	Source            Source
}

type WipeMessages struct {
	DiscussionID    ids.ID
	Targets         []ids.MessageKey
	Requester       ids.Identity
	ServerTimestamp time.Time
}

// DeleteMessages comes from another device of the owned identity.
type DeleteMessages struct {
	DiscussionID    ids.ID
	Targets         []ids.MessageKey
	Requester       ids.Identity
	ServerTimestamp time.Time
}

type DeleteAllMessages struct {
	DiscussionID ids.ID
	Requester    ids.Identity
	// Upload timestamp of the request. When set it becomes the remote deletion watermark.
	ServerTimestamp *time.Time
}

type EditMessage struct {
	DiscussionID    ids.ID
	Target          ids.MessageKey
	Body            string
	Mentions        []Mention
	Requester       ids.Identity
	ServerTimestamp time.Time
}

// SetOrUpdateReaction removes the requester's reaction when Emoji is nil.
type SetOrUpdateReaction struct {
	DiscussionID     ids.ID
	Target           ids.MessageKey
	Emoji            *string
	Requester        ids.Identity
	ServerTimestamp  time.Time
	OverrideExisting bool
}

type SharedConfigurationUpdate struct {
	DiscussionID    ids.ID
	Configuration   sharedconfig.Configuration
	Requester       ids.Identity
	ServerTimestamp time.Time
}

type SharedConfigurationResult struct {
	Updated  bool
	SendBack bool
}

type QuerySharedSettings struct {
	DiscussionID    ids.ID
	KnownVersion    *int64
	KnownExpiration *sharedconfig.Expiration
}

type ScreenCaptureNotice struct {
	DiscussionID    ids.ID
	Requester       ids.Identity
	ServerTimestamp time.Time
}

type DeletionScope int

const (
	ThisDeviceOnly DeletionScope = iota
	AllOwnedDevices
	AllOwnedDevicesAndContactDevices
)

// TargetResult splits the targets of a multi-message request by outcome.
type TargetResult struct {
	Applied  []ids.MessageKey
	Deferred []ids.MessageKey
	Ignored  []ids.MessageKey
}
