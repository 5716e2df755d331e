// This package mirrors discussion events onto NATS subjects so that other processes on the device can follow
// what the manager commits.
package natsevents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meow-io/go-discussions/config"
	"github.com/meow-io/go-discussions/discussion"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var ErrUnknownEvent = errors.New("natsevents: unknown event")

type Envelope struct {
	Type  string          `json:"type"`
	At    time.Time       `json:"at"`
	Event json.RawMessage `json:"event"`
}

type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    *zap.SugaredLogger
}

// Connect dials the configured NATS server. Reconnection is retried forever.
func Connect(c *config.Config) (*Publisher, error) {
	if c.NatsURL == "" {
		return nil, errors.New("natsevents: no nats url configured")
	}
	log := c.Logger("transport/natsevents")
	opts := []nats.Option{
		nats.Name("go-discussions"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.NatsReconnectWait),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("disconnected: %#v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("reconnected to %s", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(c.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsevents: error connecting to %s: %w", c.NatsURL, err)
	}
	log.Debugf("connected to %s", conn.ConnectedUrl())
	return &Publisher{conn: conn, prefix: c.NatsSubjectPrefix, log: log}, nil
}

func (p *Publisher) Publish(e interface{}, at time.Time) error {
	subject, err := Subject(p.prefix, e)
	if err != nil {
		return err
	}
	body, err := Encode(e, at)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("natsevents: error publishing on %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending publications before closing the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Name is the subject token of a discussion event.
func Name(e interface{}) (string, error) {
	switch e.(type) {
	case *discussion.StatusChanged:
		return "status_changed", nil
	case *discussion.ArchivedChanged:
		return "archived_changed", nil
	case *discussion.DiscussionDeleted:
		return "discussion_deleted", nil
	case *discussion.DiscussionRead:
		return "discussion_read", nil
	case *discussion.BadgeChanged:
		return "badge_changed", nil
	case *discussion.PinnedChanged:
		return "pinned_changed", nil
	case *discussion.SharedConfigurationChanged:
		return "shared_configuration_changed", nil
	case *discussion.MessageInserted:
		return "message_inserted", nil
	case *discussion.MessageEdited:
		return "message_edited", nil
	case *discussion.MessageWiped:
		return "message_wiped", nil
	case *discussion.MessageDeleted:
		return "message_deleted", nil
	case *discussion.AllMessagesDeleted:
		return "all_messages_deleted", nil
	case *discussion.ReactionsChanged:
		return "reactions_changed", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
}

func Subject(prefix string, e interface{}) (string, error) {
	name, err := Name(e)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return name, nil
	}
	return strings.TrimSuffix(prefix, ".") + "." + name, nil
}

func Encode(e interface{}, at time.Time) ([]byte, error) {
	name, err := Name(e)
	if err != nil {
		return nil, err
	}
	event, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("natsevents: error encoding %s: %w", name, err)
	}
	return json.Marshal(&Envelope{Type: name, At: at.UTC(), Event: event})
}
