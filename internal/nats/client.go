package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/types"
)

const (
	StreamName = "MODES"

	SubjectUpdates = "modes.updates"
	SubjectResets  = "modes.resets"
	SubjectRaw     = "modes.raw"
)

var ErrNilHandler = errors.New("handler is nil")

// Client publishes and consumes feed output over JetStream
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger logrus.FieldLogger
}

// New creates a new NATS client and makes sure the stream exists
func New(url string, logger logrus.FieldLogger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	nc, err := nats.Connect(url,
		nats.Name("modes-feed"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectUpdates, SubjectResets, SubjectRaw},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn:   nc,
		js:     js,
		logger: logger,
	}, nil
}

func (c *Client) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishUpdate publishes an aircraft update
func (c *Client) PublishUpdate(u *types.AircraftUpdate) error {
	return c.publish(SubjectUpdates, u)
}

// PublishReset publishes a position reset
func (c *Client) PublishReset(r types.PositionReset) error {
	return c.publish(SubjectResets, r)
}

// PublishRawFrame publishes a frame as received
func (c *Client) PublishRawFrame(f types.RawFrame) error {
	return c.publish(SubjectRaw, f)
}

// subscribe decodes every message on subject into a new T
func subscribe[T any](c *Client, subject string, handler func(*T)) error {
	if handler == nil {
		return ErrNilHandler
	}
	_, err := c.js.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			c.logger.WithError(err).WithField("subject", subject).Warn("Error unmarshaling message")
			return
		}
		handler(&v)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}

// SubscribeUpdates delivers aircraft updates to handler
func (c *Client) SubscribeUpdates(handler func(*types.AircraftUpdate)) error {
	return subscribe(c, SubjectUpdates, handler)
}

// SubscribeResets delivers position resets to handler
func (c *Client) SubscribeResets(handler func(*types.PositionReset)) error {
	return subscribe(c, SubjectResets, handler)
}

// SubscribeRawFrames delivers raw frames to handler
func (c *Client) SubscribeRawFrames(handler func(*types.RawFrame)) error {
	return subscribe(c, SubjectRaw, handler)
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
