// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

package notify

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

// AMQP routing for code delivery events. A downstream consumer (mail or
// chat relay) owns actual delivery to the identity.
const (
	codeExchange   = "ward.auth"
	codeRoutingKey = "auth.code.issued"
)

// codeEvent is the published payload.
type codeEvent struct {
	Identity string    `json:"identity"`
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

// AMQPSender publishes one-time codes to a topic exchange for delivery by
// an external consumer.
type AMQPSender struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// sanitizeAMQPURL normalizes a configured broker URL and rejects
// non-AMQP schemes.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", oops.Code("NOTIFY_BAD_URL").Wrap(err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", oops.Code("NOTIFY_BAD_URL").
			With("scheme", u.Scheme).
			Errorf("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPSender connects to the broker and declares the topic exchange.
func NewAMQPSender(amqpURL string) (*AMQPSender, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, oops.Code("NOTIFY_CONNECT_FAILED").Wrap(err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("NOTIFY_CHANNEL_FAILED").Wrap(err)
	}

	if err := channel.ExchangeDeclare(
		codeExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = channel.Close() //nolint:errcheck // init error takes precedence
		_ = conn.Close()    //nolint:errcheck // init error takes precedence
		return nil, oops.Code("NOTIFY_EXCHANGE_FAILED").Wrap(err)
	}

	return &AMQPSender{conn: conn, channel: channel}, nil
}

// SendCode publishes the code event. The engine treats failure as
// log-and-continue.
func (s *AMQPSender) SendCode(ctx context.Context, identityKey, code string) error {
	body, err := json.Marshal(codeEvent{
		Identity: identityKey,
		Code:     code,
		IssuedAt: time.Now(),
	})
	if err != nil {
		return oops.Code("NOTIFY_MARSHAL_FAILED").Wrap(err)
	}

	err = s.channel.PublishWithContext(ctx,
		codeExchange,
		codeRoutingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return oops.Code("NOTIFY_PUBLISH_FAILED").
			With("identity", identityKey).
			Wrap(err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSender) Close() error {
	chErr := s.channel.Close()
	connErr := s.conn.Close()
	if chErr != nil {
		return oops.Code("NOTIFY_CLOSE_FAILED").With("component", "channel").Wrap(chErr)
	}
	if connErr != nil {
		return oops.Code("NOTIFY_CLOSE_FAILED").With("component", "connection").Wrap(connErr)
	}
	return nil
}

// Compile-time interface check.
var _ CodeSender = (*AMQPSender)(nil)
