// Package events publishes committed money movements to NATS. Publishing
// is best-effort housekeeping: a payment that committed is never failed or
// retried because its event could not be delivered.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SubjectPrefix is the NATS subject prefix for payment events. The event
// kind is appended, e.g. "bank.payments.top_up".
const SubjectPrefix = "bank.payments."

// PaymentEvent is the JSON structure emitted for each committed money
// movement. Amounts travel as strings to keep their two-decimal scale.
type PaymentEvent struct {
	Kind       string    `json:"kind"`
	Amount     string    `json:"amount"`
	PayerID    int64     `json:"payer_id"`
	ReceiverID int64     `json:"receiver_id"`
	At         time.Time `json:"at"`
}

// Subject returns the NATS subject for this event.
func (ev PaymentEvent) Subject() string {
	return SubjectPrefix + ev.Kind
}

// Publisher emits payment events over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewPublisher creates a publisher on an established NATS connection.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: log.With().Str("component", "events").Logger(),
	}
}

// PublishPayment emits one payment event. Failures are logged and
// swallowed.
func (p *Publisher) PublishPayment(ctx context.Context, ev PaymentEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("kind", ev.Kind).Msg("failed to marshal payment event")
		return
	}
	if err := p.nc.Publish(ev.Subject(), data); err != nil {
		p.logger.Warn().Err(err).Str("subject", ev.Subject()).Msg("failed to publish payment event")
	}
}

// ConnectNATS connects to NATS with retry and reconnect handling.
func ConnectNATS(urls string, credsFile, creds string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("bankcore"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	if creds != "" {
		tmpFile, err := os.CreateTemp("", "nats-creds-*.creds")
		if err != nil {
			return nil, fmt.Errorf("create temp credentials file: %w", err)
		}
		if _, err := tmpFile.WriteString(creds); err != nil {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("write credentials: %w", err)
		}
		tmpFile.Close()
		opts = append(opts, nats.UserCredentials(tmpFile.Name()))
	} else if credsFile != "" {
		opts = append(opts, nats.UserCredentials(credsFile))
	}

	var nc *nats.Conn
	var err error
	backoff := 100 * time.Millisecond
	maxBackoff := 30 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		nc, err = nats.Connect(urls, opts...)
		if err == nil {
			log.Info().Str("url", nc.ConnectedUrl()).Int("attempt", attempt).Msg("connected to NATS")
			return nc, nil
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("failed to connect to NATS, retrying...")
		time.Sleep(backoff)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("connect NATS: %w", err)
}
