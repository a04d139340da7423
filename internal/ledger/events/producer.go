/**
 * @description
 * RabbitMQ publisher for ledger events. The ledger announces every committed transfer on a
 * durable topic exchange; delivery is best-effort and never affects a transfer's result.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/logging"
)

// RoutingKeyTransferCommitted is the routing key of TransferCommitted events.
const RoutingKeyTransferCommitted = "ledger.transfer.committed"

// TransferCommitted is published after a transfer's database transaction commits.
type TransferCommitted struct {
	TransactionID       string          `json:"transaction_id"`
	SourceAccountNumber string          `json:"source_account_number"`
	TargetAccountNumber string          `json:"target_account_number"`
	Amount              decimal.Decimal `json:"amount"`
	CurrencyCode        string          `json:"currency_code"`
	Legs                []domain.Leg    `json:"legs"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

// Publisher is implemented by types that can publish ledger events.
type Publisher interface {
	PublishTransferCommitted(ctx context.Context, event TransferCommitted) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// FallbackProducer is a no-op publisher used when RabbitMQ is unavailable at startup. The
// outage is warned about once at startup; individual skips only show at debug level.
type FallbackProducer struct{}

func (FallbackProducer) PublishTransferCommitted(ctx context.Context, event TransferCommitted) error {
	logging.Ctx(ctx).Debug().
		Str("component", "rabbitmq_producer").
		Str("mode", "fallback").
		Str("transaction_id", event.TransactionID).
		Msg("transfer event publish skipped")
	return nil
}

func (FallbackProducer) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and declares the ledger exchange.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &EventProducer{exchange: exchange, conn: conn, channel: ch}, nil
}

// PublishTransferCommitted publishes event to the ledger exchange.
func (p *EventProducer) PublishTransferCommitted(ctx context.Context, event TransferCommitted) error {
	return p.publish(ctx, RoutingKeyTransferCommitted, event)
}

func (p *EventProducer) publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	logging.Ctx(ctx).Warn().Str("component", "rabbitmq_producer").Err(err).Msg("publish failed; reopening channel")

	// One-shot retry on a fresh channel.
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

// Close closes the channel and connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
