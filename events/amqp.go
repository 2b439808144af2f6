/*
Package events publishes transaction lifecycle events.

PURPOSE:
  After the Ledger commits a mutation it hands a finance.Event to an
  EventSink. AMQP forwards it to RabbitMQ as a persistent JSON message so
  other services (sync workers, notifications) can react. Nop is used when
  no broker is configured.

TOPOLOGY:
  exchange (direct, durable) --routing key = queue name--> queue (durable)

  Consumers can tell events apart by the message Type header, which
  carries the event type ("transaction.created", ...).
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/finance"
)

const publishTimeout = 5 * time.Second

// Nop discards every event.
type Nop = finance.NopEvents

// AMQP publishes events to a RabbitMQ exchange.
type AMQP struct {
	conn         *amqp091.Connection
	exchangeName string
	queueName    string
	log          zerolog.Logger

	// A channel must not be used for concurrent publishes.
	mu      sync.Mutex
	channel *amqp091.Channel
}

var _ finance.EventSink = (*AMQP)(nil)

// NewAMQP dials url and declares the exchange, queue and binding.
func NewAMQP(url, exchangeName, queueName string, log zerolog.Logger) (*AMQP, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p := &AMQP{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		log:          log.With().Str("component", "events").Logger(),
	}

	if err := p.setup(); err != nil {
		p.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return p, nil
}

func (p *AMQP) setup() error {
	err := p.channel.ExchangeDeclare(
		p.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = p.channel.QueueDeclare(
		p.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = p.channel.QueueBind(
		p.queueName,    // queue name
		p.queueName,    // routing key
		p.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Publish sends ev as a persistent message.
func (p *AMQP) Publish(ctx context.Context, ev finance.Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		p.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		msg,
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	p.log.Debug().
		Str("type", string(ev.Type)).
		Str("transaction_id", ev.TransactionID).
		Str("exchange", p.exchangeName).
		Msg("published event")
	return nil
}

func (p *AMQP) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Encode builds the AMQP message for ev.
func Encode(ev finance.Event) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Type:         string(ev.Type),
		MessageId:    messageID(ev),
		Timestamp:    ev.At,
		Body:         body,
	}, nil
}

// Decode parses a message body produced by Encode.
func Decode(body []byte) (finance.Event, error) {
	var ev finance.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

func messageID(ev finance.Event) string {
	return fmt.Sprintf("%s:%s:%d", ev.Type, ev.TransactionID, ev.At.UnixNano())
}
