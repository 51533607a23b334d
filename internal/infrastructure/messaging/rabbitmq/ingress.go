package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/fraruiz/pgmb/internal/application/broker"
	"github.com/fraruiz/pgmb/internal/domain"
	"github.com/fraruiz/pgmb/internal/logger"
)

// Publisher is the slice of the broker service the ingress needs.
type Publisher interface {
	Publish(ctx context.Context, cmd broker.PublishCmd) (*broker.PublishResult, error)
}

// Ingress bridges an AMQP topic exchange into the broker: each consumed
// delivery is republished with its AMQP routing key and raw body. The broker
// then fans it out onto matching queues like any other publish.
type Ingress struct {
	url      string
	exchange string
	queue    string
	pub      Publisher
	log      zerolog.Logger
}

func NewIngress(url, exchange, queue string, pub Publisher) *Ingress {
	return &Ingress{
		url:      strings.TrimSpace(url),
		exchange: strings.TrimSpace(exchange),
		queue:    strings.TrimSpace(queue),
		pub:      pub,
		log:      logger.Logger.With().Str("component", "amqp_ingress").Logger(),
	}
}

// Start connects, declares the topology and consumes until ctx is canceled.
// The bound routing key is "#": the broker's own binding patterns decide
// which queues a message reaches, not the AMQP binding.
func (i *Ingress) Start(ctx context.Context) error {
	conn, err := amqp.Dial(i.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(i.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	q, err := ch.QueueDeclare(i.queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	if err := ch.QueueBind(q.Name, "#", i.exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "pgmb-ingress", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	go func() {
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := i.handle(ctx, d); err != nil {
					_ = d.Nack(false, true) // transient => requeue
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	i.log.Info().Str("queue", q.Name).Str("exchange", i.exchange).Msg("ingress started")
	return nil
}

// handle republishes one AMQP delivery. A nil return means ack: either the
// message was accepted, it was a duplicate, or it is poison not worth
// redelivering. Store unavailability returns the error so the caller nacks.
func (i *Ingress) handle(ctx context.Context, d amqp.Delivery) error {
	log := i.log.With().Str("routing_key", d.RoutingKey).Logger()

	if len(d.Body) == 0 || !json.Valid(d.Body) {
		log.Warn().Msg("non-JSON body; dropping")
		return nil
	}

	msgID := strings.TrimSpace(d.MessageId)
	if _, err := uuid.Parse(msgID); err != nil {
		msgID = uuid.NewString()
	}

	var headers json.RawMessage
	if len(d.Headers) > 0 {
		if b, err := json.Marshal(d.Headers); err == nil {
			headers = b
		}
	}

	_, err := i.pub.Publish(ctx, broker.PublishCmd{
		ID:         msgID,
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		Headers:    headers,
	})
	switch {
	case err == nil:
		log.Debug().Str("message_id", msgID).Msg("republished")
		return nil
	case domain.IsCode(err, domain.CodeConflict):
		log.Info().Str("message_id", msgID).Msg("duplicate delivery ignored")
		return nil
	case domain.IsCode(err, domain.CodeValidation):
		log.Warn().Err(err).Msg("invalid message; dropping")
		return nil
	default:
		log.Error().Err(err).Msg("publish failed (requeue)")
		return err
	}
}
