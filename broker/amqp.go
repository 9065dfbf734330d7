package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coachpay/engine/notify"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Broker = &AMQPBroker{}

const (
	notificationExchange string = "notifications"
	contentTypeJSON             = "application/json"
)

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    publisher
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	if err := setupNotificationExchange(amqpChan); err != nil {
		amqpChan.Close()
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for notifications")
	}
	return &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}, nil
}

func setupNotificationExchange(channel *amqp.Channel) error {
	return channel.ExchangeDeclare(
		notificationExchange, // name
		"topic",              // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	if a.connection != nil {
		a.connection.Close()
	}
}

// Dispatch publishes msg to the notification exchange, routed by its template
func (a *AMQPBroker) Dispatch(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	if err := a.channel.Publish(
		notificationExchange,
		string(msg.Template),
		false,
		false,
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish notification")
	}
	return nil
}
