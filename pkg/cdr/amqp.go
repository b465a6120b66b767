package cdr

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPPublisher delivers call detail records to a durable AMQP queue.
type AMQPPublisher struct {
	logger    *logrus.Logger
	url       string
	queueName string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher creates an unconnected publisher. Call Connect before
// the first Publish.
func NewAMQPPublisher(logger *logrus.Logger, url, queueName string) *AMQPPublisher {
	return &AMQPPublisher{
		logger:    logger,
		url:       url,
		queueName: queueName,
	}
}

// Connect dials the broker and declares the durable record queue.
func (p *AMQPPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial AMQP broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open AMQP channel: %w", err)
	}
	_, err = channel.QueueDeclare(
		p.queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue %q: %w", p.queueName, err)
	}

	p.conn = conn
	p.channel = channel
	p.logger.WithField("queue", p.queueName).Info("Connected to AMQP broker for call records")
	return nil
}

// IsConnected reports whether a broker channel is open.
func (p *AMQPPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel != nil
}

// Publish delivers one record as a persistent JSON message.
func (p *AMQPPublisher) Publish(rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("publish call record: not connected")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	err = p.channel.Publish(
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"call_id": rec.CallID,
		"queue":   p.queueName,
	}).Debug("Call record published")
	return nil
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
