package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Nexus-orgs/sypot-payments/internal/core"
	"github.com/Nexus-orgs/sypot-payments/internal/port/output"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName  = "settlements"
	QueueName     = "reconciliation"
	RoutingKey    = "booking.reconcile"
	PrefetchCount = 1 // Process one message at a time per worker
)

// ReconcileMessage asks the worker to resolve a booking left Processing
type ReconcileMessage struct {
	BookingID uuid.UUID `json:"booking_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RabbitMQClient is a secondary adapter that implements the
// ReconcileQueue output port
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQClient creates a new RabbitMQ client (returns interface for ports)
func NewRabbitMQClient(amqpURL string) (output.ReconcileQueue, error) {
	return NewRabbitMQClientConcrete(amqpURL)
}

// NewRabbitMQClientConcrete creates a new RabbitMQ client (returns concrete type for workers)
func NewRabbitMQClientConcrete(amqpURL string) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		QueueName,
		RoutingKey,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: channel,
	}, nil
}

// PublishReconcile enqueues a booking for out-of-band reconciliation
func (c *RabbitMQClient) PublishReconcile(bookingID uuid.UUID) error {
	message := ReconcileMessage{
		BookingID: bookingID,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = c.channel.Publish(
		ExchangeName,
		RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // Make message persistent
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Printf("Published reconcile message for booking ID: %s", bookingID)
	return nil
}

// ConsumeReconcileMessages starts consuming reconcile messages
func (c *RabbitMQClient) ConsumeReconcileMessages(handler func(ReconcileMessage) error) error {
	// Set QoS to process one message at a time
	err := c.channel.Qos(
		PrefetchCount,
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		QueueName,
		"",    // consumer tag
		false, // auto-ack (we'll manually ack after processing)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Println("Started consuming reconcile messages...")

	go func() {
		for msg := range msgs {
			var reconcileMsg ReconcileMessage
			if err := json.Unmarshal(msg.Body, &reconcileMsg); err != nil {
				log.Printf("Error unmarshaling message: %v", err)
				msg.Nack(false, false) // Drop malformed message
				continue
			}

			// Process the message
			if err := handler(reconcileMsg); err != nil {
				log.Printf("Error reconciling booking %s: %v", reconcileMsg.BookingID, err)
				// A booking that no longer needs reconciling is done;
				// anything else is requeued for another pass.
				if isTerminalError(err) {
					msg.Ack(false)
				} else {
					msg.Nack(false, true)
				}
				continue
			}

			// Successfully processed
			msg.Ack(false)
			log.Printf("Successfully reconciled booking: %s", reconcileMsg.BookingID)
		}
	}()

	return nil
}

// Close closes the RabbitMQ connection
func (c *RabbitMQClient) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// isTerminalError checks if an error means the message can be dropped
func isTerminalError(err error) bool {
	return errors.Is(err, core.ErrBookingNotFound) || errors.Is(err, core.ErrInvalidState)
}
