package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drluca/shopcommerce/config"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const (
	// For publisher confirms
	publishTimeout = 5 * time.Second
)

// ErrPermanentFailure signals that a delivery is malformed or can never
// be processed; the consumer routes it to the parking lot instead of
// retrying.
var ErrPermanentFailure = errors.New("permanent failure processing message")

// MessageHandler processes one delivery. A nil return acks the message;
// ErrPermanentFailure parks it; any other error triggers bounded
// retries before the message is dead-lettered.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Manager handles the RabbitMQ connection, channels and the event
// topology: one durable topic exchange for domain events, a consumer
// queue bound to it, plus DLX/DLQ and a parking lot for poison
// messages.
type Manager struct {
	config          config.Config
	connection      *amqp.Connection
	consumerChan    *amqp.Channel
	producerChan    *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
	connectMu       sync.Mutex
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{config: cfg}

	if err := m.connect(); err != nil {
		go m.handleReconnect()
		return nil, fmt.Errorf("initial RabbitMQ connection failed: %w. Will attempt to reconnect", err)
	}
	go m.handleReconnect()
	return m, nil
}

func (m *Manager) connect() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	log.Info().Str("url", m.config.RabbitMQURL).Msg("Attempting to connect to RabbitMQ")
	conn, err := amqp.Dial(m.config.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	m.connection = conn
	m.notifyConnClose = make(chan *amqp.Error)
	m.connection.NotifyClose(m.notifyConnClose)

	if err := m.setupProducerChannel(); err != nil {
		return fmt.Errorf("failed to setup producer channel: %w", err)
	}
	if err := m.setupConsumerChannelAndTopology(); err != nil {
		return fmt.Errorf("failed to setup consumer channel and topology: %w", err)
	}

	m.isReady = true
	log.Info().Msg("RabbitMQ connected and channels initialized successfully")
	return nil
}

func (m *Manager) setupProducerChannel() error {
	var err error
	m.producerChan, err = m.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := m.producerChan.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	m.notifyConfirm = make(chan amqp.Confirmation, 1)
	m.producerChan.NotifyPublish(m.notifyConfirm)

	log.Info().Str("exchange", m.config.EventsExchangeName).Str("type", m.config.EventsExchangeType).Msg("Declaring events exchange")
	err = m.producerChan.ExchangeDeclare(
		m.config.EventsExchangeName, // name
		m.config.EventsExchangeType, // type
		true,                        // durable
		false,                       // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare events exchange %s: %w", m.config.EventsExchangeName, err)
	}
	return nil
}

func (m *Manager) setupConsumerChannelAndTopology() error {
	var err error
	m.consumerChan, err = m.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	m.notifyChanClose = make(chan *amqp.Error)
	m.consumerChan.NotifyClose(m.notifyChanClose)

	if err := m.consumerChan.Qos(m.config.RabbitMQPrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS on consumer channel: %w", err)
	}

	// Dead letter exchange and queue for deliveries that exhaust their
	// retries.
	err = m.consumerChan.ExchangeDeclare(m.config.DLXName, "direct", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLX %s: %w", m.config.DLXName, err)
	}
	dlqName := m.config.EventsQueueName + ".dlq"
	if _, err = m.consumerChan.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", dlqName, err)
	}
	if err = m.consumerChan.QueueBind(dlqName, m.config.DLQRoutingKey, m.config.DLXName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s to DLX %s: %w", dlqName, m.config.DLXName, err)
	}

	// Parking lot for permanently unprocessable deliveries.
	err = m.consumerChan.ExchangeDeclare(m.config.ParkingLotExchangeName, "direct", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare parking lot exchange %s: %w", m.config.ParkingLotExchangeName, err)
	}
	if _, err = m.consumerChan.QueueDeclare(m.config.ParkingLotQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare parking lot queue %s: %w", m.config.ParkingLotQueueName, err)
	}
	err = m.consumerChan.QueueBind(m.config.ParkingLotQueueName, m.config.ParkingLotRoutingKey, m.config.ParkingLotExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind parking lot queue %s: %w", m.config.ParkingLotQueueName, err)
	}

	// The events exchange is declared on both channels so either can
	// come up first after a reconnect.
	err = m.consumerChan.ExchangeDeclare(m.config.EventsExchangeName, m.config.EventsExchangeType, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare events exchange %s: %w", m.config.EventsExchangeName, err)
	}

	queueArgs := amqp.Table{
		"x-dead-letter-exchange":    m.config.DLXName,
		"x-dead-letter-routing-key": m.config.DLQRoutingKey,
	}
	if _, err = m.consumerChan.QueueDeclare(m.config.EventsQueueName, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("failed to declare events queue %s: %w", m.config.EventsQueueName, err)
	}
	err = m.consumerChan.QueueBind(m.config.EventsQueueName, m.config.EventsBindingKey, m.config.EventsExchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind events queue %s with key %s to exchange %s: %w",
			m.config.EventsQueueName, m.config.EventsBindingKey, m.config.EventsExchangeName, err)
	}

	log.Info().Str("queue", m.config.EventsQueueName).Msg("Consumer topology setup complete.")
	return nil
}

// PublishMessage sends a JSON payload to the events exchange under the
// given routing key and waits for the broker's publisher confirm.
func (m *Manager) PublishMessage(ctx context.Context, routingKey string, payload any) error {
	if !m.isReady || m.producerChan == nil {
		return errors.New("producer not ready")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	log.Debug().Str("exchange", m.config.EventsExchangeName).Str("routingKey", routingKey).RawJSON("body", body).Msg("Publishing message")

	err = m.producerChan.Publish(
		m.config.EventsExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm := <-m.notifyConfirm:
		if confirm.Ack {
			return nil
		}
		return errors.New("message published but not confirmed by broker")
	case <-time.After(publishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming consumes from the events queue and feeds deliveries to
// the handler with retry/DLQ/parking-lot semantics.
func (m *Manager) StartConsuming(ctx context.Context, handler MessageHandler) error {
	if !m.isReady || m.consumerChan == nil {
		return errors.New("RabbitMQ consumer not ready")
	}

	msgs, err := m.consumerChan.Consume(
		m.config.EventsQueueName,
		m.config.ConsumerTag,
		false, // auto-ack false, we ack/nack manually
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Info().Str("queue", m.config.EventsQueueName).Str("tag", m.config.ConsumerTag).Msg("Consumer started, waiting for messages...")

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Context cancelled, stopping consumer.")
				return
			case delivery, ok := <-msgs:
				if !ok {
					log.Warn().Msg("Delivery channel closed. Reconnect loop will re-establish the consumer.")
					m.isReady = false
					return
				}
				m.processWithRetries(ctx, delivery, handler)
			}
		}
	}()

	return nil
}

func (m *Manager) processWithRetries(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) {
	maxRetries := m.config.MaxProcessingRetries
	var processingErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		processingErr = handler(ctx, delivery)
		if processingErr == nil {
			if err := delivery.Ack(false); err != nil {
				log.Error().Err(err).Uint64("deliveryTag", delivery.DeliveryTag).Msg("Failed to ACK message")
			}
			return
		}

		if errors.Is(processingErr, ErrPermanentFailure) {
			log.Error().Err(processingErr).Uint64("deliveryTag", delivery.DeliveryTag).Msg("Permanent failure processing message. Sending to parking lot.")
			if err := m.sendToParkingLot(delivery); err != nil {
				log.Error().Err(err).Uint64("deliveryTag", delivery.DeliveryTag).Msg("Failed to park message. NACKing to DLX.")
				_ = delivery.Nack(false, false)
			} else {
				_ = delivery.Ack(false)
			}
			return
		}

		log.Warn().Err(processingErr).Uint64("deliveryTag", delivery.DeliveryTag).
			Int("attempt", attempt+1).Int("maxRetries", maxRetries).Msg("Transient error processing message.")
		if attempt+1 < maxRetries {
			time.Sleep(time.Second * time.Duration(attempt+1))
		}
	}

	log.Error().Err(processingErr).Uint64("deliveryTag", delivery.DeliveryTag).
		Int("retries", maxRetries).Msg("Max processing retries exceeded. NACKing message to DLX/DLQ.")
	if err := delivery.Nack(false, false); err != nil {
		log.Error().Err(err).Uint64("deliveryTag", delivery.DeliveryTag).Msg("Failed to NACK message after max retries")
	}
}

// sendToParkingLot republishes a poison delivery to the parking lot
// exchange, preserving the original body and annotating the headers.
func (m *Manager) sendToParkingLot(originalDelivery amqp.Delivery) error {
	if !m.isReady || m.producerChan == nil {
		return errors.New("producer not ready for parking lot")
	}

	headers := originalDelivery.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-parking-lot-reason"] = "permanent_failure"
	headers["x-original-exchange"] = originalDelivery.Exchange
	headers["x-original-routing-key"] = originalDelivery.RoutingKey

	err := m.producerChan.Publish(
		m.config.ParkingLotExchangeName,
		m.config.ParkingLotRoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   originalDelivery.ContentType,
			CorrelationId: originalDelivery.CorrelationId,
			MessageId:     originalDelivery.MessageId,
			Timestamp:     time.Now(),
			DeliveryMode:  amqp.Persistent,
			Body:          originalDelivery.Body,
			Headers:       headers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to parking lot: %w", err)
	}

	select {
	case confirm := <-m.notifyConfirm:
		if confirm.Ack {
			return nil
		}
		return errors.New("parking lot publish NACKed")
	case <-time.After(publishTimeout):
		return errors.New("parking lot publish confirmation timeout")
	}
}

func (m *Manager) handleReconnect() {
	log.Info().Msg("RabbitMQ connection monitor started.")
	for {
		if m.isReady {
			select {
			case err, ok := <-m.notifyConnClose:
				if !ok {
					log.Info().Msg("Connection close notifications ended. Exiting reconnect handler.")
					return
				}
				log.Error().Err(err).Msg("RabbitMQ connection lost. Attempting to reconnect...")
				m.isReady = false
			case err, ok := <-m.notifyChanClose:
				if !ok {
					log.Info().Msg("Channel close notifications ended. Exiting reconnect handler.")
					return
				}
				log.Error().Err(err).Msg("RabbitMQ channel lost. Attempting to re-establish...")
				m.isReady = false
			}
		}

		if !m.isReady {
			attempts := 0
			for attempts < m.config.MaxReconnectAttempts || m.config.MaxReconnectAttempts == 0 {
				attempts++
				log.Info().Int("attempt", attempts).Msg("Attempting RabbitMQ reconnection...")
				if err := m.connect(); err == nil {
					log.Info().Msg("RabbitMQ reconnected successfully.")
					break
				}
				if attempts >= m.config.MaxReconnectAttempts && m.config.MaxReconnectAttempts != 0 {
					log.Error().Int("attempts", attempts).Msg("Max reconnection attempts reached.")
					break
				}
				time.Sleep(m.config.ReconnectDelay)
			}
		}

		if !m.isReady {
			time.Sleep(m.config.ReconnectDelay * 2)
		}
	}
}

// Close gracefully shuts down the RabbitMQ connection and channels.
func (m *Manager) Close() {
	log.Info().Msg("Closing RabbitMQ manager...")
	m.isReady = false

	if m.notifyConnClose != nil {
		close(m.notifyConnClose)
		m.notifyConnClose = nil
	}
	if m.notifyChanClose != nil {
		close(m.notifyChanClose)
		m.notifyChanClose = nil
	}

	if m.consumerChan != nil {
		if err := m.consumerChan.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing consumer channel")
		}
		m.consumerChan = nil
	}
	if m.producerChan != nil {
		if m.notifyConfirm != nil {
			close(m.notifyConfirm)
			m.notifyConfirm = nil
		}
		if err := m.producerChan.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing producer channel")
		}
		m.producerChan = nil
	}
	if m.connection != nil && !m.connection.IsClosed() {
		if err := m.connection.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing RabbitMQ connection")
		}
		m.connection = nil
	}
	log.Info().Msg("RabbitMQ manager closed.")
}

// IsReady checks if the manager is connected and channels are set up.
func (m *Manager) IsReady() bool {
	return m.isReady && m.connection != nil && !m.connection.IsClosed() && m.producerChan != nil && m.consumerChan != nil
}
