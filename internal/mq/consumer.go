package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformed — сообщение нельзя разобрать. Такие сообщения
// подтверждаются и отбрасываются: повторная доставка их не исправит.
var ErrMalformed = errors.New("malformed message")

// Handler — функция обработки сообщения.
// Ошибка с ErrMalformed — ack и drop, любая другая — nack с requeue.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Body — тело сообщения как есть.
	Body []byte

	// RoutingKey — ключ, с которым пришло сообщение.
	RoutingKey string

	// MessageID — идентификатор от издателя (может быть пустым для MQTT).
	MessageID string

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// DecodeJSON разбирает тело сообщения в T.
// Ошибка разбора оборачивает ErrMalformed.
func DecodeJSON[T any](d *Delivery) (T, error) {
	var result T
	if err := json.Unmarshal(d.Body, &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return result, nil
}

// Consumer потребляет сообщения из очереди.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start запускает потребление сообщений. Блокируется до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Подписываемся до попытки, чтобы не пропустить reconnect.
		reconnected := c.conn.ReconnectNotify()

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-reconnected:
				c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
				continue
			}
		}

		c.logger.Info("consumer started", "queue", c.queue)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", c.queue)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-reconnected:
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (мы ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// processDeliveries обрабатывает сообщения из канала.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	delivery := &Delivery{
		Body:       raw.Body,
		RoutingKey: raw.RoutingKey,
		MessageID:  raw.MessageId,
		Raw:        raw,
	}

	c.logger.Debug("received message",
		"queue", c.queue,
		"routing_key", raw.RoutingKey,
		"message_id", raw.MessageId,
	)

	err := c.handler(ctx, delivery)

	switch outcome(err) {
	case outcomeAck:
		_ = raw.Ack(false)
	case outcomeDrop:
		c.logger.Error("dropping malformed message",
			"queue", c.queue,
			"error", err,
			"body", truncate(raw.Body, 256),
		)
		_ = raw.Ack(false)
	case outcomeRequeue:
		c.logger.Error("handler failed, requeueing",
			"queue", c.queue,
			"message_id", raw.MessageId,
			"error", err,
		)
		_ = raw.Nack(false, true)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

type deliveryOutcome int

const (
	outcomeAck deliveryOutcome = iota
	outcomeDrop
	outcomeRequeue
)

// outcome решает судьбу сообщения по ошибке обработчика.
func outcome(err error) deliveryOutcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrMalformed):
		return outcomeDrop
	default:
		return outcomeRequeue
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
