package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Labrun/internal/capture"
	"github.com/shaiso/Labrun/internal/domain"
)

// Publisher публикует статусы и снимки в брокер.
//
// Полезная нагрузка — плоский JSON без конверта: фронтенд читает
// поля статуса напрямую.
type Publisher struct {
	conn     *Connection
	topology Topology
	logger   *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, topology Topology, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		topology: topology.WithDefaults(),
		logger:   logger,
	}
}

// publishing — готовое к отправке сообщение.
type publishing struct {
	routingKey  string
	contentType string
	body        []byte
	headers     amqp.Table
	persistent  bool
}

// publish отправляет сообщение в обменник топологии.
func (p *Publisher) publish(ctx context.Context, msg publishing) error {
	mode := amqp.Transient
	if msg.persistent {
		mode = amqp.Persistent // сообщение переживёт рестарт брокера
	}

	id := uuid.New().String()

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			p.topology.Exchange, // exchange
			msg.routingKey,      // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  msg.contentType,
				DeliveryMode: mode,
				MessageId:    id,
				Timestamp:    time.Now(),
				Headers:      msg.headers,
				Body:         msg.body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.topology.Exchange, msg.routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", p.topology.Exchange,
			"routing_key", msg.routingKey,
			"message_id", id,
			"bytes", len(msg.body),
		)

		return nil
	})
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return p.publish(ctx, publishing{
		routingKey:  routingKey,
		contentType: "application/json",
		body:        body,
	})
}

// PublishStatus публикует событие статуса теста.
// Потребитель: фронтенд.
func (p *Publisher) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	body, err := encodeStatus(event)
	if err != nil {
		return err
	}

	return p.publish(ctx, publishing{
		routingKey:  p.topology.StatusKey,
		contentType: "application/json",
		body:        body,
		persistent:  event.Status.IsFinished(),
	})
}

// PublishImage публикует метаданные снимка и сами байты отдельными сообщениями.
func (p *Publisher) PublishImage(ctx context.Context, meta capture.Metadata, data []byte) error {
	if err := p.PublishJSON(ctx, p.topology.ImageKey, meta); err != nil {
		return fmt.Errorf("image metadata: %w", err)
	}

	err := p.publish(ctx, publishing{
		routingKey:  p.topology.ImageRawKey,
		contentType: "application/octet-stream",
		body:        data,
		headers:     imageHeaders(meta),
	})
	if err != nil {
		return fmt.Errorf("image payload: %w", err)
	}
	return nil
}

// encodeStatus кодирует событие в плоский JSON.
func encodeStatus(event domain.StatusEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	return body, nil
}

// imageHeaders связывает сырые байты с метаданными.
func imageHeaders(meta capture.Metadata) amqp.Table {
	return amqp.Table{
		"testId":   meta.TestID,
		"cycle":    strconv.Itoa(meta.Cycle),
		"filename": meta.Filename,
		"checksum": meta.Checksum,
	}
}
