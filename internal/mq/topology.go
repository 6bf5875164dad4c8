package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Значения топологии по умолчанию.
//
// amq.topic — обменник, в который MQTT-плагин RabbitMQ публикует
// сообщения: MQTT-топик ur2/test/init приходит с ключом ur2.test.init.
// Так фронтенд на MQTT работает без изменений.
const (
	DefaultExchange     = "amq.topic"
	DefaultCommandKey   = "ur2.test.init"
	DefaultConfirmKey   = "ur2.test.confirm"
	DefaultStatusKey    = "ur2.test.stage"
	DefaultImageKey     = "ur2.test.image"
	DefaultImageRawKey  = "ur2.test.image.raw"
	DefaultCommandQueue = "labrun.commands"
	DefaultConfirmQueue = "labrun.confirmations"
)

// Topology — имена обменника, ключей и очередей.
type Topology struct {
	Exchange string `mapstructure:"exchange"`

	CommandKey  string `mapstructure:"command_key"`
	ConfirmKey  string `mapstructure:"confirm_key"`
	StatusKey   string `mapstructure:"status_key"`
	ImageKey    string `mapstructure:"image_key"`
	ImageRawKey string `mapstructure:"image_raw_key"`

	CommandQueue string `mapstructure:"command_queue"`
	ConfirmQueue string `mapstructure:"confirm_queue"`
}

// DefaultTopology возвращает топологию, совместимую с фронтендом.
func DefaultTopology() Topology {
	return Topology{
		Exchange:     DefaultExchange,
		CommandKey:   DefaultCommandKey,
		ConfirmKey:   DefaultConfirmKey,
		StatusKey:    DefaultStatusKey,
		ImageKey:     DefaultImageKey,
		ImageRawKey:  DefaultImageRawKey,
		CommandQueue: DefaultCommandQueue,
		ConfirmQueue: DefaultConfirmQueue,
	}
}

// WithDefaults заполняет пустые поля значениями по умолчанию.
func (t Topology) WithDefaults() Topology {
	d := DefaultTopology()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.Exchange, d.Exchange)
	fill(&t.CommandKey, d.CommandKey)
	fill(&t.ConfirmKey, d.ConfirmKey)
	fill(&t.StatusKey, d.StatusKey)
	fill(&t.ImageKey, d.ImageKey)
	fill(&t.ImageRawKey, d.ImageRawKey)
	fill(&t.CommandQueue, d.CommandQueue)
	fill(&t.ConfirmQueue, d.ConfirmQueue)
	return t
}

// builtinExchange — встроенные обменники брокера нельзя объявлять
// активно, только проверять пассивно.
func (t Topology) builtinExchange() bool {
	return strings.HasPrefix(t.Exchange, "amq.")
}

// SetupTopology объявляет обменник, очереди и привязки.
func SetupTopology(ctx context.Context, conn *Connection, t Topology) error {
	return conn.WithChannel(ctx, t.Declare)
}

// Declare объявляет топологию на канале. Идемпотентна.
func (t Topology) Declare(ch *amqp.Channel) error {
	// 1. Обменник
	if err := t.declareExchange(ch); err != nil {
		return err
	}

	// 2. Очереди
	for _, q := range []string{t.CommandQueue, t.ConfirmQueue} {
		_, err := ch.QueueDeclare(
			q,     // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	// 3. Привязки
	for _, b := range t.bindings() {
		err := ch.QueueBind(
			b.queue,      // queue name
			b.routingKey, // routing key
			t.Exchange,   // exchange
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, t.Exchange, err)
		}
	}

	return nil
}

func (t Topology) declareExchange(ch *amqp.Channel) error {
	declare := ch.ExchangeDeclare
	if t.builtinExchange() {
		declare = ch.ExchangeDeclarePassive
	}

	err := declare(
		t.Exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	return nil
}

type binding struct {
	queue      string
	routingKey string
}

func (t Topology) bindings() []binding {
	return []binding{
		{t.CommandQueue, t.CommandKey},
		{t.ConfirmQueue, t.ConfirmKey},
	}
}

// Info возвращает описание топологии для логирования.
func (t Topology) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (topic)\n", t.Exchange)
	fmt.Fprintf(&b, "├── %s [routing: %s]  consumer: rig\n", t.CommandQueue, t.CommandKey)
	fmt.Fprintf(&b, "├── %s [routing: %s]  consumer: rig\n", t.ConfirmQueue, t.ConfirmKey)
	fmt.Fprintf(&b, "├── status   -> %s\n", t.StatusKey)
	fmt.Fprintf(&b, "└── images   -> %s, %s\n", t.ImageKey, t.ImageRawKey)
	return b.String()
}
