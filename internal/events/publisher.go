package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Publisher publishes attempt lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event *AttemptEvent) error
	Close() error
}

// EventPublisher implements Publisher on a RabbitMQ topic exchange.
type EventPublisher struct {
	mu           sync.Mutex
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	enabled      bool
	log          zerolog.Logger
}

// NewEventPublisher connects to RabbitMQ. An empty URI returns a
// disabled publisher that drops every event.
func NewEventPublisher(rabbitURI, exchangeName string, log zerolog.Logger) (*EventPublisher, error) {
	log = log.With().Str("component", "events").Logger()
	if rabbitURI == "" {
		log.Warn().Msg("AMQP_URL is empty, event publishing is disabled")
		return &EventPublisher{enabled: false, log: log}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info().Str("exchange", exchangeName).Msg("Event publisher connected")
	return &EventPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		enabled:      true,
		log:          log,
	}, nil
}

// Publish sends event with its type as routing key.
func (p *EventPublisher) Publish(ctx context.Context, event *AttemptEvent) error {
	if !p.enabled {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchangeName,     // exchange
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Hooks adapts a Publisher to the attempt lifecycle hooks. Publishing
// runs on its own goroutine so controllers never wait on the broker.
type Hooks struct {
	pub   Publisher
	log   zerolog.Logger
	queue chan *AttemptEvent
	done  chan struct{}
}

// NewHooks creates lifecycle hooks buffering up to size events.
func NewHooks(pub Publisher, size int, log zerolog.Logger) *Hooks {
	if size <= 0 {
		size = 256
	}
	return &Hooks{
		pub:   pub,
		log:   log.With().Str("component", "event_hooks").Logger(),
		queue: make(chan *AttemptEvent, size),
		done:  make(chan struct{}),
	}
}

// Run publishes queued events until ctx is cancelled, then drains what
// is left.
func (h *Hooks) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case ev := <-h.queue:
			h.publish(ctx, ev)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-h.queue:
					h.publish(drainCtx, ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run returned.
func (h *Hooks) Done() <-chan struct{} { return h.done }

func (h *Hooks) publish(ctx context.Context, ev *AttemptEvent) {
	if err := h.pub.Publish(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish attempt event")
	}
}

func (h *Hooks) enqueue(ev *AttemptEvent) {
	select {
	case h.queue <- ev:
	default:
		h.log.Warn().Str("type", string(ev.Type)).Msg("Event queue full, dropping event")
	}
}

func (h *Hooks) AttemptStarted(key model.AttemptKey, remainingSeconds int) {
	h.enqueue(NewAttemptStartedEvent(key, remainingSeconds))
}

func (h *Hooks) AnswerSelected(model.AttemptKey, string, string) {}

func (h *Hooks) AttemptCompleted(key model.AttemptKey, result *model.Result, auto bool) {
	h.enqueue(NewAttemptCompletedEvent(key, result, auto))
}

func (h *Hooks) AttemptDismissed(key model.AttemptKey) {
	h.enqueue(NewAttemptDismissedEvent(key))
}
