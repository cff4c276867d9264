package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	logger "github.com/sirupsen/logrus"

	"surgetrader/src/model"
)

const (
	EventSignalCreated  = "SIGNAL_CREATED"
	EventPositionOpened = "POSITION_OPENED"
	EventPositionClosed = "POSITION_CLOSED"
)

// TradeEvent is the message value published for every trading event.
type TradeEvent struct {
	EventType string               `json:"event_type"`
	Symbol    string               `json:"symbol"`
	DryRun    bool                 `json:"dry_run"`
	Signal    *model.PendingSignal `json:"signal,omitempty"`
	Position  *model.Position      `json:"position,omitempty"`
	Trade     *model.HistoryEntry  `json:"trade,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Publisher receives engine events. Implementations must not block the engine for long.
type Publisher interface {
	SignalCreated(ctx context.Context, signal *model.PendingSignal) error
	PositionOpened(ctx context.Context, pos *model.Position) error
	PositionClosed(ctx context.Context, trade model.HistoryEntry) error
	Close() error
}

// NewPublisher returns a Kafka producer when enabled and a no-op publisher otherwise.
func NewPublisher(config Config, dryRun bool) Publisher {
	if !config.Enabled {
		return NopPublisher{}
	}
	logger.WithFields(logger.Fields{
		"brokers": config.Brokers,
		"topic":   config.Topic,
	}).Info("publishing trade events to kafka")
	return NewProducer(config.Brokers, config.Topic, dryRun)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles publishing events to Kafka
type Producer struct {
	writer messageWriter
	topic  string
	dryRun bool
	now    func() time.Time
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string, dryRun bool) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
		dryRun: dryRun,
		now:    time.Now,
	}
}

func (p *Producer) SignalCreated(ctx context.Context, signal *model.PendingSignal) error {
	return p.publish(ctx, TradeEvent{
		EventType: EventSignalCreated,
		Symbol:    signal.Symbol,
		Signal:    signal,
	})
}

func (p *Producer) PositionOpened(ctx context.Context, pos *model.Position) error {
	return p.publish(ctx, TradeEvent{
		EventType: EventPositionOpened,
		Symbol:    pos.Symbol,
		Position:  pos,
	})
}

func (p *Producer) PositionClosed(ctx context.Context, trade model.HistoryEntry) error {
	return p.publish(ctx, TradeEvent{
		EventType: EventPositionClosed,
		Symbol:    trade.Symbol,
		Trade:     &trade,
	})
}

func (p *Producer) publish(ctx context.Context, event TradeEvent) error {
	event.DryRun = p.dryRun
	event.Timestamp = p.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Symbol),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) SignalCreated(context.Context, *model.PendingSignal) error { return nil }
func (NopPublisher) PositionOpened(context.Context, *model.Position) error     { return nil }
func (NopPublisher) PositionClosed(context.Context, model.HistoryEntry) error  { return nil }
func (NopPublisher) Close() error                                              { return nil }
