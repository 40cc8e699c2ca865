// Package events forwards lifecycle events from the in-process bus to Kafka.
// Publishing is best effort: failures are logged and never reach the reconciler.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"streamwatch/internal/eventbus"
	logx "streamwatch/pkg/logx"
)

// Config controls the Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // per message; default 10s
	BatchTimeout time.Duration // writer flush interval; default 100ms
}

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON payload written to the topic, keyed by channel id.
type Message struct {
	Type          string    `json:"type"`
	ChannelID     string    `json:"channel_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	Activity      string    `json:"activity,omitempty"`
	DestinationID int64     `json:"destination_id,omitempty"`
	At            time.Time `json:"at"`
}

type Publisher struct {
	w       MessageWriter
	timeout time.Duration
	log     logx.Logger
}

// New builds a publisher over a kafka.Writer.
func New(cfg Config, log logx.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are empty")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is empty")
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 100 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batch,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	p := NewWithWriter(w, cfg.WriteTimeout, log)
	p.log.Info("kafka publisher initialized",
		logx.String("brokers", strings.Join(cfg.Brokers, ",")),
		logx.String("topic", cfg.Topic),
	)
	return p, nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w MessageWriter, timeout time.Duration, log logx.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{w: w, timeout: timeout, log: log}
}

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, e eventbus.Event) error {
	data, err := json.Marshal(Message{
		Type:          e.Type,
		ChannelID:     e.Data.ChannelID,
		DisplayName:   e.Data.DisplayName,
		Activity:      e.Data.Activity,
		DestinationID: e.Data.DestinationID,
		At:            e.Time.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(wctx, kafka.Message{
		Key:   []byte(e.Data.ChannelID),
		Value: data,
		Time:  e.Time,
	}); err != nil {
		return fmt.Errorf("write event %s: %w", e.Type, err)
	}
	return nil
}

// Run forwards bus events until ctx is done.
func (p *Publisher) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, e); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Warn("event publish failed",
					logx.String("type", e.Type),
					logx.String("channel", e.Data.ChannelID),
					logx.Err(err),
				)
				continue
			}
			p.log.Debug("event published", logx.String("type", e.Type), logx.String("channel", e.Data.ChannelID))
		}
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}
