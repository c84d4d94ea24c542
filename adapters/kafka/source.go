package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-billing-sync/core"
	glog "github.com/goliatone/go-logger/glog"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	DefaultMinBytes = 1e3
	DefaultMaxBytes = 10e6
)

// MessageReader is the subset of *kafkago.Reader the source depends on.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type EventProcessor interface {
	Process(ctx context.Context, event core.WebhookEvent) (core.BillingEventResult, error)
}

type ReaderConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	GroupID string   `json:"group_id" yaml:"group_id"`
	Topics  []string `json:"topics" yaml:"topics"`
}

func (c ReaderConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return fmt.Errorf("kafka: group id is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("kafka: at least one topic is required")
	}
	return nil
}

func NewReader(cfg ReaderConfig) (*kafkago.Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     strings.TrimSpace(cfg.GroupID),
		GroupTopics: cfg.Topics,
		MinBytes:    DefaultMinBytes,
		MaxBytes:    DefaultMaxBytes,
	}), nil
}

// Source feeds webhook events from a consumer group into the engine.
// Messages are handled one at a time and committed once the engine has
// taken them, including rejected ones, since retries are scheduled by the
// engine rather than by redelivery.
type Source struct {
	reader    MessageReader
	processor EventProcessor
	logger    glog.Logger
}

type SourceOption func(*Source)

func WithLogger(logger glog.Logger) SourceOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSource(reader MessageReader, processor EventProcessor, opts ...SourceOption) (*Source, error) {
	if reader == nil {
		return nil, fmt.Errorf("kafka: message reader is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("kafka: event processor is required")
	}
	source := &Source{
		reader:    reader,
		processor: processor,
		logger:    glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(source)
		}
	}
	return source, nil
}

// Run consumes until ctx is cancelled or the reader is closed. Both end the
// loop without an error.
func (s *Source) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("kafka: fetch message: %w", err)
		}
		if err := s.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle decodes one message, hands it to the engine and commits it. Only a
// failed commit is returned.
func (s *Source) Handle(ctx context.Context, msg kafkago.Message) error {
	event, err := DecodeEvent(msg)
	if err != nil {
		s.logger.Warn("kafka: dropping undecodable billing event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err.Error(),
		)
	} else {
		result, processErr := s.processor.Process(ctx, event)
		if processErr != nil {
			s.logger.Warn("kafka: billing event not processed",
				"event_id", event.ID,
				"event_type", event.Type,
				"offset", msg.Offset,
				"error", processErr.Error(),
			)
		} else {
			s.logger.Debug("kafka: billing event processed",
				"event_id", event.ID,
				"event_type", event.Type,
				"deduplicated", result.Deduplicated,
				"crisis_override", result.CrisisOverride,
			)
		}
	}
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}

// DecodeEvent reads a webhook event from the message value. The
// "event-type" header fills in a missing type.
func DecodeEvent(msg kafkago.Message) (core.WebhookEvent, error) {
	if len(msg.Value) == 0 {
		return core.WebhookEvent{}, fmt.Errorf("kafka: empty message value")
	}
	var event core.WebhookEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return core.WebhookEvent{}, fmt.Errorf("kafka: decode billing event: %w", err)
	}
	if strings.TrimSpace(event.Type) == "" {
		event.Type = header(msg, "event-type")
	}
	return event, nil
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}

var _ MessageReader = (*kafkago.Reader)(nil)
