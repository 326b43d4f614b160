package eventbridge

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/NoriginMedia/nannoq-tools-sub001/application/ports"
	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

// Source is the event source attached to every entry
const Source = "nannoq.versioning"

// EventBridge limits PutEvents to 10 entries
const batchSize = 10

// Client is the subset of the EventBridge API the publisher uses
type Client interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends versioning events to an EventBridge bus
type Publisher struct {
	client       Client
	eventBusName string
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client Client, eventBusName string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
	}
}

// Publish sends events in batches of at most 10
func (p *Publisher) Publish(ctx context.Context, events ...versioning.VersionCommitted) error {
	for i := 0; i < len(events); i += batchSize {
		end := min(i+batchSize, len(events))
		if err := p.publishBatch(ctx, events[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, events []versioning.VersionCommitted) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(events))
	for _, event := range events {
		detail, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(event)
		if err != nil {
			return errors.NewInternalError("failed to marshal event").WithCause(err)
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(event.EventType()),
			Detail:       aws.String(detail),
			Time:         aws.Time(event.CommittedAt),
		})
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return errors.NewInternalError("failed to publish events").WithCause(err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil && i < len(events) {
				p.logger.Error("Failed to publish event",
					zap.String("key", events[i].Key),
					zap.String("version_id", events[i].VersionID),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return errors.NewInternalError(fmt.Sprintf("%d events failed to publish", result.FailedEntryCount))
	}

	p.logger.Debug("Events published",
		zap.Int("count", len(entries)),
		zap.String("event_bus", p.eventBusName),
	)
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
