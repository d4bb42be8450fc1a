package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/shopcore/go-stock-reservation/internal/aws"
	"github.com/shopcore/go-stock-reservation/internal/catalog"
	"github.com/shopcore/go-stock-reservation/internal/stock"
)

// Processor consumes release messages and applies the compensating stock
// increments.
type Processor struct {
	svc    *stock.Service
	logger zerolog.Logger
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, productsTable string, logger zerolog.Logger) *Processor {
	store := catalog.NewStore(clients.DynamoDB, productsTable)
	return &Processor{
		svc:    stock.NewService(store, logger),
		logger: logger,
	}
}

// Handle receives an SQS batch event and processes each record. Returning an
// error makes the Lambda runtime retry the batch; repeated failures land the
// message in the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error().Err(err).Str("message_id", rec.MessageId).Msg("release worker error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg ReleaseMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	p.logger.Info().
		Str("order_id", msg.OrderID).
		Str("idempotency_key", msg.IdempotencyKey).
		Str("correlation_id", msg.CorrelationID).
		Int("items", len(msg.Items)).
		Msg("releasing stock")

	err := p.svc.Release(ctx, msg.Items)
	if err == nil {
		return nil
	}

	var re *stock.ReservationError
	if errors.As(err, &re) && !re.Retryable() {
		// the variant or product is gone from the catalog; retrying will
		// never succeed, so swallow the message instead of poisoning the
		// queue. The discrepancy is logged for the seller/admin flow.
		p.logger.Warn().
			Str("order_id", msg.OrderID).
			Interface("failures", re.Failures).
			Msg("release skipped: catalog entities missing")
		return nil
	}
	return fmt.Errorf("release stock: %w", err)
}
