/*
Package events publishes domain events out of the earnings engine.

PURPOSE:
  Other systems (notifications, reporting) learn about deposits, bonus
  settlements and closed shifts from events rather than by polling the
  database. Publishing is best-effort: the engine logs a failed publish and
  keeps going, because the database write it describes already committed.

EVENT TYPES:
  deposit.recorded, deposit.voided
  bonus.held, bonus.approved, bonus.burned, bonus.paid
  shift.closed, shift.auto_closed, shift.missed

IMPLEMENTATIONS:
  Nop:            Discards everything (tests, CLI one-shots)
  LogPublisher:   Writes events to a zap logger
  AMQPPublisher:  RabbitMQ topic exchange, routing key = event type
*/
package events

import (
	"context"
	"time"

	"github.com/umbra/earnings-engine/generic"
	"go.uber.org/zap"
)

const (
	DepositRecorded = "deposit.recorded"
	DepositVoided   = "deposit.voided"
	BonusHeld       = "bonus.held"
	BonusApproved   = "bonus.approved"
	BonusBurned     = "bonus.burned"
	BonusPaid       = "bonus.paid"
	ShiftClosed     = "shift.closed"
	ShiftAutoClosed = "shift.auto_closed"
	ShiftMissed     = "shift.missed"
)

type Event struct {
	Type        string              `json:"type"`
	ProcessorID generic.ProcessorID `json:"processor_id"`
	ReferenceID string              `json:"reference_id"`
	Payload     map[string]any      `json:"payload,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes each event as a structured log line.
type LogPublisher struct {
	Logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{Logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.Logger.Info("event",
		zap.String("type", e.Type),
		zap.String("processor_id", string(e.ProcessorID)),
		zap.String("reference_id", e.ReferenceID),
		zap.Time("occurred_at", e.OccurredAt),
		zap.Any("payload", e.Payload),
	)
	return nil
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
