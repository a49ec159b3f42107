// Package dispatch delivers enrichment results to the notification
// sink exactly once per batch.
//
// Delivery is at-least-once from the sink's perspective: the
// dispatcher's responsibility ends at a successful "accepted"
// acknowledgment, not an end-to-end read receipt. Fan-out (email, SMS)
// is entirely the sink's concern.
package dispatch

import (
	"context"

	"github.com/justapithecus/lookout/log"
	"github.com/justapithecus/lookout/metrics"
	"github.com/justapithecus/lookout/types"
)

// Sink is the external notification fan-out service.
type Sink interface {
	// Publish sends subject+body and returns the sink's acknowledgment
	// id once the message is accepted.
	Publish(ctx context.Context, subject, body string) (string, error)
	// Close releases sink resources.
	Close() error
}

// DeliveryStatus classifies one delivery attempt.
type DeliveryStatus string

const (
	// Delivered indicates the sink accepted the message.
	Delivered DeliveryStatus = "delivered"
	// DeliveryFailed indicates the sink did not accept the message.
	DeliveryFailed DeliveryStatus = "delivery_failed"
	// DeliverySkipped indicates nothing was sent (empty report).
	DeliverySkipped DeliveryStatus = "delivery_skipped"
)

// Outcome records the result of delivering one enrichment result.
type Outcome struct {
	// BatchID is the batch the delivery belongs to.
	BatchID string
	// Status classifies the attempt.
	Status DeliveryStatus
	// AckID is the sink's acknowledgment id (delivered only).
	AckID string
	// Err is the delivery failure cause, if any.
	Err error
}

// Dispatcher publishes enrichment reports with a fixed subject line.
type Dispatcher struct {
	sink      Sink
	subject   string
	logger    *log.Logger
	collector *metrics.Collector
}

// NewDispatcher creates a dispatcher over the given sink.
func NewDispatcher(sink Sink, subject string, logger *log.Logger, collector *metrics.Collector) *Dispatcher {
	if subject == "" {
		subject = "Log pattern findings report"
	}
	return &Dispatcher{sink: sink, subject: subject, logger: logger, collector: collector}
}

// Deliver publishes one result's report text. Results with an empty
// report are skipped: no-op notifications are never sent.
func (d *Dispatcher) Deliver(ctx context.Context, result types.EnrichmentResult) Outcome {
	if result.ReportText == "" {
		return Outcome{BatchID: result.BatchID, Status: DeliverySkipped}
	}

	ackID, err := d.sink.Publish(ctx, d.subject, result.ReportText)
	if err != nil {
		d.collector.IncDeliveryFailures()
		d.logger.Warn("delivery failed", map[string]any{
			"batch_id": result.BatchID,
			"error":    err.Error(),
		})
		return Outcome{BatchID: result.BatchID, Status: DeliveryFailed, Err: err}
	}

	d.collector.IncDelivered()
	d.logger.Info("delivered", map[string]any{
		"batch_id": result.BatchID,
		"ack_id":   ackID,
	})
	return Outcome{BatchID: result.BatchID, Status: Delivered, AckID: ackID}
}
