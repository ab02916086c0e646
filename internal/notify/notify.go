// Package notify delivers decision summaries to people and systems without
// ever blocking the agent loop.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"procureiq/internal/logging"
	"procureiq/internal/metrics"
)

type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Kinds of summaries, used by webhook event filters.
const (
	KindInvoiceReview    = "invoice.review"
	KindInvoiceEscalated = "invoice.escalated"
	KindInvoiceApproved  = "invoice.approved"
	KindStockAlert       = "stock.alert"
	KindModeChanged      = "system.mode.changed"
)

type Summary struct {
	Kind       string  `json:"kind"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	Urgency    Urgency `json:"urgency"`
	EntityKind string  `json:"entity_kind"`
	EntityID   string  `json:"entity_id,omitempty"`
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, recipient string, s Summary) error
}

// LogNotifier writes summaries to the structured log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (LogNotifier) Name() string { return "log" }

func (n LogNotifier) Notify(_ context.Context, recipient string, s Summary) error {
	logging.OrNop(n.Logger).Info("notification",
		zap.String("recipient", recipient),
		zap.String("kind", s.Kind),
		zap.String("urgency", string(s.Urgency)),
		zap.String("subject", s.Subject),
		zap.String("entity_kind", s.EntityKind),
		zap.String("entity_id", s.EntityID))
	return nil
}

type job struct {
	recipient string
	summary   Summary
}

// Dispatcher fans summaries out to notifiers from one background goroutine.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics

	ch        chan job
	wg        sync.WaitGroup
	closeOnce sync.Once
}

const defaultNotifyTimeout = 5 * time.Second

func NewDispatcher(notifiers []Notifier, buffer int, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		logger:    logging.OrNop(logger).Named("notify"),
		metrics:   m,
		ch:        make(chan job, buffer),
	}
}

// Start runs the delivery goroutine until Close.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for j := range d.ch {
			d.deliver(j)
		}
	}()
}

// Send enqueues a summary. It never blocks; a full buffer drops the summary
// and returns false.
func (d *Dispatcher) Send(recipient string, s Summary) (queued bool) {
	if d == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()
	select {
	case d.ch <- job{recipient: recipient, summary: s}:
		return true
	default:
		d.logger.Warn("notification_dropped", zap.String("kind", s.Kind), zap.String("entity_id", s.EntityID))
		d.metrics.Notification("dispatcher", "dropped")
		return false
	}
}

// Close stops accepting summaries and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() { close(d.ch) })
	d.wg.Wait()
}

func (d *Dispatcher) deliver(j job) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := n.Notify(ctx, j.recipient, j.summary)
		cancel()
		if err != nil {
			d.logger.Warn("notification_failed",
				zap.String("notifier", n.Name()),
				zap.String("kind", j.summary.Kind),
				zap.Error(err))
			d.metrics.Notification(n.Name(), "error")
			continue
		}
		d.metrics.Notification(n.Name(), "ok")
	}
}
