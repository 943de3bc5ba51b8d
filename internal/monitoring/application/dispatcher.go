package application

import (
	"context"
	"errors"
	"log"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
	"geotech-monitor/internal/monitoring/notify"
	"geotech-monitor/internal/observability/metrics"
)

// SentAlertRecorder persists a record of each dispatched notification.
type SentAlertRecorder interface {
	RecordSent(ctx context.Context, nodeID string, severity, subject string, sentAt time.Time) error
}

// Dispatcher renders and delivers notifications for admitted alerts. Send
// failures are logged and counted; they never roll back deduplication state.
type Dispatcher struct {
	channel  notify.Channel
	tmpl     *notify.Template
	recorder SentAlertRecorder
	logger   *log.Logger
	timeout  time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSentAlertRecorder enables best-effort persistence of sent alerts.
func WithSentAlertRecorder(recorder SentAlertRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// WithDispatchTimeout bounds each delivery attempt.
func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(channel notify.Channel, tmpl *notify.Template, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if channel == nil {
		return nil, errors.New("dispatcher: nil channel")
	}
	if tmpl == nil {
		tmpl = notify.DefaultTemplate()
	}
	if logger == nil {
		logger = log.Default()
	}
	dispatcher := &Dispatcher{
		channel: channel,
		tmpl:    tmpl,
		logger:  logger,
		timeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Dispatch sends a notification for a node whose severity was admitted by
// the deduplicator.
func (d *Dispatcher) Dispatch(ctx context.Context, node monitoring.Node, severity monitoring.Severity, breaches []Breach, observedAt time.Time) error {
	data := notify.MessageData{
		NodeID:     node.ID,
		NodeName:   node.DisplayName(),
		Instrument: string(node.Instrument),
		Severity:   severity.String(),
		ObservedAt: notify.FormatObservedAt(observedAt),
		Breaches:   breachLines(breaches),
	}
	return d.send(ctx, node.ID, severity.String(), data)
}

// SendTest delivers a synthetic notification so operators can verify the
// delivery path without crossing a threshold.
func (d *Dispatcher) SendTest(ctx context.Context, node monitoring.Node, now time.Time) error {
	data := notify.MessageData{
		NodeID:     node.ID,
		NodeName:   node.DisplayName(),
		Instrument: string(node.Instrument),
		Severity:   monitoring.SeverityWarning.String(),
		ObservedAt: notify.FormatObservedAt(now),
		Test:       true,
	}
	return d.send(ctx, node.ID, "test", data)
}

func (d *Dispatcher) send(ctx context.Context, nodeID, kind string, data notify.MessageData) error {
	subject, body, err := d.tmpl.Render(data)
	if err != nil {
		metrics.IncDispatch(metrics.ResultError)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.channel.Send(sendCtx, subject, body); err != nil {
		metrics.IncDispatch(metrics.ResultError)
		d.logger.Printf("dispatch failed node=%s severity=%s: %v", nodeID, kind, err)
		return err
	}
	metrics.IncDispatch(metrics.ResultSuccess)
	d.logger.Printf("dispatched node=%s severity=%s subject=%q", nodeID, kind, subject)

	if d.recorder != nil {
		if err := d.recorder.RecordSent(ctx, nodeID, kind, subject, time.Now().UTC()); err != nil {
			d.logger.Printf("record sent alert node=%s: %v", nodeID, err)
		}
	}
	return nil
}

func breachLines(breaches []Breach) []notify.BreachLine {
	lines := make([]notify.BreachLine, 0, len(breaches))
	for _, breach := range breaches {
		lines = append(lines, notify.BreachLine{
			Channel:  breach.Channel,
			Value:    breach.Value,
			Limit:    breach.Limit,
			Severity: breach.Severity.String(),
		})
	}
	return lines
}
