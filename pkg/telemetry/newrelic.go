package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/yourorg/go-sblite/pkg/logging"
)

// NewRelicClient reports messaging operations to New Relic.
type NewRelicClient struct {
	app         *newrelic.Application
	logger      logging.Logger
	serviceName string
	enabled     bool
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	LicenseKey  string
	AppName     string
	ServiceName string // reported as the "service" attribute, e.g. "order_ingest"
	Enabled     bool
}

// NewNewRelicClient creates a new New Relic client. Without a license key the
// client is returned disabled rather than failing.
func NewNewRelicClient(cfg NewRelicConfig, logger logging.Logger) (*NewRelicClient, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		logger.Info("New Relic disabled or license key not provided")
		return &NewRelicClient{
			enabled:     false,
			logger:      logger,
			serviceName: cfg.ServiceName,
		}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	logger.Info("New Relic client initialized",
		logging.NewField("app_name", cfg.AppName),
		logging.NewField("service", cfg.ServiceName),
	)

	return &NewRelicClient{
		app:         app,
		logger:      logger,
		serviceName: cfg.ServiceName,
		enabled:     true,
	}, nil
}

// Enabled reports whether events are actually sent.
func (n *NewRelicClient) Enabled() bool {
	return n.enabled && n.app != nil
}

// RecordOperation records op as a background transaction named
// "amqp/<operation>", or onto the transaction already carried by ctx.
func (n *NewRelicClient) RecordOperation(ctx context.Context, op Operation) {
	if !n.Enabled() {
		return
	}

	name := "amqp/" + op.Name
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		txn = n.app.StartTransaction(name)
		defer txn.End()
	}

	txn.AddAttribute("entity", op.Entity)
	txn.AddAttribute("duration_ms", op.Duration.Milliseconds())
	txn.AddAttribute("service", n.serviceName)

	if op.Err != nil {
		txn.NoticeError(op.Err)
		n.RecordCustomEvent("MessagingError", map[string]interface{}{
			"operation": op.Name,
			"entity":    op.Entity,
			"error":     op.Err.Error(),
		})
	}
}

// RecordCustomEvent records a custom event in New Relic.
func (n *NewRelicClient) RecordCustomEvent(eventType string, attributes map[string]interface{}) {
	if !n.Enabled() {
		return
	}
	if _, ok := attributes["service"]; !ok {
		attributes["service"] = n.serviceName
	}
	n.app.RecordCustomEvent(eventType, attributes)
}

// Shutdown flushes pending data, waiting at most timeout.
func (n *NewRelicClient) Shutdown(timeout time.Duration) {
	if n.Enabled() {
		n.app.Shutdown(timeout)
	}
}
