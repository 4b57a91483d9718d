package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	transitions       metric.Int64Counter
	paymentCallbacks  metric.Int64Counter
	eventsPublished   metric.Int64Counter
	eventsDropped     metric.Int64Counter
	ledgerMismatches  metric.Int64Counter
	ledgerRecomputes  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
	unreadIncrements  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New registers the domain counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "penwork"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	for _, c := range []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.transitions, "penwork_assignment_transitions_total", "Assignment state machine actions by outcome."},
		{&m.paymentCallbacks, "penwork_payment_callbacks_total", "Gateway notifications by outcome."},
		{&m.eventsPublished, "penwork_events_published_total", "Realtime events handed to the hub."},
		{&m.eventsDropped, "penwork_events_dropped_total", "Realtime events that never reached a subscriber."},
		{&m.ledgerMismatches, "penwork_ledger_inconsistencies_total", "Cached paysheets that disagreed with a fresh recompute."},
		{&m.ledgerRecomputes, "penwork_ledger_recomputes_total", "Paysheet recomputations by trigger."},
		{&m.rateLimitDenied, "penwork_rate_limit_denied_total", "Rejected gateway checkout requests."},
		{&m.unreadIncrements, "penwork_unread_increments_total", "Unread counters bumped by new messages."},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil || n <= 0 {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

// RecordTransition counts state machine outcomes per action.
func (m *Metrics) RecordTransition(ctx context.Context, action, result string) {
	if m != nil {
		m.add(ctx, m.transitions, 1, label("action", action), label("result", result))
	}
}

func (m *Metrics) RecordPaymentCallback(ctx context.Context, provider, result string) {
	if m != nil {
		m.add(ctx, m.paymentCallbacks, 1, label("provider", provider), label("result", result))
	}
}

func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	if m != nil {
		m.add(ctx, m.eventsPublished, 1, label("event_type", eventType))
	}
}

// RecordEventDropped counts events lost to a full queue or subscriber buffer.
func (m *Metrics) RecordEventDropped(ctx context.Context, eventType, reason string) {
	if m != nil {
		m.add(ctx, m.eventsDropped, 1, label("event_type", eventType), label("reason", reason))
	}
}

func (m *Metrics) RecordLedgerInconsistency(ctx context.Context) {
	if m != nil {
		m.add(ctx, m.ledgerMismatches, 1)
	}
}

func (m *Metrics) RecordLedgerRecompute(ctx context.Context, reason string) {
	if m != nil {
		m.add(ctx, m.ledgerRecomputes, 1, label("reason", reason))
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m != nil {
		m.add(ctx, m.rateLimitDenied, 1, label("endpoint", endpoint))
	}
}

func (m *Metrics) RecordUnreadIncrement(ctx context.Context, count int) {
	if m != nil {
		m.add(ctx, m.unreadIncrements, int64(count))
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"action":      {},
	"result":      {},
	"endpoint":    {},
	"status_code": {},
	"route":       {},
	"method":      {},
	"provider":    {},
	"event_type":  {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
