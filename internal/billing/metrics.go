package billing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/metinatakli/coursehub/internal/billing"

type metrics struct {
	reconciliations metric.Int64Counter
	refunds         metric.Int64Counter
	commissions     metric.Int64Counter
	tierChanges     metric.Int64Counter
	revenue         metric.Int64Counter
}

// newMetrics registers the billing instruments on the global meter provider.
// Instrument creation only fails on invalid names, in which case the no-op
// instrument returned alongside the error is kept.
func newMetrics() *metrics {
	meter := otel.Meter(meterName)

	reconciliations, _ := meter.Int64Counter("billing.reconciliations",
		metric.WithDescription("Confirmation signals by source and outcome"))
	refunds, _ := meter.Int64Counter("billing.refunds",
		metric.WithDescription("Refund and chargeback signals by outcome"))
	commissions, _ := meter.Int64Counter("billing.commissions",
		metric.WithDescription("Affiliate ledger entries written"),
		metric.WithUnit("{entry}"))
	tierChanges, _ := meter.Int64Counter("billing.subscription.tier_changes",
		metric.WithDescription("Subscription demotions and restorations"))
	revenue, _ := meter.Int64Counter("billing.revenue",
		metric.WithDescription("Gross revenue recognized, in minor units"))

	return &metrics{
		reconciliations: reconciliations,
		refunds:         refunds,
		commissions:     commissions,
		tierChanges:     tierChanges,
		revenue:         revenue,
	}
}

func (m *metrics) reconciled(ctx context.Context, source string, outcome Outcome) {
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", string(outcome)),
	))
}

func (m *metrics) refunded(ctx context.Context, kind string, outcome Outcome) {
	m.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", string(outcome)),
	))
}

func (m *metrics) commission(ctx context.Context, kind string) {
	m.commissions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *metrics) tierChanged(ctx context.Context, direction string) {
	m.tierChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *metrics) recognized(ctx context.Context, currency string, amount int64) {
	m.revenue.Add(ctx, amount, metric.WithAttributes(attribute.String("currency", currency)))
}
