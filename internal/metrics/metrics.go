package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

var (
	// Reservation counters
	ReservationsTotal    metric.Int64Counter
	ReservationConflicts metric.Int64Counter

	// Booking transitions
	BookingTransitions metric.Int64Counter

	// Webhook outcomes
	WebhookNotifications metric.Int64Counter

	// Sweeper
	SweepBookings metric.Int64Counter
	SweepDuration metric.Float64Histogram

	// Best-effort collaborators
	SideEffectFailures metric.Int64Counter

	// Gateway latency
	GatewayDuration metric.Float64Histogram

	// Gauges
	WaitingForPayment metric.Int64UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all booking metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	ReservationsTotal, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "ticket_reservations_total",
		Description: "Ticket reservation attempts by outcome",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ReservationConflicts, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "ticket_reservation_version_conflicts_total",
		Description: "Version conflicts observed while reserving tickets",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	BookingTransitions, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_transitions_total",
		Description: "Booking state transitions by target status",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	WebhookNotifications, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_webhook_notifications_total",
		Description: "Payment notifications by provider and outcome",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SweepBookings, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_sweep_bookings_total",
		Description: "Bookings handled by the expiration sweeper by result",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SweepDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "booking_sweep_duration_seconds",
		Description: "Duration of one expiration sweep",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60})
	if err != nil {
		return err
	}

	SideEffectFailures, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_side_effect_failures_total",
		Description: "Failed best-effort mirror and notification calls",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	GatewayDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_gateway_request_duration_seconds",
		Description: "Payment gateway order creation latency",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	WaitingForPayment, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "booking_waiting_for_payment",
		Description: "Bookings currently waiting for a payment result",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordReservation records a reservation outcome
func RecordReservation(ctx context.Context, outcome string, attempts int) {
	if ReservationsTotal != nil {
		ReservationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Int("attempts", attempts),
		))
	}
}

// RecordReservationConflict records one lost compare-and-swap
func RecordReservationConflict(ctx context.Context) {
	if ReservationConflicts != nil {
		ReservationConflicts.Add(ctx, 1)
	}
}

// RecordBookingTransition records a booking moving into status
func RecordBookingTransition(ctx context.Context, from, to string) {
	if BookingTransitions != nil {
		BookingTransitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
	if WaitingForPayment == nil {
		return
	}
	if to == "WAITING_FOR_PAYMENT" {
		WaitingForPayment.Add(ctx, 1)
	} else if from == "WAITING_FOR_PAYMENT" {
		WaitingForPayment.Add(ctx, -1)
	}
}

// RecordWebhook records how a payment notification was handled
func RecordWebhook(ctx context.Context, provider, outcome string) {
	if WebhookNotifications != nil {
		WebhookNotifications.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordSweep records the result of one sweep
func RecordSweep(ctx context.Context, succeeded, failed int, duration time.Duration) {
	if SweepBookings != nil {
		SweepBookings.Add(ctx, int64(succeeded), metric.WithAttributes(attribute.String("result", "succeeded")))
		SweepBookings.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("result", "failed")))
	}
	if SweepDuration != nil {
		SweepDuration.Record(ctx, duration.Seconds())
	}
}

// RecordSideEffectFailure records a failed best-effort call
func RecordSideEffectFailure(ctx context.Context, collaborator string) {
	if SideEffectFailures != nil {
		SideEffectFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("collaborator", collaborator)))
	}
}

// RecordGatewayCall records gateway latency
func RecordGatewayCall(ctx context.Context, provider string, success bool, duration time.Duration) {
	if GatewayDuration != nil {
		GatewayDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.Bool("success", success),
		))
	}
}
