package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// ReservationMirror tells the upstream event provider about reservation changes
type ReservationMirror interface {
	Notify(ctx context.Context, ticketID, bookingID uuid.UUID, kind domain.MirrorKind) error
}

var mirrorPaths = map[domain.MirrorKind]string{
	domain.MirrorReserved:  "/external/reserveTicket",
	domain.MirrorReleased:  "/external/cancelTicket",
	domain.MirrorPurchased: "/external/confirmTicket",
}

// HTTPReservationMirror posts reservation changes to the event provider
type HTTPReservationMirror struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPReservationMirror creates a mirror bounded by timeout
func NewHTTPReservationMirror(baseURL string, timeout time.Duration) *HTTPReservationMirror {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPReservationMirror{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type mirrorRequest struct {
	TicketID  uuid.UUID `json:"ticketId"`
	BookingID uuid.UUID `json:"bookingId"`
}

// Notify posts {ticketId, bookingId} to the path for kind
func (m *HTTPReservationMirror) Notify(ctx context.Context, ticketID, bookingID uuid.UUID, kind domain.MirrorKind) error {
	ctx, span := telemetry.StartSpan(ctx, "mirror.notify")
	defer span.End()

	path, ok := mirrorPaths[kind]
	if !ok {
		return fmt.Errorf("unknown mirror kind %q", kind)
	}

	body, err := json.Marshal(mirrorRequest{TicketID: ticketID, BookingID: bookingID})
	if err != nil {
		return fmt.Errorf("failed to encode mirror request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mirror request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	telemetry.InjectHeaders(ctx, req.Header)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("mirror %s returned %d", path, resp.StatusCode)
		telemetry.SetSpanError(span, err)
		return err
	}

	telemetry.SetSpanOK(span)
	return nil
}

// NoOpReservationMirror ignores reservation changes
type NoOpReservationMirror struct{}

// NewNoOpReservationMirror creates a new no-op mirror
func NewNoOpReservationMirror() *NoOpReservationMirror {
	return &NoOpReservationMirror{}
}

// Notify is a no-op
func (m *NoOpReservationMirror) Notify(ctx context.Context, ticketID, bookingID uuid.UUID, kind domain.MirrorKind) error {
	return nil
}
