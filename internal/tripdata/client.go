package tripdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ridedesk/internal/chatmodel"
	"github.com/ridedesk/internal/retry"
)

// HTTPProvider talks to the real trip data service over REST. Every call has
// a bounded timeout; a timeout or transport failure is reported as
// ErrUpstreamUnavailable so the orchestrator applies the escalate-to-support
// policy instead of surfacing the raw failure.
type HTTPProvider struct {
	client *resty.Client
	retry  retry.Config
}

// NewHTTPProvider builds a provider against the given base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &HTTPProvider{
		client: client,
		retry:  retry.DefaultConfig(),
	}
}

func (p *HTTPProvider) Booking(ctx context.Context, bookingID string) (*Booking, error) {
	var booking Booking
	if err := p.getJSON(ctx, "booking", "/v1/bookings/{id}", bookingID, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (p *HTTPProvider) Driver(ctx context.Context, driverID string) (*Driver, error) {
	var driver Driver
	if err := p.getJSON(ctx, "driver", "/v1/drivers/{id}", driverID, &driver); err != nil {
		return nil, err
	}
	return &driver, nil
}

func (p *HTTPProvider) Traffic(ctx context.Context, bookingID string) (*Traffic, error) {
	var traffic Traffic
	if err := p.getJSON(ctx, "traffic", "/v1/bookings/{id}/traffic", bookingID, &traffic); err != nil {
		return nil, err
	}
	return &traffic, nil
}

func (p *HTTPProvider) SendNotification(ctx context.Context, recipientID, message string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"recipient_id": recipientID, "message": message}).
		Post("/v1/notifications")
	if err != nil {
		return fmt.Errorf("send notification: %v: %w", err, chatmodel.ErrUpstreamUnavailable)
	}
	if resp.IsError() {
		return fmt.Errorf("send notification: status %d: %w", resp.StatusCode(), chatmodel.ErrUpstreamUnavailable)
	}
	return nil
}

func (p *HTTPProvider) CancelBooking(ctx context.Context, bookingID string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("id", bookingID).
		Post("/v1/bookings/{id}/cancel")
	if err != nil {
		return fmt.Errorf("cancel booking: %v: %w", err, chatmodel.ErrUpstreamUnavailable)
	}
	if resp.IsError() {
		return fmt.Errorf("cancel booking: status %d: %w", resp.StatusCode(), chatmodel.ErrUpstreamUnavailable)
	}
	return nil
}

// getJSON performs a GET with retry/backoff and decodes into out.
func (p *HTTPProvider) getJSON(ctx context.Context, name, path, id string, out interface{}) error {
	result := retry.WithBackoff(ctx, p.retry, "tripdata."+name, func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetPathParam("id", id).
			SetResult(out).
			Get(path)
		if err != nil {
			return err
		}
		if resp.StatusCode() == http.StatusNotFound {
			return fmt.Errorf("%s %s: %w", name, id, chatmodel.ErrNotFound)
		}
		if resp.IsError() {
			return fmt.Errorf("%s %s: status %d", name, id, resp.StatusCode())
		}
		return nil
	})

	if !result.Success {
		err := result.LastError
		if errors.Is(err, chatmodel.ErrNotFound) {
			return err
		}
		return fmt.Errorf("fetch %s %s: %v: %w", name, id, err, chatmodel.ErrUpstreamUnavailable)
	}
	return nil
}
