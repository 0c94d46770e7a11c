// Package tripdata defines the external booking/driver/traffic collaborator
// consumed by the chat core, along with an HTTP client, a caching decorator
// and a deterministic mock used by the reference deployment.
package tripdata

import (
	"context"
	"sync"
	"time"
)

// Booking is the read shape returned by the external booking service.
type Booking struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Pickup     string    `json:"pickup"`
	Dropoff    string    `json:"dropoff"`
	Fare       float64   `json:"fare"`
	DistanceKm float64   `json:"distance_km"`
	CreatedAt  time.Time `json:"created_at"`
	DriverID   string    `json:"driver_id"`
}

// Driver is the read shape returned by the external driver service.
type Driver struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Rating     float64 `json:"rating"`
	Vehicle    string  `json:"vehicle"`
	Plate      string  `json:"plate"`
	Location   string  `json:"location"`
	EtaMinutes int     `json:"eta_minutes"`
	Phone      string  `json:"phone"`
	Status     string  `json:"status"`
}

// Traffic is the coarse congestion snapshot around the trip.
type Traffic struct {
	Congestion   string  `json:"congestion"`
	DelayMinutes int     `json:"delay_minutes"`
	AvgSpeedKmh  float64 `json:"avg_speed_kmh"`
}

// Snapshot bundles the three reads a turn needs.
type Snapshot struct {
	Booking *Booking
	Driver  *Driver
	Traffic *Traffic
}

// Provider is the external trip/driver data collaborator. Read failures and
// timeouts surface as chatmodel.ErrUpstreamUnavailable so the caller can
// apply the escalate-to-support policy.
type Provider interface {
	Booking(ctx context.Context, bookingID string) (*Booking, error)
	Driver(ctx context.Context, driverID string) (*Driver, error)
	Traffic(ctx context.Context, bookingID string) (*Traffic, error)
	SendNotification(ctx context.Context, recipientID, message string) error
	CancelBooking(ctx context.Context, bookingID string) error
}

// FetchSnapshot issues the booking, driver and traffic reads concurrently and
// waits for all of them. Any single failure fails the snapshot; the caller
// treats that the same as an upstream outage.
func FetchSnapshot(ctx context.Context, p Provider, bookingID, driverID string) (*Snapshot, error) {
	snap := &Snapshot{}
	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		snap.Booking, errs[0] = p.Booking(ctx, bookingID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if driverID == "" {
			return
		}
		snap.Driver, errs[1] = p.Driver(ctx, driverID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		snap.Traffic, errs[2] = p.Traffic(ctx, bookingID)
	}()

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// A booking with an assigned driver still needs the driver read even if
	// the caller did not know the driver id yet.
	if snap.Driver == nil && snap.Booking != nil && snap.Booking.DriverID != "" {
		driver, err := p.Driver(ctx, snap.Booking.DriverID)
		if err != nil {
			return nil, err
		}
		snap.Driver = driver
	}
	return snap, nil
}
