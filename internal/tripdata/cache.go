package tripdata

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedProvider wraps another provider with short TTL caches. Bookings and
// drivers change slowly inside a single conversation; traffic is the most
// volatile so it gets the shortest TTL.
type CachedProvider struct {
	inner    Provider
	bookings *gocache.Cache
	drivers  *gocache.Cache
	traffic  *gocache.Cache
}

// NewCachedProvider builds the caching decorator around inner.
func NewCachedProvider(inner Provider) *CachedProvider {
	return &CachedProvider{
		inner:    inner,
		bookings: gocache.New(30*time.Second, time.Minute),
		drivers:  gocache.New(10*time.Second, time.Minute),
		traffic:  gocache.New(5*time.Second, time.Minute),
	}
}

func (c *CachedProvider) Booking(ctx context.Context, bookingID string) (*Booking, error) {
	if cached, found := c.bookings.Get(bookingID); found {
		return cached.(*Booking), nil
	}
	booking, err := c.inner.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	c.bookings.Set(bookingID, booking, gocache.DefaultExpiration)
	return booking, nil
}

func (c *CachedProvider) Driver(ctx context.Context, driverID string) (*Driver, error) {
	if cached, found := c.drivers.Get(driverID); found {
		return cached.(*Driver), nil
	}
	driver, err := c.inner.Driver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	c.drivers.Set(driverID, driver, gocache.DefaultExpiration)
	return driver, nil
}

func (c *CachedProvider) Traffic(ctx context.Context, bookingID string) (*Traffic, error) {
	if cached, found := c.traffic.Get(bookingID); found {
		return cached.(*Traffic), nil
	}
	traffic, err := c.inner.Traffic(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	c.traffic.Set(bookingID, traffic, gocache.DefaultExpiration)
	return traffic, nil
}

// Writes always pass through.

func (c *CachedProvider) SendNotification(ctx context.Context, recipientID, message string) error {
	return c.inner.SendNotification(ctx, recipientID, message)
}

func (c *CachedProvider) CancelBooking(ctx context.Context, bookingID string) error {
	c.bookings.Delete(bookingID)
	return c.inner.CancelBooking(ctx, bookingID)
}
