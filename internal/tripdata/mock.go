package tripdata

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
)

// MockProvider generates deterministic dummy trip data keyed off the booking
// and driver ids. It stands in for the real booking/driver/payment services
// in the reference deployment and in tests.
type MockProvider struct {
	mu            sync.Mutex
	bookings      map[string]*Booking
	notifications []string
	cancelled     map[string]bool
	now           func() time.Time

	// Overrides let tests pin specific values or force failures.
	EtaOverride        *int
	FailReads          bool
	BookingAgeOverride *time.Duration
}

// NewMockProvider builds an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		bookings:  make(map[string]*Booking),
		cancelled: make(map[string]bool),
		now:       time.Now,
	}
}

func (m *MockProvider) Booking(ctx context.Context, bookingID string) (*Booking, error) {
	if err := m.checkReads(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[bookingID]; ok {
		return cloneBooking(b), nil
	}

	age := 5 * time.Minute
	if m.BookingAgeOverride != nil {
		age = *m.BookingAgeOverride
	}
	b := &Booking{
		ID:         bookingID,
		Status:     "driver_assigned",
		Pickup:     pick(bookingID, pickups),
		Dropoff:    pick(bookingID+"/d", dropoffs),
		Fare:       float64(8 + seed(bookingID)%22),
		DistanceKm: float64(2+seed(bookingID)%12) + 0.5,
		CreatedAt:  m.now().Add(-age),
		DriverID:   fmt.Sprintf("drv-%d", 100+seed(bookingID)%900),
	}
	m.bookings[bookingID] = b
	return cloneBooking(b), nil
}

func (m *MockProvider) Driver(ctx context.Context, driverID string) (*Driver, error) {
	if err := m.checkReads(ctx); err != nil {
		return nil, err
	}

	eta := 3 + int(seed(driverID)%15)
	if m.EtaOverride != nil {
		eta = *m.EtaOverride
	}
	return &Driver{
		ID:         driverID,
		Name:       pick(driverID, driverNames),
		Rating:     4.2 + float64(seed(driverID)%8)/10,
		Vehicle:    pick(driverID+"/v", vehicles),
		Plate:      fmt.Sprintf("KA-%02d-%04d", seed(driverID)%100, 1000+seed(driverID)%9000),
		Location:   pick(driverID+"/l", locations),
		EtaMinutes: eta,
		Phone:      fmt.Sprintf("+1-555-%04d", seed(driverID)%10000),
		Status:     "en_route",
	}, nil
}

func (m *MockProvider) Traffic(ctx context.Context, bookingID string) (*Traffic, error) {
	if err := m.checkReads(ctx); err != nil {
		return nil, err
	}

	levels := []string{"light", "moderate", "heavy"}
	level := levels[seed(bookingID)%3]
	delay := map[string]int{"light": 0, "moderate": 5, "heavy": 12}[level]
	return &Traffic{
		Congestion:   level,
		DelayMinutes: delay,
		AvgSpeedKmh:  float64(50 - 12*delay/5),
	}, nil
}

func (m *MockProvider) SendNotification(ctx context.Context, recipientID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, recipientID+": "+message)
	log.Info().Str("recipient", recipientID).Msg("mock notification sent")
	return nil
}

func (m *MockProvider) CancelBooking(ctx context.Context, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[bookingID] = true
	return nil
}

// Notifications returns the messages sent so far, for test assertions.
func (m *MockProvider) Notifications() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.notifications))
	copy(out, m.notifications)
	return out
}

// SetBookingAge pins the creation time of subsequently generated bookings to
// now minus age. Used to exercise the cancellation grace-period branches.
func (m *MockProvider) SetBookingAge(age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BookingAgeOverride = &age
	m.bookings = make(map[string]*Booking)
}

func (m *MockProvider) checkReads(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailReads {
		return fmt.Errorf("mock provider: reads disabled: %w", chatmodel.ErrUpstreamUnavailable)
	}
	return nil
}

func cloneBooking(b *Booking) *Booking {
	c := *b
	return &c
}

func seed(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % 100000)
}

func pick(key string, options []string) string {
	return options[seed(key)%len(options)]
}

var (
	pickups     = []string{"12 Harbor St", "Central Station", "Maple & 5th", "Airport Terminal 2", "Riverside Mall"}
	dropoffs    = []string{"Oak Plaza", "Tech Park Gate 3", "City Hospital", "Union Square", "Lakeview Apartments"}
	driverNames = []string{"Arjun Mehta", "Maria Santos", "Deshawn Carter", "Wei Lin", "Fatima Noor"}
	vehicles    = []string{"white Toyota Prius", "silver Honda City", "blue Hyundai i20", "black Suzuki Dzire"}
	locations   = []string{"2 blocks north of pickup", "crossing Main St", "near the flyover", "at the signal on 7th Ave"}
)
