package jobqueue

import (
	"os"
	"time"

	"github.com/riverqueue/river"
)

// QueueCritical is the dedicated queue for safety-critical escalation
// deliveries.
const QueueCritical = "critical"

// QueueConfig holds the tunable parameters for the delivery queue.
type QueueConfig struct {
	// MaxWorkers is the number of concurrent workers on the default queue.
	MaxWorkers int

	// CriticalWorkers is the number of workers reserved for the critical
	// queue. Kept separate so routine notification bursts cannot starve
	// safety escalations.
	CriticalWorkers int

	// MaxRetries is the maximum retry attempts per job.
	MaxRetries int

	// JobTimeout bounds a single delivery attempt.
	JobTimeout time.Duration
}

// DefaultQueueConfig returns settings suitable for a single-node deployment.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:      10,
		CriticalWorkers: 4,
		MaxRetries:      25,
		JobTimeout:      time.Minute,
	}
}

// DevelopmentQueueConfig fails fast for local iteration.
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 3
	config.CriticalWorkers = 1
	config.MaxRetries = 5
	config.JobTimeout = 15 * time.Second
	return config
}

// GetQueueConfig picks the configuration for the current environment.
func GetQueueConfig() *QueueConfig {
	if os.Getenv("RIDEDESK_ENV") == "development" {
		return DevelopmentQueueConfig()
	}
	return DefaultQueueConfig()
}

// RiverQueueConfig converts the config to River's queue map.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: c.MaxWorkers},
		QueueCritical:      {MaxWorkers: c.CriticalWorkers},
	}
}
