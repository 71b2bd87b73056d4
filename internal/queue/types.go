package queue

import (
	"errors"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Delivery is one authorized webhook delivery awaiting (or having
// finished) dispatch to application handlers.
type Delivery struct {
	ID               string
	GitHubDeliveryID string
	Event            string
	Payload          []byte
	DedupeKey        string
	Status           Status
	Attempt          int
	MaxAttempts      int
	ReceivedFrom     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	NextRetryAt      *time.Time
	LastError        *string
}

// EnqueueRequest records a newly authorized delivery.
type EnqueueRequest struct {
	Event            string
	GitHubDeliveryID string
	Payload          []byte
	DedupeKey        string
	MaxAttempts      int
	ReceivedFrom     string
}

var ErrDeliveryNotFound = errors.New("delivery not found")

// LogEntry is a lightweight projection of archived deliveries for the
// admin API.
type LogEntry struct {
	ID          string    `json:"id"`
	Event       string    `json:"event"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
	LastError   *string   `json:"last_error,omitempty"`
}
