package model

import "time"

// Status indicates whether a participant currently owns a live connection.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultRadiusMeters is applied when a connecting participant omits a radius.
const DefaultRadiusMeters = 1000.0

// Participant is a geographically-aware member of the system. The directory
// owns the lifecycle of every Participant; other components work on copies.
type Participant struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
	Status    Status  `json:"status"`
}

// Online reports whether the participant's status is online.
func (p Participant) Online() bool {
	return p.Status == StatusOnline
}

// RoutedMessage is one audited delivery, live or queued.
type RoutedMessage struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Mode      string    `json:"mode"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeadLetter captures an async payload that was discarded instead of
// requeued.
type DeadLetter struct {
	Queue     string    `json:"queue"`
	Payload   string    `json:"payload"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
