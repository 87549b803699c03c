// Package routing decides whether an outbound message can be delivered live
// over an open connection or must be handed to the queued delivery path.
package routing

import (
	"geochat/go-geochat-server/internal/geo"
	"geochat/go-geochat-server/internal/model"
)

// Reason explains why queued delivery was chosen.
type Reason string

const (
	ReasonOffline    Reason = "offline"
	ReasonOutOfRange Reason = "out_of_range"
	ReasonForced     Reason = "forced"
)

// Mode is the outcome of classifying a send request.
type Mode string

const (
	ModeLive        Mode = "live"
	ModeQueued      Mode = "queued"
	ModeUnavailable Mode = "unavailable"
)

// Decision pairs the chosen mode with the reason when the mode is queued.
type Decision struct {
	Mode   Mode
	Reason Reason
}

// CanDeliverLive reports whether a message from sender may be forwarded over
// the recipient's live connection: both must be online and the recipient must
// lie within the sender's configured radius. The check is deliberately
// one-sided on the sender's radius; the recipient's own radius is not
// consulted.
func CanDeliverLive(sender, recipient model.Participant) bool {
	if !sender.Online() || !recipient.Online() {
		return false
	}
	dist := geo.Distance(sender.Latitude, sender.Longitude, recipient.Latitude, recipient.Longitude)
	return dist <= sender.Radius
}

// Input captures the facts Classify needs about one send request.
type Input struct {
	SenderOnline    bool
	RecipientStatus model.Status
	InRange         bool
	AsyncAvailable  bool
	// Force requests queued delivery regardless of presence and range.
	Force bool
}

// Classify maps a send request onto live, queued-with-reason, or unavailable.
func Classify(in Input) Decision {
	if in.Force {
		if !in.AsyncAvailable {
			return Decision{Mode: ModeUnavailable}
		}
		return Decision{Mode: ModeQueued, Reason: ReasonForced}
	}

	recipientOnline := in.RecipientStatus == model.StatusOnline
	if in.SenderOnline && recipientOnline && in.InRange {
		return Decision{Mode: ModeLive}
	}

	reason := ReasonOutOfRange
	if !recipientOnline {
		reason = ReasonOffline
	}
	if !in.AsyncAvailable {
		return Decision{Mode: ModeUnavailable}
	}
	return Decision{Mode: ModeQueued, Reason: reason}
}
