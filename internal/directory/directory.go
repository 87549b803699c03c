// Package directory keeps the in-memory registry of connected participants
// and their live transport handles. It is the only state shared between
// execution contexts; every operation runs inside one directory-wide mutex so
// readers always observe a consistent snapshot.
package directory

import (
	"errors"
	"sort"
	"sync"

	"geochat/go-geochat-server/internal/event"
	"geochat/go-geochat-server/internal/model"
	"geochat/go-geochat-server/internal/protocol"
)

var (
	// ErrDuplicateName is returned when registering a name already present.
	ErrDuplicateName = errors.New("directory: name already registered")
	// ErrNotFound is returned by operations referencing an absent participant.
	ErrNotFound = errors.New("directory: participant not found")
	// ErrInvalidRadius is returned when a radius is not strictly positive.
	ErrInvalidRadius = errors.New("directory: radius must be greater than zero")
)

// Transport is the live connection handle a participant owns while online.
// Implementations must be safe for use by multiple execution contexts.
type Transport interface {
	Deliver(env protocol.Envelope) error
}

type member struct {
	participant model.Participant
	transport   Transport
}

// Directory owns the lifecycle of every registered Participant. Callers only
// ever receive copies; the live entries never leave the ownership boundary.
type Directory struct {
	mu       sync.Mutex
	members  map[string]*member
	notifier *event.Notifier
}

// New returns an empty directory. The notifier may be nil.
func New(notifier *event.Notifier) *Directory {
	return &Directory{
		members:  make(map[string]*member),
		notifier: notifier,
	}
}

// Register stores the participant, marks it online and attaches its live
// transport handle. Registration fails with ErrDuplicateName if the name is
// taken and leaves the original entry untouched.
func (d *Directory) Register(p model.Participant, t Transport) error {
	if p.Radius <= 0 {
		return ErrInvalidRadius
	}

	d.mu.Lock()
	if _, ok := d.members[p.Name]; ok {
		d.mu.Unlock()
		return ErrDuplicateName
	}
	p.Status = model.StatusOnline
	d.members[p.Name] = &member{participant: p, transport: t}
	d.mu.Unlock()

	if d.notifier != nil {
		d.notifier.Publish(event.Event{Kind: event.KindParticipantConnected, Participant: p})
	}
	return nil
}

// Unregister removes the entry if present and reports whether it existed.
// Removal triggers a disconnect event; unregistering an absent name is a
// no-op.
func (d *Directory) Unregister(name string) bool {
	d.mu.Lock()
	m, ok := d.members[name]
	if ok {
		delete(d.members, name)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	if d.notifier != nil {
		p := m.participant
		p.Status = model.StatusOffline
		d.notifier.Publish(event.Event{Kind: event.KindParticipantDisconnected, Participant: p})
	}
	return true
}

// UpdateLocation mutates the stored coordinates in place.
func (d *Directory) UpdateLocation(name string, lat, lon float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[name]
	if !ok {
		return ErrNotFound
	}
	m.participant.Latitude = lat
	m.participant.Longitude = lon
	return nil
}

// UpdateRadius replaces the stored communication radius; the new value must
// be strictly positive.
func (d *Directory) UpdateRadius(name string, radius float64) error {
	if radius <= 0 {
		return ErrInvalidRadius
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[name]
	if !ok {
		return ErrNotFound
	}
	m.participant.Radius = radius
	return nil
}

// Lookup returns a copy of the named participant.
func (d *Directory) Lookup(name string) (model.Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[name]
	if !ok {
		return model.Participant{}, false
	}
	return m.participant, true
}

// LookupTransport returns the participant copy together with its live
// transport handle so the caller can deliver outside the lock.
func (d *Directory) LookupTransport(name string) (model.Participant, Transport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.members[name]
	if !ok {
		return model.Participant{}, nil, false
	}
	return m.participant, m.transport, true
}

// Snapshot returns a point-in-time copy of every participant ordered by name.
func (d *Directory) Snapshot() []model.Participant {
	d.mu.Lock()
	out := make([]model.Participant, 0, len(d.members))
	for _, m := range d.members {
		out = append(out, m.participant)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of registered participants.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.members)
}
