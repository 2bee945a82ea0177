package poker

import (
	"context"
	"log/slog"
)

// Publisher delivers session snapshots to connected voters.
type Publisher interface {
	// Publish queues snap for every connected voter.
	Publish(snap Snapshot)
	// SendTo delivers snap to a single voter, if connected.
	SendTo(voterName string, snap Snapshot)
	// Close shuts the push channel opened for the given registration of
	// voterName. Channels of a later registration are left alone.
	Close(voterName string, generation uint64)
}

// Ack is returned for every request the session accepted, including no-ops.
type Ack struct {
	Message string
	Changed bool
}

// Dispatcher validates client requests, applies them to the session and
// hands the resulting snapshots to the publisher.
type Dispatcher struct {
	session *Session
	pub     Publisher
}

func NewDispatcher(session *Session, pub Publisher) *Dispatcher {
	return &Dispatcher{
		session: session,
		pub:     pub,
	}
}

// SetPublisher replaces the publisher. It must be called before the
// dispatcher is shared between goroutines.
func (d *Dispatcher) SetPublisher(pub Publisher) {
	d.pub = pub
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	res, err := d.session.Apply(req)
	if err != nil {
		slog.Debug("request rejected", "type", req.Type, "voter", req.VoterName, "error", err)
		return Ack{}, err
	}

	switch {
	case res.Changed:
		d.publish(res.Snapshot)
	case req.Type == RequestRefresh && d.pub != nil:
		d.pub.SendTo(req.VoterName, res.Snapshot)
	}
	d.closeDeparted(res.Departed)

	slog.Debug("request applied",
		"type", req.Type,
		"voter", req.VoterName,
		"changed", res.Changed,
		"status", res.Snapshot.Status,
	)
	return Ack{Message: "OK", Changed: res.Changed}, nil
}

// Joined reports whether the voter has joined and may open a push channel.
func (d *Dispatcher) Joined(name string) bool {
	return d.session.Joined(name)
}

// Registration returns the generation a push channel for name must be
// opened with, or false when name has not joined.
func (d *Dispatcher) Registration(name string) (uint64, bool) {
	return d.session.Registration(name)
}

// Connect records that the push channel opened for registration gen of the
// voter is live.
func (d *Dispatcher) Connect(name string, gen uint64) (Snapshot, error) {
	res, err := d.session.Connect(name, gen)
	if err != nil {
		return Snapshot{}, err
	}
	if res.Changed {
		d.publish(res.Snapshot)
	}
	return res.Snapshot, nil
}

// Disconnect is called by the connection manager when the push channel of
// registration gen closes.
func (d *Dispatcher) Disconnect(name string, gen uint64) {
	res := d.session.Disconnect(name, gen)
	if res.Changed {
		d.publish(res.Snapshot)
	}
	d.closeDeparted(res.Departed)
}

func (d *Dispatcher) Snapshot() Snapshot {
	return d.session.Snapshot()
}

// closeDeparted stops pushing to a voter that is no longer registered.
func (d *Dispatcher) closeDeparted(dep *Departure) {
	if dep == nil || d.pub == nil {
		return
	}
	d.pub.Close(dep.Name, dep.Generation)
}

func (d *Dispatcher) publish(snap Snapshot) {
	if d.pub == nil {
		return
	}
	d.pub.Publish(snap)
}
