package poker

import (
	"fmt"
	"sync"
)

const (
	msgWaiting    = "Waiting for a vote to start."
	msgInProgress = "Voting in progress."
	msgComplete   = "Voting complete."
	msgCanceled   = "Voting canceled."
)

// DisconnectPolicy decides what happens to a voter whose push channel closes.
type DisconnectPolicy string

const (
	// DisconnectMark keeps the voter and its card, flagged as disconnected.
	DisconnectMark DisconnectPolicy = "mark"
	// DisconnectRemove removes the voter as if it had left.
	DisconnectRemove DisconnectPolicy = "remove"
)

func (p DisconnectPolicy) Valid() bool {
	return p == DisconnectMark || p == DisconnectRemove
}

type Options struct {
	DisconnectPolicy DisconnectPolicy
	// AutoEndVote closes the round as soon as every voter has played a card.
	AutoEndVote bool
}

// Snapshot is a point-in-time copy of the session, safe to retain.
type Snapshot struct {
	Version    uint64
	Status     RoundStatus
	Message    string
	Average    int
	HasAverage bool
	Voters     []Voter
}

// Departure names a registration that ended, by leaving, being dropped or
// being removed after its push channel failed.
type Departure struct {
	Name       string
	Generation uint64
}

// Result reports the outcome of a state transition.
type Result struct {
	Snapshot Snapshot
	// Changed is false when the request was a legal no-op for the current state.
	Changed bool
	// Departed is set when the transition removed a voter.
	Departed *Departure
}

// Session is the single shared voting session. All mutations are serialized
// by mu; snapshots are copied out under the lock.
type Session struct {
	mu       sync.Mutex
	opts     Options
	registry *Registry
	ledger   *Ledger
	status   RoundStatus
	message  string
	average  int
	version  uint64
}

func NewSession(opts Options) *Session {
	if !opts.DisconnectPolicy.Valid() {
		opts.DisconnectPolicy = DisconnectMark
	}
	reg := NewRegistry()
	return &Session{
		opts:     opts,
		registry: reg,
		ledger:   NewLedger(reg),
		status:   NoVote,
		message:  msgWaiting,
	}
}

// Apply runs one request through the state machine.
func (s *Session) Apply(req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, requestError(req, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed, departed, err := s.apply(req)
	if err != nil {
		return Result{}, requestError(req, err)
	}
	if changed {
		s.version++
	}
	return Result{Snapshot: s.snapshotLocked(), Changed: changed, Departed: departed}, nil
}

func (s *Session) apply(req Request) (bool, *Departure, error) {
	switch req.Type {
	case RequestJoin:
		if err := s.registry.Add(req.VoterName); err != nil {
			return false, nil, err
		}
		s.message = "A new voter joined: " + req.VoterName
		return true, nil, nil

	case RequestRefresh:
		return false, nil, nil

	case RequestVote:
		changed, err := s.vote(req)
		return changed, nil, err
	}

	// The remaining requests come from voters acting on the session.
	if !s.registry.Has(req.VoterName) {
		return false, nil, ErrVoterNotFound
	}

	switch req.Type {
	case RequestLeave:
		departed := s.remove(req.VoterName)
		s.message = "A voter left: " + req.VoterName
		s.maybeAutoEnd()
		return true, departed, nil

	case RequestDropVoter:
		departed := s.remove(req.Info)
		if departed == nil {
			return false, nil, nil
		}
		s.message = "A voter was dropped: " + req.Info
		s.maybeAutoEnd()
		return true, departed, nil

	case RequestStartVote:
		// Starting again while a round is open restarts it with a clean ledger.
		s.ledger.ResetAll()
		s.status = InProgress
		s.average = 0
		s.message = msgInProgress
		return true, nil, nil

	case RequestEndVote:
		if s.status != InProgress {
			return false, nil, nil
		}
		s.closeRound()
		return true, nil, nil

	case RequestCancelVote:
		if s.status != InProgress {
			return false, nil, nil
		}
		s.ledger.ResetAll()
		s.status = NoVote
		s.message = msgCanceled
		return true, nil, nil
	}

	return false, nil, fmt.Errorf("%w: unhandled request type %q", ErrMalformedRequest, req.Type)
}

func (s *Session) vote(req Request) (bool, error) {
	if s.status != InProgress {
		return false, nil
	}
	if !s.registry.Has(req.VoterName) {
		// The voter left while its vote was in flight.
		return false, nil
	}
	value, ok := req.Vote.Value()
	if !ok {
		return false, ErrOutOfRange
	}
	if err := s.ledger.RecordVote(req.VoterName, value); err != nil {
		return false, err
	}
	s.maybeAutoEnd()
	return true, nil
}

// remove unregisters name and returns the registration that ended, or nil.
func (s *Session) remove(name string) *Departure {
	gen, ok := s.registry.Generation(name)
	if !ok {
		return nil
	}
	s.registry.Remove(name)
	return &Departure{Name: name, Generation: gen}
}

func (s *Session) closeRound() {
	s.average = s.ledger.Average()
	s.status = Closed
	s.message = msgComplete
}

func (s *Session) maybeAutoEnd() {
	if s.opts.AutoEndVote && s.status == InProgress && s.ledger.AllVoted() {
		s.closeRound()
	}
}

// Joined reports whether name is a registered voter.
func (s *Session) Joined(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Has(name)
}

// Registration returns the generation of the voter registered as name.
func (s *Session) Registration(name string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Generation(name)
}

// Connect marks the voter's push channel as live. gen must be the
// registration the channel was opened for; a voter that has left and joined
// again since is reported as not found.
func (s *Session) Connect(name string, gen uint64) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.registry.Generation(name); !ok || cur != gen {
		return Result{}, ErrVoterNotFound
	}
	changed := s.registry.SetConnected(name, true)
	if changed {
		s.message = "A voter connected: " + name
		s.version++
	}
	return Result{Snapshot: s.snapshotLocked(), Changed: changed}, nil
}

// Disconnect applies the disconnect policy to a voter whose push channel
// closed. Unknown voters and channels opened for an earlier registration of
// the same name are ignored.
func (s *Session) Disconnect(name string, gen uint64) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.registry.Generation(name); !ok || cur != gen {
		return Result{Snapshot: s.snapshotLocked()}
	}

	changed := false
	var departed *Departure
	switch s.opts.DisconnectPolicy {
	case DisconnectRemove:
		departed = s.remove(name)
		s.message = "A voter dropped because of comm errors: " + name
		s.maybeAutoEnd()
		changed = true
	default:
		if s.registry.SetConnected(name, false) {
			s.message = "A voter disconnected: " + name
			changed = true
		}
	}
	if changed {
		s.version++
	}
	return Result{Snapshot: s.snapshotLocked(), Changed: changed, Departed: departed}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version: s.version,
		Status:  s.status,
		Message: s.message,
		Voters:  s.registry.All(),
	}
	if s.status == Closed {
		snap.Average = s.average
		snap.HasAverage = true
	}
	return snap
}
