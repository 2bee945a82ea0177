package poker

import "strings"

// Registry holds the voters joined to the session in join order.
// It is not safe for concurrent use; Session serializes access.
type Registry struct {
	order  []string
	voters map[string]*Voter
	// gens numbers each registration so a name that leaves and joins again
	// is told apart from its earlier self.
	gens map[string]uint64
	seq  uint64
}

func NewRegistry() *Registry {
	return &Registry{
		voters: make(map[string]*Voter),
		gens:   make(map[string]uint64),
	}
}

func (r *Registry) Add(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrMalformedRequest
	}
	if _, ok := r.voters[name]; ok {
		return ErrDuplicateVoter
	}
	r.seq++
	r.voters[name] = &Voter{Name: name}
	r.gens[name] = r.seq
	r.order = append(r.order, name)
	return nil
}

// Remove deletes the voter and reports whether it was present.
func (r *Registry) Remove(name string) bool {
	if _, ok := r.voters[name]; !ok {
		return false
	}
	delete(r.voters, name)
	delete(r.gens, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Get(name string) (Voter, bool) {
	v, ok := r.voters[name]
	if !ok {
		return Voter{}, false
	}
	return *v, true
}

// Generation returns the registration number of the voter currently holding
// name. Numbers are never reused.
func (r *Registry) Generation(name string) (uint64, bool) {
	gen, ok := r.gens[name]
	return gen, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.voters[name]
	return ok
}

// All returns copies of every voter in join order.
func (r *Registry) All() []Voter {
	out := make([]Voter, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, *r.voters[n])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// SetConnected updates the voter's push channel flag and reports whether
// anything changed.
func (r *Registry) SetConnected(name string, connected bool) bool {
	v, ok := r.voters[name]
	if !ok || v.Connected == connected {
		return false
	}
	v.Connected = connected
	return true
}

func (r *Registry) lookup(name string) *Voter {
	return r.voters[name]
}

func (r *Registry) each(fn func(v *Voter)) {
	for _, n := range r.order {
		fn(r.voters[n])
	}
}
