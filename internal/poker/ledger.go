package poker

// Ledger tracks the cards played by registered voters.
type Ledger struct {
	reg *Registry
}

func NewLedger(reg *Registry) *Ledger {
	return &Ledger{reg: reg}
}

func (l *Ledger) RecordVote(name string, value int) error {
	v := l.reg.lookup(name)
	if v == nil {
		return ErrVoterNotFound
	}
	if !ValidCard(value) {
		return ErrOutOfRange
	}
	v.Vote = Card(value)
	return nil
}

// ResetAll clears every voter's card.
func (l *Ledger) ResetAll() {
	l.reg.each(func(v *Voter) {
		v.Vote = Estimate{}
	})
}

// Average returns the mean of the countable votes rounded half up, or 0 when
// nobody played a countable card.
func (l *Ledger) Average() int {
	sum, count := 0, 0
	l.reg.each(func(v *Voter) {
		if !v.Vote.Countable() {
			return
		}
		n, _ := v.Vote.Value()
		sum += n
		count++
	})
	if count == 0 {
		return 0
	}
	return roundHalfUp(sum, count)
}

// AllVoted reports whether there is at least one voter and every voter has
// played a card.
func (l *Ledger) AllVoted() bool {
	if l.reg.Len() == 0 {
		return false
	}
	all := true
	l.reg.each(func(v *Voter) {
		if !v.HasVoted() {
			all = false
		}
	})
	return all
}

// roundHalfUp divides non-negative sum by positive count, rounding .5 up.
func roundHalfUp(sum, count int) int {
	return (2*sum + count) / (2 * count)
}
