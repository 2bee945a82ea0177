package poker

// MaxVote is the highest card index a voter can play. Card 0 is the "?" card.
const MaxVote = 11

// Estimate is a card played in the current round. The zero value means the
// voter has not played a card.
type Estimate struct {
	value int
	set   bool
}

// Card returns an Estimate holding v. Callers check ValidCard first.
func Card(v int) Estimate {
	return Estimate{value: v, set: true}
}

// ValidCard reports whether v is a playable card index.
func ValidCard(v int) bool {
	return v >= 0 && v <= MaxVote
}

func (e Estimate) Value() (int, bool) {
	return e.value, e.set
}

func (e Estimate) IsSet() bool {
	return e.set
}

// Countable reports whether the estimate contributes to the round average.
// The "?" card is a valid play but is never averaged.
func (e Estimate) Countable() bool {
	return e.set && e.value > 0
}

type Voter struct {
	Name      string
	Connected bool
	Vote      Estimate
}

func (v Voter) HasVoted() bool {
	return v.Vote.IsSet()
}

type RoundStatus int

const (
	NoVote RoundStatus = iota
	InProgress
	Closed
)

var roundStatusNames = map[RoundStatus]string{
	NoVote:     "no_vote",
	InProgress: "in_progress",
	Closed:     "closed",
}

func (s RoundStatus) String() string {
	if n, ok := roundStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s RoundStatus) Valid() bool {
	_, ok := roundStatusNames[s]
	return ok
}
