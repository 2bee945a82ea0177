package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/planning-poker/planpoker/internal/poker"
)

// Defaults used by the tolerant decoder when a field is missing or invalid.
const (
	DefaultMessage   = "Received an invalid server update!"
	DefaultVoterName = "!error!"
)

// DecodeServerUpdate parses a pushed update field by field. Any field of the
// wrong type or outside its range is replaced by its default; a bad field
// never prevents the others from being read, and the call never fails.
//
//	field            valid                    default
//	message          non-empty string         DefaultMessage
//	voteStatus       integer in [0, 2]        0
//	averageVote      integer in [0, MaxVote]  -1
//	voters           array                    []
//	voters.name      string                   DefaultVoterName
//	voters.hasVoted  bool                     false
//	voters.vote      integer in [0, MaxVote]  -1
func DecodeServerUpdate(data []byte) ServerUpdate {
	u := ServerUpdate{
		Message:     DefaultMessage,
		VoteStatus:  int(poker.NoVote),
		AverageVote: Sentinel,
		Voters:      []VoterUpdate{},
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return u
	}

	if s, ok := stringField(fields["message"]); ok && s != "" {
		u.Message = s
	}
	if n, ok := intField(fields["voteStatus"]); ok && poker.RoundStatus(n).Valid() {
		u.VoteStatus = n
	}
	if n, ok := intField(fields["averageVote"]); ok && poker.ValidCard(n) {
		u.AverageVote = n
	}

	var voters []json.RawMessage
	if raw, ok := fields["voters"]; ok && json.Unmarshal(raw, &voters) == nil {
		for _, rv := range voters {
			u.Voters = append(u.Voters, decodeVoter(rv))
		}
	}
	return u
}

func decodeVoter(data json.RawMessage) VoterUpdate {
	v := VoterUpdate{Name: DefaultVoterName, Vote: Sentinel}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return v
	}

	if s, ok := stringField(fields["name"]); ok {
		v.Name = s
	}
	var hasVoted bool
	if raw, ok := fields["hasVoted"]; ok && json.Unmarshal(raw, &hasVoted) == nil {
		v.HasVoted = hasVoted
	}
	if n, ok := intField(fields["vote"]); ok && poker.ValidCard(n) {
		v.Vote = n
	}
	return v
}

func stringField(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// intField accepts JSON numbers with an integral value only; quoted numbers
// and fractions are rejected.
func intField(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}
