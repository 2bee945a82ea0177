// Package protocol defines the JSON wire format shared by the server and its
// clients. The -1 sentinels for "no vote" and "no average" exist only here;
// the poker package works with explicit optional values.
package protocol

import (
	"encoding/json"

	"github.com/planning-poker/planpoker/internal/poker"
)

// Sentinel is the wire value for an absent vote or average.
const Sentinel = -1

// CloseRemoved is the websocket close code the server sends on a push
// channel whose voter left or was dropped. Clients must join again before
// reconnecting.
const CloseRemoved = 4001

// ClientRequest is the body of POST /request.
type ClientRequest struct {
	RequestType string `json:"requestType"`
	VoterName   string `json:"voterName"`
	Vote        int    `json:"vote"`
	Info        string `json:"info,omitempty"`
}

// NewClientRequest builds a request the way clients must: an unknown type or
// a blank voter name fails here, before anything reaches the network.
func NewClientRequest(requestType poker.RequestType, voterName string, vote int, info string) (ClientRequest, error) {
	cr := ClientRequest{
		RequestType: string(requestType),
		VoterName:   voterName,
		Vote:        vote,
		Info:        info,
	}
	if _, err := cr.ToRequest(); err != nil {
		return ClientRequest{}, err
	}
	return cr, nil
}

// UnmarshalJSON defaults Vote to the sentinel when the field is missing.
func (c *ClientRequest) UnmarshalJSON(data []byte) error {
	type plain ClientRequest
	p := plain{Vote: Sentinel}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ClientRequest(p)
	return nil
}

func (c ClientRequest) ToRequest() (poker.Request, error) {
	return poker.NewRequest(c.RequestType, c.VoterName, c.Vote, c.Info)
}

// ServerResponse is the reply to POST /request.
type ServerResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func OK() ServerResponse {
	return ServerResponse{Message: "OK"}
}

func Failure(msg string) ServerResponse {
	if msg == "" {
		msg = "Request failed."
	}
	return ServerResponse{Error: true, Message: msg}
}

// ServerUpdate is pushed to every connected voter after each change.
type ServerUpdate struct {
	Message     string        `json:"message"`
	VoteStatus  int           `json:"voteStatus"`
	AverageVote int           `json:"averageVote"`
	Voters      []VoterUpdate `json:"voters"`
}

type VoterUpdate struct {
	Name     string `json:"name"`
	HasVoted bool   `json:"hasVoted"`
	Vote     int    `json:"vote"`
}

// FromSnapshot translates a session snapshot into its wire form.
func FromSnapshot(snap poker.Snapshot) ServerUpdate {
	u := ServerUpdate{
		Message:     snap.Message,
		VoteStatus:  int(snap.Status),
		AverageVote: Sentinel,
		Voters:      make([]VoterUpdate, 0, len(snap.Voters)),
	}
	if snap.HasAverage {
		u.AverageVote = snap.Average
	}
	for _, v := range snap.Voters {
		vu := VoterUpdate{Name: v.Name, HasVoted: v.HasVoted(), Vote: Sentinel}
		if n, ok := v.Vote.Value(); ok {
			vu.Vote = n
		}
		u.Voters = append(u.Voters, vu)
	}
	return u
}

// EncodeSnapshot marshals the wire form of snap.
func EncodeSnapshot(snap poker.Snapshot) ([]byte, error) {
	return json.Marshal(FromSnapshot(snap))
}

// Status returns the round status, or NoVote for an out-of-range value.
func (u ServerUpdate) Status() poker.RoundStatus {
	s := poker.RoundStatus(u.VoteStatus)
	if !s.Valid() {
		return poker.NoVote
	}
	return s
}

// Average returns the round average when the update carries one.
func (u ServerUpdate) Average() (int, bool) {
	if u.AverageVote == Sentinel {
		return 0, false
	}
	return u.AverageVote, true
}
