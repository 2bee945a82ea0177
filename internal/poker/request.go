package poker

import (
	"fmt"
	"strings"
)

type RequestType string

const (
	RequestCancelVote RequestType = "cancelVote"
	RequestDropVoter  RequestType = "dropVoter"
	RequestEndVote    RequestType = "endVote"
	RequestJoin       RequestType = "join"
	RequestLeave      RequestType = "leave"
	RequestRefresh    RequestType = "refresh"
	RequestStartVote  RequestType = "startVote"
	RequestVote       RequestType = "vote"
)

// NoVoteValue is the wire value of a request that carries no card.
const NoVoteValue = -1

var requestTypes = map[RequestType]bool{
	RequestCancelVote: true,
	RequestDropVoter:  true,
	RequestEndVote:    true,
	RequestJoin:       true,
	RequestLeave:      true,
	RequestRefresh:    true,
	RequestStartVote:  true,
	RequestVote:       true,
}

// RequestTypes lists every accepted request type in wire order.
func RequestTypes() []RequestType {
	return []RequestType{
		RequestCancelVote, RequestDropVoter, RequestEndVote, RequestJoin,
		RequestLeave, RequestRefresh, RequestStartVote, RequestVote,
	}
}

func (t RequestType) Valid() bool {
	return requestTypes[t]
}

// ParseRequestType matches s exactly; the legacy "bump" verb is not accepted.
func ParseRequestType(s string) (RequestType, error) {
	t := RequestType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: invalid request type %q", ErrMalformedRequest, s)
	}
	return t, nil
}

// Request is a validated client action.
type Request struct {
	Type      RequestType
	VoterName string
	Vote      Estimate
	// Info names the voter to remove for RequestDropVoter.
	Info string
}

// NewRequest builds a Request from wire fields, failing fast on anything the
// session could not act on.
func NewRequest(requestType, voterName string, vote int, info string) (Request, error) {
	t, err := ParseRequestType(requestType)
	if err != nil {
		return Request{}, err
	}

	req := Request{Type: t, VoterName: voterName, Info: info}
	if vote != NoVoteValue {
		if !ValidCard(vote) {
			return Request{}, fmt.Errorf("%w: vote %d is not between %d and %d", ErrMalformedRequest, vote, NoVoteValue, MaxVote)
		}
		req.Vote = Card(vote)
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the fields every request type needs.
func (r Request) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: invalid request type %q", ErrMalformedRequest, r.Type)
	}
	if strings.TrimSpace(r.VoterName) == "" {
		return fmt.Errorf("%w: the voter is blank", ErrMalformedRequest)
	}
	if v, ok := r.Vote.Value(); ok && !ValidCard(v) {
		return fmt.Errorf("%w: vote %d out of range", ErrMalformedRequest, v)
	}
	return nil
}
