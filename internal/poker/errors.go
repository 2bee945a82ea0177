package poker

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrDuplicateVoter   = errors.New("voter name is already in use")
	ErrVoterNotFound    = errors.New("unknown voter")
	ErrOutOfRange       = errors.New("vote out of range")
)

// RequestError describes a request the session refused. It wraps one of the
// sentinel errors above so callers can match it with errors.Is.
type RequestError struct {
	Type  RequestType
	Voter string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Voter == "" {
		return fmt.Sprintf("%s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Type, e.Voter, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func requestError(req Request, err error) error {
	return &RequestError{Type: req.Type, Voter: req.VoterName, Err: err}
}
