// Package client provides the HTTP and WebSocket clients a voter uses to talk
// to the planning poker server.
package client

import (
	"errors"

	"github.com/planning-poker/planpoker/internal/protocol"
)

// ErrNotJoined is returned when the server refuses a push channel because the
// voter is not (or no longer) part of the session.
var ErrNotJoined = errors.New("voter is not part of the session")

// ErrRemoved is reported when the server closes the push channel because the
// voter left or was dropped by someone else.
var ErrRemoved = errors.New("removed from the session")

// ActionError carries the message of a request the server rejected.
type ActionError struct {
	RequestType string
	Message     string
}

func (e *ActionError) Error() string {
	return e.RequestType + ": " + e.Message
}

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the push channel is open.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the push channel drops or cannot be opened.
type DisconnectedMsg struct{ Err error }

// UpdateMsg delivers one pushed session update.
type UpdateMsg struct{ Update protocol.ServerUpdate }

// RequestDoneMsg reports the outcome of a POST /request call.
type RequestDoneMsg struct {
	RequestType string
	Err         error
}
