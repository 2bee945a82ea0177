// Package poker implements the shared planning poker session: the voter
// registry, the vote ledger, the round state machine and the dispatcher that
// validates client requests before they reach it.
package poker
