// Package control exposes a running agent over a Unix domain socket.
// Clients send one JSON request per line and receive one JSON response
// per line: status queries, abort, and ledger inspection.
package control

import "encoding/json"

// Command names accepted by the server
const (
	CmdStatus         = "status"
	CmdAbort          = "abort"
	CmdSessions       = "sessions"
	CmdLedgerRecent   = "ledger.recent"
	CmdLedgerStats    = "ledger.stats"
	CmdLedgerVerify   = "ledger.verify"
	CmdLedgerRollback = "ledger.rollback"
)

// Request is one client command
type Request struct {
	Command string `json:"command"`
	Hash    string `json:"hash,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Response is the server's reply
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusData is the payload of a status response
type StatusData struct {
	RunID      string  `json:"run_id"`
	Task       string  `json:"task"`
	Status     string  `json:"status"`
	Mode       string  `json:"mode"`
	Summary    string  `json:"summary"`
	Steps      int     `json:"steps"`
	SpentUSD   float64 `json:"spent_usd"`
	LedgerHead string  `json:"ledger_head,omitempty"`
}
