// Package ipc carries database access across the process boundary. Worker
// processes never hold a pooled connection; every query or transaction step
// travels as a correlated request to the master, which executes it on the
// shared pool and answers with a result or an error.
//
// Framing is newline-delimited JSON over a unix-domain socket.
package ipc

// Request message types.
const (
	MsgQuery      = "db-query"
	MsgTxBegin    = "db-transaction-begin"
	MsgTxQuery    = "db-transaction-query"
	MsgTxCommit   = "db-transaction-commit"
	MsgTxRollback = "db-transaction-rollback"
)

// Response message types.
const (
	MsgResult = "db-result"
	MsgError  = "db-error"
)

// Request is one worker→master message. ID correlates the response; TxID
// scopes transaction steps to the transaction opened by a prior begin.
type Request struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	TxID string `json:"txId,omitempty"`
	SQL  string `json:"sql,omitempty"`
	Args []any  `json:"args,omitempty"`
}

// Response is one master→worker message. Exactly one of Rows/RowsAffected is
// meaningful depending on the statement kind; Error is set on MsgError.
type Response struct {
	Type         string           `json:"type"`
	ID           string           `json:"id"`
	TxID         string           `json:"txId,omitempty"`
	Error        string           `json:"error,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rowsAffected,omitempty"`
}
