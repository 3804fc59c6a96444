package ipc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/db"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/observability/metrics"
)

// txIdleLimit bounds how long a worker transaction may sit without a step
// before the master rolls it back.
const txIdleLimit = 30 * time.Second

// Server is the master side of the protocol. It executes worker requests on
// the shared pool and owns every remote transaction's lifecycle.
type Server struct {
	manager *db.Manager
	logger  *log.Logger

	mu  sync.Mutex
	txs map[string]*remoteTx
}

type remoteTx struct {
	tx       *sql.Tx
	lastUsed time.Time
}

// NewServer constructs a server over the pool manager.
func NewServer(manager *db.Manager, logger *log.Logger) *Server {
	return &Server{
		manager: manager,
		logger:  logger,
		txs:     make(map[string]*remoteTx),
	}
}

// Serve accepts worker connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s == nil || listener == nil {
		return fmt.Errorf("ipc: nil server or listener")
	}
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	go s.reapIdleTxs(ctx)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	var writeMu sync.Mutex

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if ctx.Err() == nil && !isClosed(err) {
				s.logf("ipc decode failed: err=%v", err)
			}
			return
		}
		// Each request runs on its own goroutine so a slow query never
		// blocks an unrelated call on the same worker connection.
		go func(req Request) {
			resp := s.dispatch(ctx, req)
			writeMu.Lock()
			err := enc.Encode(resp)
			writeMu.Unlock()
			if err != nil && ctx.Err() == nil {
				s.logf("ipc write failed: id=%s err=%v", req.ID, err)
			}
		}(req)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	var resp Response
	switch req.Type {
	case MsgQuery:
		resp = s.handleQuery(ctx, req)
	case MsgTxBegin:
		resp = s.handleTxBegin(ctx, req)
	case MsgTxQuery:
		resp = s.handleTxQuery(ctx, req)
	case MsgTxCommit:
		resp = s.handleTxEnd(req, true)
	case MsgTxRollback:
		resp = s.handleTxEnd(req, false)
	default:
		resp = errorResponse(req, fmt.Errorf("ipc: unknown message type %q", req.Type))
	}
	result := metrics.ResultSuccess
	if resp.Type == MsgError {
		result = metrics.ResultError
	}
	metrics.ObserveIPCServed(req.Type, result)
	return resp
}

func (s *Server) handleQuery(ctx context.Context, req Request) Response {
	if isMutation(req.SQL) {
		result, err := s.manager.Exec(ctx, req.SQL, req.Args...)
		if err != nil {
			return errorResponse(req, err)
		}
		affected, _ := result.RowsAffected()
		return Response{Type: MsgResult, ID: req.ID, RowsAffected: affected}
	}
	rows, err := s.manager.Query(ctx, req.SQL, req.Args...)
	if err != nil {
		return errorResponse(req, err)
	}
	defer rows.Close()
	collected, err := collectRows(rows)
	if err != nil {
		return errorResponse(req, err)
	}
	return Response{Type: MsgResult, ID: req.ID, Rows: collected}
}

func (s *Server) handleTxBegin(ctx context.Context, req Request) Response {
	pool := s.manager.Pool()
	if pool == nil {
		return errorResponse(req, db.ErrNotConnected)
	}
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return errorResponse(req, err)
	}
	txID := fmt.Sprintf("tx-%d-%s", time.Now().UnixNano(), req.ID)
	s.mu.Lock()
	s.txs[txID] = &remoteTx{tx: tx, lastUsed: time.Now()}
	s.mu.Unlock()
	return Response{Type: MsgResult, ID: req.ID, TxID: txID}
}

func (s *Server) handleTxQuery(ctx context.Context, req Request) Response {
	remote := s.lookupTx(req.TxID)
	if remote == nil {
		return errorResponse(req, fmt.Errorf("ipc: unknown transaction %q", req.TxID))
	}
	if isMutation(req.SQL) {
		result, err := remote.tx.ExecContext(ctx, req.SQL, req.Args...)
		if err != nil {
			return errorResponse(req, err)
		}
		affected, _ := result.RowsAffected()
		return Response{Type: MsgResult, ID: req.ID, TxID: req.TxID, RowsAffected: affected}
	}
	rows, err := remote.tx.QueryContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return errorResponse(req, err)
	}
	defer rows.Close()
	collected, err := collectRows(rows)
	if err != nil {
		return errorResponse(req, err)
	}
	return Response{Type: MsgResult, ID: req.ID, TxID: req.TxID, Rows: collected}
}

func (s *Server) handleTxEnd(req Request, commit bool) Response {
	s.mu.Lock()
	remote := s.txs[req.TxID]
	delete(s.txs, req.TxID)
	s.mu.Unlock()
	if remote == nil {
		return errorResponse(req, fmt.Errorf("ipc: unknown transaction %q", req.TxID))
	}
	var err error
	if commit {
		err = remote.tx.Commit()
	} else {
		err = remote.tx.Rollback()
	}
	if err != nil {
		return errorResponse(req, err)
	}
	return Response{Type: MsgResult, ID: req.ID, TxID: req.TxID}
}

func (s *Server) lookupTx(txID string) *remoteTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	remote := s.txs[txID]
	if remote != nil {
		remote.lastUsed = time.Now()
	}
	return remote
}

// reapIdleTxs rolls back transactions abandoned by a dead or stalled worker
// so they never pin a pooled connection indefinitely.
func (s *Server) reapIdleTxs(ctx context.Context) {
	ticker := time.NewTicker(txIdleLimit / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, remote := range s.txs {
				if now.Sub(remote.lastUsed) > txIdleLimit {
					_ = remote.tx.Rollback()
					delete(s.txs, id)
					s.logf("ipc reaped idle transaction: tx_id=%s", id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func errorResponse(req Request, err error) Response {
	return Response{Type: MsgError, ID: req.ID, TxID: req.TxID, Error: err.Error()}
}

func isMutation(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(head, "INSERT") ||
		strings.HasPrefix(head, "UPDATE") ||
		strings.HasPrefix(head, "DELETE")
}

func isClosed(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "EOF"))
}

func collectRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
