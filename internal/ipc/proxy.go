package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/observability/metrics"
)

// ErrTimeout is returned when the master does not answer within the
// per-call deadline. The proxy never retries; callers decide.
var ErrTimeout = errors.New("ipc: call timed out")

// ErrLifecycle is returned when a caller tries to drive transaction
// lifecycle directly. Only the proxy's Transaction method may commit or roll
// back, so a worker can never leave a transaction half-open.
var ErrLifecycle = errors.New("ipc: transaction lifecycle is owned by the proxy")

// ErrClosed is returned after the proxy connection is torn down.
var ErrClosed = errors.New("ipc: proxy closed")

// Proxy is the worker side of the protocol: a database handle whose every
// operation is one correlated round trip to the master.
type Proxy struct {
	timeout time.Duration
	logger  *log.Logger

	conn net.Conn
	enc  *json.Encoder

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	// done is closed exactly once by Close. Pending calls abort on it
	// instead of having their response channels closed under them, so the
	// read loop can never send on a closed channel.
	done chan struct{}

	seq atomic.Int64
}

// Dial connects a proxy to the master socket.
func Dial(socketPath string, timeout time.Duration, logger *log.Logger) (*Proxy, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial: %w", err)
	}
	return NewProxy(conn, timeout, logger), nil
}

// NewProxy wraps an established connection. The read loop starts
// immediately.
func NewProxy(conn net.Conn, timeout time.Duration, logger *log.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Proxy{
		timeout: timeout,
		logger:  logger,
		conn:    conn,
		enc:     json.NewEncoder(conn),
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	return p
}

// Close tears the connection down and rejects every pending call.
func (p *Proxy) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pending = make(map[string]chan Response)
	close(p.done)
	p.mu.Unlock()

	return p.conn.Close()
}

// Query runs one read query through the master.
func (p *Proxy) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	resp, err := p.call(ctx, Request{Type: MsgQuery, SQL: query, Args: args})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// Exec runs one mutating statement through the master.
func (p *Proxy) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	resp, err := p.call(ctx, Request{Type: MsgQuery, SQL: query, Args: args})
	if err != nil {
		return 0, err
	}
	return resp.RowsAffected, nil
}

// Tx is the handle passed to Transaction's fn. Its statements execute inside
// the master-held transaction; lifecycle calls are rejected.
type Tx struct {
	proxy *Proxy
	txID  string
}

// Query runs one read query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	resp, err := t.proxy.call(ctx, Request{Type: MsgTxQuery, TxID: t.txID, SQL: query, Args: args})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// Exec runs one mutating statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	resp, err := t.proxy.call(ctx, Request{Type: MsgTxQuery, TxID: t.txID, SQL: query, Args: args})
	if err != nil {
		return 0, err
	}
	return resp.RowsAffected, nil
}

// Commit is rejected: the proxy drives lifecycle.
func (t *Tx) Commit() error { return ErrLifecycle }

// Rollback is rejected: the proxy drives lifecycle.
func (t *Tx) Rollback() error { return ErrLifecycle }

// Release is rejected: the master owns the pooled connection.
func (t *Tx) Release() error { return ErrLifecycle }

// Transaction opens a remote transaction, runs fn, and commits on success or
// rolls back on error.
func (p *Proxy) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	begin, err := p.call(ctx, Request{Type: MsgTxBegin})
	if err != nil {
		return err
	}
	handle := &Tx{proxy: p, txID: begin.TxID}

	if err := fn(handle); err != nil {
		if _, rbErr := p.call(ctx, Request{Type: MsgTxRollback, TxID: begin.TxID}); rbErr != nil {
			p.logf("ipc rollback failed: tx_id=%s err=%v", begin.TxID, rbErr)
		}
		return err
	}
	if _, err := p.call(ctx, Request{Type: MsgTxCommit, TxID: begin.TxID}); err != nil {
		return err
	}
	return nil
}

// call sends one request and waits for its correlated response under the
// fixed per-call timeout.
func (p *Proxy) call(ctx context.Context, req Request) (Response, error) {
	if p == nil {
		return Response{}, ErrClosed
	}
	req.ID = fmt.Sprintf("q-%d", p.seq.Add(1))
	ch := make(chan Response, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Response{}, ErrClosed
	}
	p.pending[req.ID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
	}()

	start := time.Now()
	p.writeMu.Lock()
	err := p.enc.Encode(req)
	p.writeMu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("ipc: send: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		metrics.ObserveIPCRoundTrip(time.Since(start))
		if resp.Type == MsgError {
			return Response{}, fmt.Errorf("ipc: remote: %s", resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return Response{}, ErrTimeout
	case <-p.done:
		return Response{}, ErrClosed
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// readLoop routes responses to their pending callers by correlation id.
// Responses may arrive in any order.
func (p *Proxy) readLoop() {
	dec := json.NewDecoder(p.conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if !p.isClosed() {
				p.logf("ipc read loop ended: err=%v", err)
			}
			_ = p.Close()
			return
		}
		p.mu.Lock()
		ch := p.pending[resp.ID]
		p.mu.Unlock()
		if ch == nil {
			// Late response for a timed-out call; drop it.
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (p *Proxy) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Proxy) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
