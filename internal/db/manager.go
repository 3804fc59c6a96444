package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/observability/metrics"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// State tracks the manager's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned when a query arrives outside the connected
// state.
var ErrNotConnected = errors.New("db: not connected")

// ErrConnectionFailed signals that reconnection attempts are exhausted.
var ErrConnectionFailed = errors.New("db: connection_failed")

// Config tunes the pool and the reconnect policy.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxRetries      int
	RetryBase       time.Duration
	RetryMax        time.Duration
	PingInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Minute
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// Manager owns the process's single connection pool. Exactly one manager
// exists per master process; worker processes reach it through the IPC proxy.
type Manager struct {
	cfg    Config
	logger *log.Logger

	// open is swappable so tests can stub the driver.
	open func(driverName, dsn string) (*sql.DB, error)

	mu          sync.Mutex
	db          *sql.DB
	state       State
	reconnectOn bool

	onFatal func(error)
}

// NewManager constructs a disconnected manager.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger,
		open:   sql.Open,
	}
}

// OnFatal registers the callback invoked once reconnection gives up.
func (m *Manager) OnFatal(fn func(error)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.onFatal = fn
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	if m == nil {
		return StateDisconnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the pool and verifies it with a ping.
func (m *Manager) Connect(ctx context.Context) error {
	if m == nil {
		return ErrNotConnected
	}
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	pool, err := m.open("pgx", m.cfg.DSN)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("db: open: %w", err)
	}
	pool.SetMaxOpenConns(m.cfg.MaxOpenConns)
	pool.SetMaxIdleConns(m.cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		m.setState(StateDisconnected)
		return fmt.Errorf("db: ping: %w", err)
	}

	m.mu.Lock()
	previous := m.db
	m.db = pool
	m.state = StateConnected
	m.mu.Unlock()
	if previous != nil {
		// Stale pool from before a disconnect; release its idle conns.
		_ = previous.Close()
	}
	m.logf("db connected: max_open=%d", m.cfg.MaxOpenConns)
	return nil
}

// Close tears the pool down.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	pool := m.db
	m.db = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	if pool != nil {
		return pool.Close()
	}
	return nil
}

// Pool exposes the underlying pool for read-only instrumentation. It is nil
// while disconnected.
func (m *Manager) Pool() *sql.DB {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Query runs one read query on a pooled connection. The connection is
// released on every path: rows carry their own release on Close, and error
// paths never pin a connection.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	pool, err := m.pool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.QueryContext(ctx, query, args...)
	if err != nil {
		m.observeError(err)
		return nil, err
	}
	return rows, nil
}

// QueryRow runs one single-row query.
func (m *Manager) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	pool, err := m.pool()
	if err != nil {
		return nil, err
	}
	return pool.QueryRowContext(ctx, query, args...), nil
}

// Exec runs one statement.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	pool, err := m.pool()
	if err != nil {
		return nil, err
	}
	result, err := pool.ExecContext(ctx, query, args...)
	if err != nil {
		m.observeError(err)
		return nil, err
	}
	return result, nil
}

// Transaction runs fn inside one transaction on one pooled connection. It
// commits on success, rolls back and returns the error otherwise. The
// connection returns to the pool in all outcomes.
func (m *Manager) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	pool, err := m.pool()
	if err != nil {
		return err
	}
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		m.observeError(err)
		return fmt.Errorf("db: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		m.observeError(err)
		return err
	}
	if err := tx.Commit(); err != nil {
		m.observeError(err)
		return fmt.Errorf("db: commit: %w", err)
	}
	return nil
}

// HealthLoop pings the pool periodically to surface silent failures. It runs
// until ctx is cancelled.
func (m *Manager) HealthLoop(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool, err := m.pool()
			if err != nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingInterval/2)
			err = pool.PingContext(pingCtx)
			cancel()
			if err != nil {
				m.logf("db health ping failed: err=%v", err)
				m.observeError(err)
			}
		}
	}
}

// RetryDelay computes the reconnect delay for the given attempt:
// base * 2^attempt, capped at the configured maximum.
func (m *Manager) RetryDelay(attempt int) time.Duration {
	delay := m.cfg.RetryBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.RetryMax {
			return m.cfg.RetryMax
		}
	}
	if delay > m.cfg.RetryMax {
		return m.cfg.RetryMax
	}
	return delay
}

func (m *Manager) pool() (*sql.DB, error) {
	if m == nil {
		return nil, ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.db == nil {
		return nil, ErrNotConnected
	}
	return m.db, nil
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// observeError demotes the manager to disconnected on connection-class
// errors and schedules reconnection. Query-level errors pass through.
func (m *Manager) observeError(err error) {
	if !IsConnError(err) {
		return
	}
	m.mu.Lock()
	if m.state != StateConnected || m.reconnectOn {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.reconnectOn = true
	m.mu.Unlock()

	m.logf("db disconnected: err=%v", err)
	go m.reconnect()
}

func (m *Manager) reconnect() {
	defer func() {
		m.mu.Lock()
		m.reconnectOn = false
		m.mu.Unlock()
	}()
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		delay := m.RetryDelay(attempt)
		m.logf("db reconnect scheduled: attempt=%d delay=%s", attempt+1, delay)
		time.Sleep(delay)
		metrics.IncDBReconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		m.logf("db reconnect failed: attempt=%d err=%v", attempt+1, err)
	}
	m.logf("db reconnect exhausted after %d attempts", m.cfg.MaxRetries)
	m.mu.Lock()
	fatal := m.onFatal
	m.mu.Unlock()
	if fatal != nil {
		fatal(ErrConnectionFailed)
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// IsConnError classifies connection-class failures: refused, reset,
// timeouts, and a poisoned driver connection.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"unexpected EOF",
		"pool exhausted",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
