package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"leadflow-engine/internal/metrics"
)

// connPragmas are applied to every pooled connection at creation so callers
// never need per-connection tuning.
var connPragmas = []string{
	"PRAGMA foreign_keys = ON;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA cache_size = -8000;",
}

// PooledConn is one database connection checked out of the pool.
type PooledConn struct {
	conn     *sql.Conn
	lastUsed time.Time
}

func (pc *PooledConn) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return pc.conn.ExecContext(ctx, q, args...)
}

func (pc *PooledConn) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return pc.conn.QueryContext(ctx, q, args...)
}

func (pc *PooledConn) QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row {
	return pc.conn.QueryRowContext(ctx, q, args...)
}

func (pc *PooledConn) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return pc.conn.BeginTx(ctx, nil)
}

// Pool hands out ready-to-use sqlite connections with a hard upper bound.
// Exhaustion surfaces to callers as ErrConnectionTimeout; dead connections
// are replaced transparently, never surfaced.
type Pool struct {
	db             *sql.DB
	size           int
	acquireTimeout time.Duration
	idleAfter      time.Duration

	mu      sync.Mutex
	created int
	closed  bool

	free chan *PooledConn
	done chan struct{}
}

type PoolStats struct {
	Size    int `json:"size"`
	Created int `json:"created"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
}

func NewPool(path string, size int, acquireTimeout, idleAfter time.Duration) (*Pool, error) {
	if size <= 0 {
		size = 4
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 30 * time.Second
	}
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}

	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(size)
	db.SetConnMaxLifetime(0) // lifetime is the pool's business, not database/sql's

	// quick ping
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	p := &Pool{
		db:             db,
		size:           size,
		acquireTimeout: acquireTimeout,
		idleAfter:      idleAfter,
		free:           make(chan *PooledConn, size),
		done:           make(chan struct{}),
	}
	go p.sweepIdle()
	return p, nil
}

// Acquire returns a live connection, waiting up to the pool's acquire timeout
// (or the caller's earlier ctx deadline) when all connections are out.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	start := time.Now()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	for {
		// fast path: something idle
		select {
		case pc := <-p.free:
			if p.alive(ctx, pc) {
				metrics.PoolConnOut()
				return pc, nil
			}
			p.destroy(pc)
			continue
		default:
		}

		// room to grow
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("connection pool: closed")
		}
		if p.created < p.size {
			p.created++
			p.mu.Unlock()
			pc, err := p.newConn(ctx)
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, err
			}
			metrics.PoolConnOut()
			return pc, nil
		}
		p.mu.Unlock()

		// pool exhausted: wait for a release or the deadline
		select {
		case pc := <-p.free:
			if p.alive(ctx, pc) {
				metrics.PoolConnOut()
				return pc, nil
			}
			p.destroy(pc)
		case <-ctx.Done():
			metrics.RecordPoolTimeout()
			return nil, fmt.Errorf("%w after %s", ErrConnectionTimeout, time.Since(start).Round(time.Millisecond))
		case <-p.done:
			return nil, fmt.Errorf("connection pool: closed")
		}
	}
}

// Release returns a connection to the pool. If the free list is somehow full
// the connection is closed rather than queued.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	metrics.PoolConnBack()
	pc.lastUsed = time.Now()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.destroy(pc)
		return
	}

	select {
	case p.free <- pc:
	default:
		p.destroy(pc)
	}
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := len(p.free)
	return PoolStats{
		Size:    p.size,
		Created: p.created,
		Idle:    idle,
		InUse:   p.created - idle,
	}
}

// Raw exposes the underlying handle for migrations and backup checkpoints.
func (p *Pool) Raw() *sql.DB { return p.db }

func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	for {
		select {
		case pc := <-p.free:
			p.destroy(pc)
		default:
			return p.db.Close()
		}
	}
}

func (p *Pool) newConn(ctx context.Context) (*PooledConn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connection pool: open: %w", err)
	}
	for _, pragma := range connPragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("connection pool: pragma: %w", err)
		}
	}
	return &PooledConn{conn: conn, lastUsed: time.Now()}, nil
}

// alive is the liveness probe run before every handout.
func (p *Pool) alive(ctx context.Context, pc *PooledConn) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return pc.conn.QueryRowContext(probeCtx, "SELECT 1;").Scan(&one) == nil
}

func (p *Pool) destroy(pc *PooledConn) {
	_ = pc.conn.Close()
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}

// sweepIdle closes connections sitting unused past the idle threshold.
// Connections in the free list by definition hold no open transaction.
func (p *Pool) sweepIdle() {
	interval := p.idleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			p.sweepOnce()
		}
	}
}

func (p *Pool) sweepOnce() {
	var keep []*PooledConn
	swept := 0
	for {
		select {
		case pc := <-p.free:
			if time.Since(pc.lastUsed) > p.idleAfter {
				p.destroy(pc)
				swept++
			} else {
				keep = append(keep, pc)
			}
		default:
			for _, pc := range keep {
				select {
				case p.free <- pc:
				default:
					p.destroy(pc)
				}
			}
			if swept > 0 {
				log.Printf("[pool] closed %d idle connection(s)", swept)
			}
			return
		}
	}
}
