// Package pool implements a bounded pool of physical database connections.
//
// The pool lends connections under a time-bounded wait and reclaims idle
// ones past a TTL. It favors availability over a strict cap: a caller that
// waits out the acquire timeout is served a burst connection rather than an
// error, so the pool may transiently exceed its configured maximum under
// load.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrConfiguration is returned by setters for out-of-range values.
	// The prior configuration is retained.
	ErrConfiguration = errors.New("invalid pool configuration")

	// ErrConnectionUnavailable is returned when the pool cannot supply a
	// usable connection within its retry budget.
	ErrConnectionUnavailable = errors.New("database connection unavailable")

	// ErrClosed is returned by Acquire after the pool has been shut down.
	ErrClosed = errors.New("pool is closed")
)

// Config holds the pool bounds.
type Config struct {
	// Min is the number of idle connections the pool warms up to and the
	// floor the idle sweep will not evict below.
	Min int
	// Max is the steady-state cap on live connections.
	Max int
	// AcquireTimeout bounds how long Acquire blocks waiting for an idle
	// connection before opening a burst connection.
	AcquireTimeout time.Duration
	// IdleTTL is the age past which an idle connection is evicted.
	IdleTTL time.Duration
}

// Validate checks the configured bounds.
func (c Config) Validate() error {
	if c.Min < 0 {
		return fmt.Errorf("%w: min %d is negative", ErrConfiguration, c.Min)
	}
	if c.Max < 1 {
		return fmt.Errorf("%w: max %d must be at least 1", ErrConfiguration, c.Max)
	}
	if c.Min > c.Max {
		return fmt.Errorf("%w: min %d exceeds max %d", ErrConfiguration, c.Min, c.Max)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("%w: acquire timeout must be positive", ErrConfiguration)
	}
	if c.IdleTTL <= 0 {
		return fmt.Errorf("%w: idle TTL must be positive", ErrConfiguration)
	}
	return nil
}

// Pool owns a bounded set of physical database connections.
type Pool struct {
	dial   DialFunc
	idle   chan *PooledConn
	logger zerolog.Logger

	// sweepMu serializes idle eviction so concurrent releases cannot each
	// pass the floor check and together evict below min.
	sweepMu sync.Mutex

	mu       sync.Mutex
	min      int
	max      int
	timeout  time.Duration
	idleTTL  time.Duration
	live     int // all open physical connections
	borrowed int // connections currently checked out
	closed   bool
}

// New creates a pool. The idle queue capacity is fixed at the initial max;
// SetMax may later tune the bound within that capacity. Call Warmup to open
// the initial min connections.
func New(cfg Config, dial DialFunc) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		dial:    dial,
		idle:    make(chan *PooledConn, cfg.Max),
		logger:  log.With().Str("component", "pool").Logger(),
		min:     cfg.Min,
		max:     cfg.Max,
		timeout: cfg.AcquireTimeout,
		idleTTL: cfg.IdleTTL,
	}, nil
}

// Warmup eagerly opens connections until min is reached. Each dial failure
// is logged and the remaining slots are still attempted: the pool may start
// below min if the database is briefly unavailable.
func (p *Pool) Warmup(ctx context.Context) {
	target := p.Min()
	opened := 0
	for i := 0; i < target; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Int("slot", i).Int("min", target).
				Msg("warmup dial failed")
			continue
		}
		p.mu.Lock()
		p.live++
		p.mu.Unlock()
		select {
		case p.idle <- &PooledConn{conn: conn, pool: p, checkin: time.Now()}:
			opened++
		default:
			p.destroy(ctx, conn)
		}
	}
	if opened < target {
		p.logger.Warn().Int("opened", opened).Int("min", target).
			Msg("pool warmed up below min")
		return
	}
	p.logger.Info().Int("connections", opened).Msg("pool warmed up")
}

// Acquire returns a connection, opening a new one while the pool is below
// max, otherwise blocking up to the acquire timeout for a release. On
// timeout it opens a burst connection as a last resort rather than failing
// the caller.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	select {
	case pc := <-p.idle:
		return p.checkout(ctx, pc)
	default:
	}

	if p.reserve() {
		return p.open(ctx)
	}

	timer := time.NewTimer(p.AcquireTimeout())
	defer timer.Stop()
	select {
	case pc := <-p.idle:
		return p.checkout(ctx, pc)
	case <-timer.C:
		p.mu.Lock()
		p.live++
		live := p.live
		max := p.max
		p.mu.Unlock()
		p.logger.Warn().Int("live", live).Int("max", max).
			Msg("acquire timed out, opening burst connection")
		return p.open(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a connection to the pool. It never fails: eviction and
// close errors are logged and swallowed because release must not fail a
// business operation that already committed or rolled back.
func (p *Pool) Release(ctx context.Context, pc *PooledConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	p.borrowed--
	closed := p.closed
	p.mu.Unlock()

	p.sweepIdle(ctx)

	if closed || pc.broken || pc.conn.IsClosed() {
		p.destroyPooled(ctx, pc)
		return
	}

	pc.checkin = time.Now()
	if len(p.idle) < p.Max() {
		select {
		case p.idle <- pc:
			return
		default:
		}
	}
	p.destroyPooled(ctx, pc)
}

// sweepIdle evicts idle connections whose last checkin exceeds the idle
// TTL. The sweep is bounded: it stops once eviction would drop the idle
// total below min, and the first fresh connection it sees ends the pass.
// Only one sweep runs at a time, and the floor check happens with the
// candidate already in hand, so the decision to evict is never based on a
// queue length another sweep has since changed.
func (p *Pool) sweepIdle(ctx context.Context) {
	p.sweepMu.Lock()
	defer p.sweepMu.Unlock()

	ttl := p.IdleTTL()
	min := p.Min()
	for {
		select {
		case pc := <-p.idle:
			// The connection in hand still counts toward the idle total.
			if len(p.idle)+1 <= min || time.Since(pc.checkin) <= ttl {
				select {
				case p.idle <- pc:
				default:
					p.destroyPooled(ctx, pc)
				}
				return
			}
			p.logger.Debug().Dur("idle", time.Since(pc.checkin)).
				Msg("evicting stale idle connection")
			p.destroyPooled(ctx, pc)
		default:
			return
		}
	}
}

// checkout probes a connection taken from the idle queue and hands it to
// the caller, replacing it with a fresh one if it died while idle.
func (p *Pool) checkout(ctx context.Context, pc *PooledConn) (*PooledConn, error) {
	if err := pc.conn.Ping(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("idle connection failed liveness probe, replacing")
		p.destroyPooled(ctx, pc)
		p.mu.Lock()
		p.live++
		p.mu.Unlock()
		return p.open(ctx)
	}
	p.mu.Lock()
	p.borrowed++
	p.mu.Unlock()
	return pc, nil
}

// open dials a new physical connection for a reserved slot. A dial failure
// is retried once; sustained failure releases the slot and reports the
// database as unavailable.
func (p *Pool) open(ctx context.Context) (*PooledConn, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("dial failed, retrying once")
		conn, err = p.dial(ctx)
	}
	if err != nil {
		p.mu.Lock()
		p.live--
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}
	p.mu.Lock()
	p.borrowed++
	p.mu.Unlock()
	return &PooledConn{conn: conn, pool: p}, nil
}

// reserve claims a live-connection slot if the pool is below max.
func (p *Pool) reserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live >= p.max {
		return false
	}
	p.live++
	return true
}

func (p *Pool) destroyPooled(ctx context.Context, pc *PooledConn) {
	p.destroy(ctx, pc.conn)
}

func (p *Pool) destroy(ctx context.Context, conn Conn) {
	if err := conn.Close(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("closing physical connection failed")
	}
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

// Close shuts the pool down, closing every idle connection. Connections
// still checked out are closed as they are released.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case pc := <-p.idle:
			p.destroyPooled(ctx, pc)
		default:
			p.logger.Info().Msg("pool closed")
			return
		}
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Min returns the configured idle floor.
func (p *Pool) Min() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min
}

// Max returns the configured steady-state cap.
func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// AcquireTimeout returns the configured acquire timeout.
func (p *Pool) AcquireTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// IdleTTL returns the configured idle eviction threshold.
func (p *Pool) IdleTTL() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleTTL
}

// SetMin updates the idle floor. Rejects negative values and values above
// max, leaving the prior configuration intact.
func (p *Pool) SetMin(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		return fmt.Errorf("%w: min %d is negative", ErrConfiguration, n)
	}
	if n > p.max {
		return fmt.Errorf("%w: min %d exceeds max %d", ErrConfiguration, n, p.max)
	}
	p.min = n
	return nil
}

// SetMax updates the steady-state cap. The cap cannot drop below min or
// exceed the idle queue capacity fixed at construction.
func (p *Pool) SetMax(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 {
		return fmt.Errorf("%w: max %d must be at least 1", ErrConfiguration, n)
	}
	if n < p.min {
		return fmt.Errorf("%w: max %d is below min %d", ErrConfiguration, n, p.min)
	}
	if n > cap(p.idle) {
		return fmt.Errorf("%w: max %d exceeds pool capacity %d", ErrConfiguration, n, cap(p.idle))
	}
	p.max = n
	return nil
}

// SetAcquireTimeout updates the acquire timeout.
func (p *Pool) SetAcquireTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		return fmt.Errorf("%w: acquire timeout must be positive", ErrConfiguration)
	}
	p.timeout = d
	return nil
}

// SetIdleTTL updates the idle eviction threshold.
func (p *Pool) SetIdleTTL(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		return fmt.Errorf("%w: idle TTL must be positive", ErrConfiguration)
	}
	p.idleTTL = d
	return nil
}

// Stats reports the pool's current counters: open physical connections,
// idle connections, and connections checked out.
func (p *Pool) Stats() (live, idle, borrowed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, len(p.idle), p.borrowed
}
