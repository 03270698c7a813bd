// Package monitor runs the reconciliation passes that move battles through
// their lifecycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/lock"
	"github.com/wnt/battled/internal/metrics"
	"github.com/wnt/battled/internal/models"
	"github.com/wnt/battled/internal/resolver"
	"github.com/wnt/battled/internal/settlement"
	"golang.org/x/sync/errgroup"
)

// PassLockKey is the Redis lock serializing passes across replicas
const PassLockKey = "battled:pass"

var (
	// ErrPassInProgress is returned by ForceCheck while another pass is running
	ErrPassInProgress = errors.New("reconciliation pass already in progress")
	// ErrPassLocked is returned when another replica holds the pass lock
	ErrPassLocked = errors.New("reconciliation pass running on another replica")
)

// Repository persists battles and tokens
type Repository interface {
	ListOpenBattles(ctx context.Context) ([]models.Battle, error)
	GetBattle(ctx context.Context, id string) (*models.Battle, error)
	UpdateBattle(ctx context.Context, id string, upd models.BattleUpdate) error
	UpdateToken(ctx context.Context, id string, upd models.TokenUpdate) error
	MarkSettled(ctx context.Context, id string, txIDs []string, dist *models.LiquidityDistribution) (bool, error)
}

// Resolver reads live pool state
type Resolver interface {
	Resolve(ctx context.Context, mint, poolAddress solana.PublicKey, migratedHint bool) (*resolver.PoolSnapshot, error)
	DiscoverPool(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error)
}

// Settler redistributes a loser's liquidity
type Settler interface {
	Settle(ctx context.Context, loserPool, winnerPool, platformPool solana.PublicKey) (*settlement.Result, error)
}

// Locker hands out cluster-wide locks
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
}

// Ticker delivers scheduler ticks
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates the scheduler ticker
type TickerFactory func(d time.Duration) Ticker

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

// NewTimeTicker is the TickerFactory backed by time.Ticker
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Sleep is the Sleeper backed by a timer
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config controls pass scheduling
type Config struct {
	Interval      time.Duration
	BatchSize     int
	BatchDelay    time.Duration
	TokenDelay    time.Duration
	PrecheckDelay time.Duration
	// PlatformPool receives the platform share of settlements, zero skips it
	PlatformPool solana.PublicKey
}

// DefaultConfig returns the default schedule
func DefaultConfig() Config {
	return Config{
		Interval:      60 * time.Second,
		BatchSize:     3,
		BatchDelay:    2 * time.Second,
		TokenDelay:    300 * time.Millisecond,
		PrecheckDelay: 500 * time.Millisecond,
	}
}

// PassCounts tallies battle outcomes of one pass
type PassCounts struct {
	Battles      int `json:"battles"`
	Unchanged    int `json:"unchanged"`
	Transitioned int `json:"transitioned"`
	Settled      int `json:"settled"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

func (c *PassCounts) add(o outcome) {
	switch o {
	case outcomeUnchanged:
		c.Unchanged++
	case outcomeTransitioned:
		c.Transitioned++
	case outcomeSettled:
		c.Settled++
	case outcomeSkipped:
		c.Skipped++
	case outcomeFailed:
		c.Failed++
	}
}

// Status is a snapshot of the monitor state
type Status struct {
	Running        bool        `json:"running"`
	PassInProgress bool        `json:"pass_in_progress"`
	Interval       string      `json:"interval"`
	BatchSize      int         `json:"batch_size"`
	BatchDelay     string      `json:"batch_delay"`
	LastRunStart   *time.Time  `json:"last_run_start,omitempty"`
	LastRunEnd     *time.Time  `json:"last_run_end,omitempty"`
	NextRun        *time.Time  `json:"next_run,omitempty"`
	LastPass       *PassCounts `json:"last_pass,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}

// Monitor schedules reconciliation passes over open battles
type Monitor struct {
	repo      Repository
	resolver  Resolver
	settler   Settler
	config    Config
	locker    Locker
	lockTTL   time.Duration
	newTicker TickerFactory
	sleep     Sleeper
	now       func() time.Time
	logger    zerolog.Logger

	inPass atomic.Bool

	mutex     sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastStart time.Time
	lastEnd   time.Time
	lastPass  *PassCounts
	lastError string
	nextRun   time.Time
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLocker wraps every pass in a cluster-wide lock renewed by ttl while
// the pass runs
func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(m *Monitor) {
		m.locker = locker
		m.lockTTL = ttl
	}
}

// WithTickerFactory replaces the scheduler ticker
func WithTickerFactory(factory TickerFactory) Option {
	return func(m *Monitor) {
		m.newTicker = factory
	}
}

// WithSleeper replaces the delay between batches and token reads
func WithSleeper(sleeper Sleeper) Option {
	return func(m *Monitor) {
		m.sleep = sleeper
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a stopped monitor
func New(repo Repository, res Resolver, settler Settler, cfg Config, logger zerolog.Logger, options ...Option) *Monitor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	m := &Monitor{
		repo:      repo,
		resolver:  res,
		settler:   settler,
		config:    cfg,
		lockTTL:   10 * time.Minute,
		newTicker: NewTimeTicker,
		sleep:     Sleep,
		now:       time.Now,
		logger:    logger.With().Str("component", "monitor").Logger(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Start begins scheduled passes, the first one immediately. Starting a
// running monitor does nothing.
func (m *Monitor) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		m.logger.Info().Msg("Monitor already running")
		return nil
	}
	if m.config.Interval <= 0 {
		return fmt.Errorf("invalid monitor interval %s", m.config.Interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.nextRun = m.now()

	go m.run(ctx, m.done)

	m.logger.Info().
		Dur("interval", m.config.Interval).
		Int("batch_size", m.config.BatchSize).
		Dur("batch_delay", m.config.BatchDelay).
		Msg("Monitor started")
	return nil
}

// Stop cancels the schedule. A pass in flight runs to completion; use Wait
// to block until it has. Stopping a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	m.nextRun = time.Time{}

	m.logger.Info().Msg("Monitor stopped")
}

// Wait blocks until the scheduler of the last Start has exited or ctx is done
func (m *Monitor) Wait(ctx context.Context) error {
	m.mutex.Lock()
	done := m.done
	m.mutex.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceCheck runs one pass now
func (m *Monitor) ForceCheck(ctx context.Context) error {
	m.logger.Info().Msg("Manual check requested")
	return m.runPass(ctx)
}

// Status returns the current monitor state
func (m *Monitor) Status() Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	status := Status{
		Running:        m.running,
		PassInProgress: m.inPass.Load(),
		Interval:       m.config.Interval.String(),
		BatchSize:      m.config.BatchSize,
		BatchDelay:     m.config.BatchDelay.String(),
		LastError:      m.lastError,
	}
	if !m.lastStart.IsZero() {
		start := m.lastStart
		status.LastRunStart = &start
	}
	if !m.lastEnd.IsZero() {
		end := m.lastEnd
		status.LastRunEnd = &end
	}
	if m.running && !m.nextRun.IsZero() {
		next := m.nextRun
		status.NextRun = &next
	}
	if m.lastPass != nil {
		counts := *m.lastPass
		status.LastPass = &counts
	}
	return status
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := m.newTicker(m.config.Interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.tick(ctx)
		}
	}
}

// tick runs a scheduled pass. Stopping the monitor does not cut it short.
func (m *Monitor) tick(ctx context.Context) {
	err := m.runPass(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, ErrPassInProgress):
		metrics.RecordPass("skipped", 0)
		m.logger.Warn().Msg("Previous pass still running, skipping tick")
	case errors.Is(err, ErrPassLocked):
		m.logger.Info().Msg("Pass lock held by another replica, skipping pass")
	case err != nil:
		m.logger.Error().Err(err).Msg("Pass failed")
	}

	m.mutex.Lock()
	if m.running {
		m.nextRun = m.now().Add(m.config.Interval)
	}
	m.mutex.Unlock()
}

// runPass reconciles every open battle once
func (m *Monitor) runPass(ctx context.Context) error {
	if !m.inPass.CompareAndSwap(false, true) {
		return ErrPassInProgress
	}
	defer m.inPass.Store(false)

	if m.locker != nil {
		lease, err := m.locker.Acquire(ctx, PassLockKey, m.lockTTL)
		if errors.Is(err, lock.ErrLockHeld) {
			metrics.RecordPass("locked", 0)
			return ErrPassLocked
		}
		if err != nil {
			metrics.RecordPass("failed", 0)
			return fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		defer lease.Release()

		var cancel context.CancelFunc
		ctx, cancel = withLease(ctx, lease)
		defer cancel()
	}

	start := m.now()
	m.mutex.Lock()
	m.lastStart = start
	m.mutex.Unlock()

	battles, err := m.repo.ListOpenBattles(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list open battles: %w", err)
		m.finishPass(start, nil, err)
		metrics.RecordPass("failed", 0)
		return err
	}
	metrics.OpenBattles.Set(float64(len(battles)))

	m.logger.Debug().Int("battles", len(battles)).Msg("Starting pass")

	counts := m.processBattles(ctx, battles)
	if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLeaseLost) {
		err = fmt.Errorf("pass stopped early: %w", cause)
		m.finishPass(start, &counts, err)
		metrics.RecordPass("failed", 0)
		return err
	}
	m.finishPass(start, &counts, nil)

	duration := m.now().Sub(start)
	metrics.RecordPass("completed", duration.Seconds())
	m.logger.Info().
		Int("battles", counts.Battles).
		Int("transitioned", counts.Transitioned).
		Int("settled", counts.Settled).
		Int("skipped", counts.Skipped).
		Int("failed", counts.Failed).
		Dur("duration", duration).
		Msg("Pass completed")
	return nil
}

// withLease returns a context cancelled with lock.ErrLeaseLost when the lease
// is lost
func withLease(ctx context.Context, lease *lock.Lease) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-lease.Lost():
			cancel(lock.ErrLeaseLost)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

func (m *Monitor) finishPass(start time.Time, counts *PassCounts, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lastEnd = m.now()
	if counts != nil {
		m.lastPass = counts
	}
	m.lastError = ""
	if err != nil {
		m.lastError = err.Error()
	}
}

// processBattles works through battles in sequential batches of at most
// BatchSize concurrent battles
func (m *Monitor) processBattles(ctx context.Context, battles []models.Battle) PassCounts {
	counts := PassCounts{Battles: len(battles)}
	size := m.config.BatchSize

	for i := 0; i < len(battles); i += size {
		if i > 0 {
			if err := m.sleep(ctx, m.config.BatchDelay); err != nil {
				counts.Skipped += len(battles) - i
				break
			}
		}

		batch := battles[i:min(i+size, len(battles))]
		outcomes := make([]outcome, len(batch))

		var g errgroup.Group
		g.SetLimit(size)
		for j := range batch {
			j := j
			g.Go(func() error {
				outcomes[j] = m.processBattle(ctx, batch[j])
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			metrics.RecordBattle(string(o))
			counts.add(o)
		}
	}
	return counts
}
