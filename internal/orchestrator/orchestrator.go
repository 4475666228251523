// Package orchestrator owns the authoritative overlay state.
//
// Every mutation (submissions, removals, timer expiries, ticker advances,
// cleanup ticks) is a command applied by a single loop goroutine. Callers and
// timer callbacks only enqueue commands, so the order commands arrive in is
// the order they take effect, and version is a causal clock over them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanveloso/landale-sub014/internal/events"
	"github.com/bryanveloso/landale-sub014/internal/interrupt"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/queue"
	"github.com/bryanveloso/landale-sub014/internal/ticker"
	"github.com/bryanveloso/landale-sub014/internal/timer"
)

const commandBuffer = 256

// ErrPanic wraps a panic recovered while applying a command.
var ErrPanic = errors.New("orchestrator command panicked")

type applyFunc func(m *mutation, now time.Time) error

type command struct {
	name  string
	apply applyFunc
	reply chan error
}

// Orchestrator is the state store and version ledger. Its exported methods
// are safe for concurrent use; all state below the loop marker is touched
// only by the Run goroutine.
type Orchestrator struct {
	cfg    model.Config
	clock  timer.Clock
	logger zerolog.Logger
	pub    *events.Publisher

	cmds    chan command
	done    chan struct{}
	started atomic.Bool
	current atomic.Pointer[model.Snapshot]

	// loop-owned
	timers  *timer.Registry
	stack   *interrupt.Stack
	queue   *queue.Queue
	ticker  *ticker.Rotation
	show    string
	version uint64
	txn     *mutation
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c timer.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an orchestrator with the configured ticker rotation seeded and
// an initial version-0 snapshot. Call Run to start processing commands.
func New(cfg model.Config, pub *events.Publisher, opts ...Option) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		clock:  timer.RealClock{},
		logger: zerolog.Nop(),
		pub:    pub,
		cmds:   make(chan command, commandBuffer),
		done:   make(chan struct{}),
		show:   cfg.Shows.Default,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()

	o.timers = timer.NewRegistry(o.clock, cfg.Timers.MaxTimers, o.onTimer)
	o.stack = interrupt.New(o.timers, cfg.Stack.MaxSize, cfg.Stack.KeepCount)
	o.queue = queue.New(cfg.WaitWindow(), o.evictFunc())
	o.ticker = ticker.New(cfg.TickerInterval())

	now := o.clock.Now()
	seeds, err := seedItems(cfg, now)
	if err != nil {
		return nil, fmt.Errorf("seed ticker: %w", err)
	}
	for _, item := range seeds {
		if err := o.ticker.Add(item, now); err != nil {
			return nil, fmt.Errorf("seed ticker: %w", err)
		}
	}

	o.current.Store(o.buildSnapshot(now))
	return o, nil
}

// Run applies commands until ctx is cancelled. The ticker rotation and the
// interrupt stack cleanup are driven by the orchestrator's clock on their
// configured intervals.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("orchestrator already running")
	}
	defer close(o.done)

	tick := o.clock.Every(o.ticker.Interval(), o.enqueue("ticker_advance", o.applyAdvance))
	defer tick.Stop()
	cleanup := o.clock.Every(o.cfg.CleanupInterval(), o.enqueue("cleanup", o.applyCleanup))
	defer cleanup.Stop()

	o.logger.Info().Str("show", o.show).Int("ticker_items", o.ticker.Len()).Msg("orchestrator running")

	for {
		select {
		case <-ctx.Done():
			o.timers.CancelAll()
			o.logger.Info().Uint64("version", o.version).Msg("orchestrator stopped")
			return nil
		case c := <-o.cmds:
			o.exec(c)
		}
	}
}

// Done is closed after Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) exec(c command) {
	now := o.clock.Now()
	m := &mutation{}
	err := o.apply(c, m, now)
	if errors.Is(err, ErrPanic) {
		m = o.recoverState(now)
	}
	// A rejected command leaves m unchanged unless it already had to make
	// room (an eviction), which is observable on its own.
	if m.changed {
		o.commit(m, now)
	}
	if c.reply != nil {
		c.reply <- err
	}
}

func (o *Orchestrator) apply(c command, m *mutation, now time.Time) (err error) {
	o.txn = m
	defer func() {
		o.txn = nil
		if r := recover(); r != nil {
			o.logger.Error().Str("command", c.name).Interface("panic", r).Msg("command panicked, resetting state")
			err = fmt.Errorf("%w: %s: %v", ErrPanic, c.name, r)
		}
	}()
	return c.apply(m, now)
}

// recoverState drops everything that cannot be trusted after a failed
// command: timers, the interrupt stack and the queue. The ticker rotation is
// kept and rewound.
func (o *Orchestrator) recoverState(now time.Time) *mutation {
	o.timers.CancelAll()
	o.stack.Reset()
	o.queue.Reset(now)
	o.ticker.Rewind()
	o.show = o.cfg.Shows.Default
	return &mutation{changed: true}
}

// call enqueues fn and waits for the loop to apply it.
func (o *Orchestrator) call(ctx context.Context, name string, fn applyFunc) error {
	c := command{name: name, apply: fn, reply: make(chan error, 1)}
	select {
	case o.cmds <- c:
	case <-o.done:
		return model.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-o.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return model.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue returns a clock callback that queues fn as a fire-and-forget
// command, so periodic work is ordered with everything else.
func (o *Orchestrator) enqueue(name string, fn applyFunc) func() {
	return func() {
		select {
		case o.cmds <- command{name: name, apply: fn}:
		case <-o.done:
		}
	}
}

// onTimer runs on the clock's goroutine. It only forwards the expiry; the
// loop decides whether it still counts.
func (o *Orchestrator) onTimer(t timer.Timer) {
	c := command{name: "expire", apply: func(m *mutation, now time.Time) error {
		return o.applyExpire(m, now, t)
	}}
	select {
	case o.cmds <- c:
	case <-o.done:
	}
}
