// Package signal derives trading signals from the normalized tick
// stream using a fast/slow moving-average crossover per symbol.
package signal

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"go_tickstream/feed/pkg/types"
)

// Config holds signal engine settings.
type Config struct {
	FastWindow int
	SlowWindow int
	PoolSize   int
}

// DefaultConfig returns engine settings suitable for production.
func DefaultConfig() Config {
	return Config{
		FastWindow: 9,
		SlowWindow: 21,
		PoolSize:   32,
	}
}

// Engine evaluates each tick against per-symbol moving averages and
// emits a signal when the fast average crosses the slow one.
// Evaluation runs inline on the caller so each symbol's price series
// keeps its arrival order; only signal delivery goes through the
// worker pool, so a slow signal consumer cannot stall tick delivery.
type Engine struct {
	cfg      Config
	pool     *ants.Pool
	logger   *zap.Logger
	onSignal func(types.Signal)

	mu    sync.Mutex
	books map[string]*book
}

// book is the rolling per-symbol state.
type book struct {
	mu       sync.Mutex
	prices   []float64
	lastDiff float64
	primed   bool
}

// NewEngine creates an engine. onSignal may be nil.
func NewEngine(cfg Config, logger *zap.Logger, onSignal func(types.Signal)) (*Engine, error) {
	if cfg.FastWindow <= 0 || cfg.SlowWindow <= cfg.FastWindow {
		return nil, errors.New("signal: slow window must exceed fast window")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "signal: create worker pool")
	}

	return &Engine{
		cfg:      cfg,
		pool:     pool,
		logger:   logger,
		onSignal: onSignal,
		books:    make(map[string]*book),
	}, nil
}

// Close releases the worker pool.
func (e *Engine) Close() {
	e.pool.Release()
}

// Consume records one tick and, when it completes a crossover, hands
// the resulting signal to the worker pool for delivery. Never blocks;
// if the pool is saturated the signal is skipped, never the tick.
func (e *Engine) Consume(tick types.Tick) {
	sig, ok := e.evaluate(tick)
	if !ok {
		return
	}

	e.logger.Info("signal",
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("price", sig.Price))

	if e.onSignal == nil {
		return
	}
	if err := e.pool.Submit(func() { e.onSignal(sig) }); err != nil {
		e.logger.Debug("signal delivery skipped", zap.Error(err))
	}
}

func (e *Engine) evaluate(tick types.Tick) (types.Signal, bool) {
	b := e.bookFor(tick.Symbol)

	b.mu.Lock()
	b.prices = append(b.prices, tick.Price)
	if len(b.prices) > e.cfg.SlowWindow {
		b.prices = b.prices[len(b.prices)-e.cfg.SlowWindow:]
	}
	if len(b.prices) < e.cfg.SlowWindow {
		b.mu.Unlock()
		return types.Signal{}, false
	}

	fast := mean(b.prices[len(b.prices)-e.cfg.FastWindow:])
	slow := mean(b.prices)
	diff := fast - slow

	crossedUp := b.primed && b.lastDiff <= 0 && diff > 0
	crossedDown := b.primed && b.lastDiff >= 0 && diff < 0
	b.lastDiff = diff
	b.primed = true
	b.mu.Unlock()

	var action types.SignalAction
	switch {
	case crossedUp:
		action = types.SignalBuy
	case crossedDown:
		action = types.SignalSell
	default:
		return types.Signal{}, false
	}

	return types.Signal{
		Symbol: tick.Symbol,
		Action: action,
		Price:  tick.Price,
		At:     tick.Time(),
	}, true
}

func (e *Engine) bookFor(symbol string) *book {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[symbol]
	if !ok {
		b = &book{}
		e.books[symbol] = b
	}
	return b
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
