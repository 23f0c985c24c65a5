// Package journal persists trading signals and connection lifecycle
// events to MySQL in buffered batches.
package journal

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"go_tickstream/feed/pkg/types"
)

// Entry kinds written to the events table.
const (
	KindSignal         = "signal"
	KindConnectionLost = "connection_lost"
)

// entry is one buffered row.
type entry struct {
	Kind   string
	Symbol string
	Action string
	Price  float64
	At     time.Time
}

// Writer buffers entries in memory and flushes them on an interval so
// a burst of signals costs one round trip, not one insert each.
type Writer struct {
	db            *sql.DB
	flushInterval time.Duration
	logger        *zap.Logger

	mu     sync.Mutex
	buffer []entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a writer and starts its flush loop.
func NewWriter(db *sql.DB, flushInterval time.Duration, logger *zap.Logger) *Writer {
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		db:            db,
		flushInterval: flushInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go w.flushLoop()
	return w
}

// Close flushes outstanding entries and stops the loop.
func (w *Writer) Close() {
	w.cancel()
	<-w.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.flush(ctx); err != nil {
		w.logger.Warn("final journal flush failed", zap.Error(err))
	}
}

// RecordSignal buffers a trading signal.
func (w *Writer) RecordSignal(sig types.Signal) {
	w.append(entry{
		Kind:   KindSignal,
		Symbol: sig.Symbol,
		Action: string(sig.Action),
		Price:  sig.Price,
		At:     sig.At,
	})
}

// RecordConnectionLost buffers a terminal reconnect failure.
func (w *Writer) RecordConnectionLost() {
	w.append(entry{
		Kind: KindConnectionLost,
		At:   time.Now(),
	})
}

func (w *Writer) append(e entry) {
	w.mu.Lock()
	w.buffer = append(w.buffer, e)
	w.mu.Unlock()
}

func (w *Writer) flushLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := w.flush(ctx); err != nil {
				w.logger.Warn("journal flush failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (w *Writer) flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.requeue(batch)
		return errors.Wrap(err, "begin journal tx")
	}

	const q = `INSERT INTO feed_events (kind, symbol, action, price, occurred_at)
	           VALUES (?, ?, ?, ?, ?)`
	for _, e := range batch {
		if _, err := tx.ExecContext(ctx, q, e.Kind, e.Symbol, e.Action, e.Price, e.At); err != nil {
			tx.Rollback()
			w.requeue(batch)
			return errors.Wrap(err, "insert journal entry")
		}
	}

	if err := tx.Commit(); err != nil {
		w.requeue(batch)
		return errors.Wrap(err, "commit journal tx")
	}
	return nil
}

// requeue puts a failed batch back at the head of the buffer.
func (w *Writer) requeue(batch []entry) {
	w.mu.Lock()
	w.buffer = append(batch, w.buffer...)
	w.mu.Unlock()
}
