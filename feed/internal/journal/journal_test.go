package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"go_tickstream/feed/pkg/types"
)

// unreachableDB returns a handle whose connections always fail fast.
func unreachableDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", "test:test@tcp(127.0.0.1:1)/test?timeout=50ms")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriter_BuffersEntries(t *testing.T) {
	w := NewWriter(unreachableDB(t), time.Hour, nil)
	defer w.cancel()

	w.RecordSignal(types.Signal{Symbol: "AAPL", Action: types.SignalBuy, Price: 191.25, At: time.Now()})
	w.RecordConnectionLost()

	w.mu.Lock()
	n := len(w.buffer)
	kind := w.buffer[0].Kind
	w.mu.Unlock()

	if n != 2 {
		t.Fatalf("buffered %d entries, want 2", n)
	}
	if kind != KindSignal {
		t.Errorf("first entry kind = %q, want %q", kind, KindSignal)
	}
}

func TestWriter_RequeuesFailedBatch(t *testing.T) {
	w := NewWriter(unreachableDB(t), time.Hour, nil)
	defer w.cancel()

	w.RecordSignal(types.Signal{Symbol: "AAPL", Action: types.SignalSell, Price: 190, At: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.flush(ctx); err == nil {
		t.Fatal("expected flush to fail against unreachable database")
	}

	// The failed batch must survive for the next flush.
	w.mu.Lock()
	n := len(w.buffer)
	w.mu.Unlock()
	if n != 1 {
		t.Errorf("buffer holds %d entries after failed flush, want 1", n)
	}
}

func TestWriter_FlushEmptyIsNoop(t *testing.T) {
	w := NewWriter(unreachableDB(t), time.Hour, nil)
	defer w.cancel()

	if err := w.flush(context.Background()); err != nil {
		t.Errorf("flush of empty buffer returned %v, want nil", err)
	}
}
