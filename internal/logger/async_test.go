package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestAsyncHandler_BasicWrite(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 100, 1)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	if err := ah.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestAsyncHandler_DropsWhenFull(t *testing.T) {
	inner := &recordingHandler{delay: 50 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 20 {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "burst", 0)
		_ = ah.Handle(context.Background(), rec)
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Error("expected some records dropped under a full buffer")
	}
}

// attrHandler records which attrs it was derived with.
type attrHandler struct {
	*recordingHandler
	attrs []slog.Attr
}

func (h *attrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attrHandler{recordingHandler: h.recordingHandler, attrs: append(h.attrs, attrs...)}
}

func TestAsyncHandler_DerivedHandlerKeepsAttrs(t *testing.T) {
	inner := &attrHandler{recordingHandler: &recordingHandler{}}
	ah := NewAsyncHandler(inner, 10, 1)

	derived := ah.WithAttrs([]slog.Attr{slog.String("consultation_id", "c-1")})

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "derived", 0)
	_ = derived.Handle(context.Background(), rec)
	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
	// The derived handler's inner must carry the attrs; the root's must not.
	d, ok := derived.(*AsyncHandler)
	if !ok {
		t.Fatalf("expected *AsyncHandler, got %T", derived)
	}
	di, ok := d.inner.(*attrHandler)
	if !ok || len(di.attrs) != 1 || di.attrs[0].Key != "consultation_id" {
		t.Fatalf("derived inner lost attrs: %+v", d.inner)
	}
}

func TestAsyncHandler_ConcurrentWrites(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 100
	total := goroutines * perGoroutine

	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10000, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				rec := slog.NewRecord(time.Now(), slog.LevelInfo, "concurrent", 0)
				_ = ah.Handle(context.Background(), rec)
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records, got %d", total, got)
	}
}
