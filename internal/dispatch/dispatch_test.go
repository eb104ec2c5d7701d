package dispatch

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"marketsync/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) record(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recorder) waitFor(t *testing.T, n int) []Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d updates, have %d", n, len(r.snapshot()))
	return nil
}

func TestBurstCoalescesToLatest(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	rec := &recorder{}
	d.SubscribeThrottled(models.KindTicker, 50*time.Millisecond, rec.record)

	// Many rapid writes inside one interval.
	for i := 1; i <= 100; i++ {
		d.Publish(models.KindTicker, "BTCUSD", i)
	}

	got := rec.waitFor(t, 1)
	if len(got) != 1 {
		// A tick boundary may split the burst in two at most.
		if len(got) > 2 {
			t.Fatalf("burst produced %d updates, want 1 or 2", len(got))
		}
	}
	last := got[len(got)-1]
	if last.Value.(int) != 100 {
		t.Errorf("delivered value = %v, want latest (100)", last.Value)
	}
	if last.Symbol != "BTCUSD" || last.Kind != models.KindTicker {
		t.Errorf("delivered %s/%s, want ticker/BTCUSD", last.Kind, last.Symbol)
	}
}

func TestSymbolsCoalesceIndependently(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	rec := &recorder{}
	d.SubscribeThrottled(models.KindTrade, 30*time.Millisecond, rec.record)

	d.Publish(models.KindTrade, "BTCUSD", 1)
	d.Publish(models.KindTrade, "ETHUSD", 2)

	got := rec.waitFor(t, 2)
	seen := map[string]bool{}
	for _, u := range got {
		seen[u.Symbol] = true
	}
	if !seen["BTCUSD"] || !seen["ETHUSD"] {
		t.Errorf("symbols delivered = %v, want both BTCUSD and ETHUSD", seen)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	trades := &recorder{}
	tickers := &recorder{}
	d.SubscribeThrottled(models.KindTrade, 20*time.Millisecond, trades.record)
	d.SubscribeThrottled(models.KindTicker, 20*time.Millisecond, tickers.record)

	d.Publish(models.KindTrade, "BTCUSD", "t")

	trades.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	if got := tickers.snapshot(); len(got) != 0 {
		t.Errorf("ticker subscriber got %d updates for trade publish", len(got))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	rec := &recorder{}
	id := d.SubscribeThrottled(models.KindTrade, 10*time.Millisecond, rec.record)

	d.Publish(models.KindTrade, "BTCUSD", 1)
	rec.waitFor(t, 1)

	d.Unsubscribe(id)
	before := len(rec.snapshot())

	d.Publish(models.KindTrade, "BTCUSD", 2)
	time.Sleep(50 * time.Millisecond)

	if after := len(rec.snapshot()); after != before {
		t.Errorf("updates after Unsubscribe: %d -> %d", before, after)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	block := make(chan struct{})
	d.SubscribeThrottled(models.KindTrade, 10*time.Millisecond, func(Update) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.Publish(models.KindTrade, "BTCUSD", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked behind a stuck consumer")
	}
	close(block)
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	ids := make([]string, 64)
	for i := range ids {
		ids[i] = d.SubscribeThrottled(models.KindTrade, 10*time.Millisecond, func(Update) {})
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			d.Publish(models.KindTrade, "BTCUSD", i)
		}
		close(done)
	}()

	// Tears subscribers down while the publisher is mid-flight. The race
	// detector flags any in-place mutation of a slice Publish is walking.
	for _, id := range ids {
		d.Unsubscribe(id)
	}
	<-done
}

func TestSubscriberHandlesAreUnique(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	ids := map[string]bool{}
	for i := 0; i < 10; i++ {
		id := d.SubscribeThrottled(models.KindTrade, time.Second, func(Update) {})
		if ids[id] {
			t.Fatalf("duplicate subscriber id %s", id)
		}
		ids[id] = true
	}
}
