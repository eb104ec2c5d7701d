package series

import (
	"sync"
	"testing"
)

func TestStore_PushFrontOrdering(t *testing.T) {
	s := NewStore[int](5)
	s.PushFront("BTCUSD", 1)
	s.PushFront("BTCUSD", 2)
	s.PushFront("BTCUSD", 3)

	got := s.Snapshot("BTCUSD")
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	s := NewStore[int](2)
	s.PushFront("BTCUSD", 1)
	s.PushFront("BTCUSD", 2)
	s.PushFront("BTCUSD", 3)

	got := s.Snapshot("BTCUSD")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 3 || got[1] != 2 {
		t.Errorf("Snapshot = %v, want [3 2]", got)
	}
}

func TestStore_LengthNeverExceedsCapacity(t *testing.T) {
	const capacity = 7
	s := NewStore[int](capacity)
	for i := 0; i < 100; i++ {
		s.PushFront("ETHUSD", i)
		if n := s.Len("ETHUSD"); n > capacity {
			t.Fatalf("after %d inserts, len = %d exceeds capacity %d", i+1, n, capacity)
		}
	}
	if n := s.Len("ETHUSD"); n != capacity {
		t.Errorf("final len = %d, want %d", n, capacity)
	}
}

func TestStore_ReplaceTruncatesToCapacity(t *testing.T) {
	s := NewStore[int](3)
	s.Replace("BTCUSD", []int{9, 8, 7, 6, 5})

	got := s.Snapshot("BTCUSD")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0] != 9 || got[1] != 8 || got[2] != 7 {
		t.Errorf("Snapshot = %v, want [9 8 7]", got)
	}
}

func TestStore_FrontAndSetFront(t *testing.T) {
	s := NewStore[int](4)

	if _, ok := s.Front("BTCUSD"); ok {
		t.Error("Front on empty series should report not found")
	}
	s.SetFront("BTCUSD", 99) // no-op on empty

	s.PushFront("BTCUSD", 1)
	s.PushFront("BTCUSD", 2)
	s.SetFront("BTCUSD", 20)

	front, ok := s.Front("BTCUSD")
	if !ok || front != 20 {
		t.Errorf("Front = %d, %v, want 20, true", front, ok)
	}
	if got := s.Snapshot("BTCUSD"); len(got) != 2 || got[1] != 1 {
		t.Errorf("Snapshot = %v, want [20 1]", got)
	}
}

func TestStore_SymbolsAreIndependent(t *testing.T) {
	s := NewStore[int](2)
	s.PushFront("BTCUSD", 1)
	s.PushFront("ETHUSD", 2)

	if n := s.Len("BTCUSD"); n != 1 {
		t.Errorf("BTCUSD len = %d, want 1", n)
	}
	s.Drop("BTCUSD")
	if n := s.Len("BTCUSD"); n != 0 {
		t.Errorf("BTCUSD len after Drop = %d, want 0", n)
	}
	if n := s.Len("ETHUSD"); n != 1 {
		t.Errorf("ETHUSD len = %d, want 1", n)
	}
}

// A reader polling during Replace must see either the fully old or fully
// new series, never a mix.
func TestStore_ReplaceIsAtomicForReaders(t *testing.T) {
	s := NewStore[int](100)

	old := make([]int, 100)
	next := make([]int, 100)
	for i := range old {
		old[i] = 1
		next[i] = 2
	}
	s.Replace("BTCUSD", old)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := s.Snapshot("BTCUSD")
			if len(snap) == 0 {
				continue
			}
			first := snap[0]
			for _, v := range snap {
				if v != first {
					t.Errorf("observed mixed series: %v", snap)
					return
				}
			}
		}
	}()

	for i := 0; i < 500; i++ {
		s.Replace("BTCUSD", next)
		s.Replace("BTCUSD", old)
	}
	close(stop)
	wg.Wait()
}

func TestNewStore_PanicsOnInvalidCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewStore(0) should panic")
		}
	}()
	NewStore[int](0)
}
