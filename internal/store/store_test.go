package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/avcs-dna/sentinel/pkg/types"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rec(assetID string, n int) *types.RiskRecord {
	return &types.RiskRecord{
		AssetID: assetID,
		Index:   float64(n),
		At:      baseTime.Add(time.Duration(n) * time.Minute),
	}
}

func TestAppendAndLatest(t *testing.T) {
	s := New(10)
	s.Append(rec("pump-1", 0))
	s.Append(rec("pump-1", 1))

	got, ok := s.Latest("pump-1")
	if !ok {
		t.Fatal("Latest: expected record, got none")
	}
	if got.Index != 1 {
		t.Errorf("Latest index: got %f, want 1", got.Index)
	}
}

func TestLatest_Missing(t *testing.T) {
	s := New(10)
	if _, ok := s.Latest("ghost"); ok {
		t.Fatal("Latest on empty store: expected false")
	}
}

func TestHistory_AscendingOrder(t *testing.T) {
	s := New(10)
	for n := 0; n < 5; n++ {
		s.Append(rec("pump-1", n))
	}

	h := s.History("pump-1", 0)
	if len(h) != 5 {
		t.Fatalf("History length: got %d, want 5", len(h))
	}
	for i := 1; i < len(h); i++ {
		if !h[i-1].At.Before(h[i].At) {
			t.Fatalf("order violated at %d: %v !< %v", i, h[i-1].At, h[i].At)
		}
	}
}

func TestHistory_Limit(t *testing.T) {
	s := New(10)
	for n := 0; n < 6; n++ {
		s.Append(rec("pump-1", n))
	}

	h := s.History("pump-1", 2)
	if len(h) != 2 {
		t.Fatalf("History length: got %d, want 2", len(h))
	}
	if h[0].Index != 4 || h[1].Index != 5 {
		t.Errorf("limit must keep the most recent records, got %f %f", h[0].Index, h[1].Index)
	}
}

func TestAppend_EvictsOldest(t *testing.T) {
	s := New(3)
	for n := 0; n < 5; n++ {
		s.Append(rec("pump-1", n))
	}

	if c := s.Count("pump-1"); c != 3 {
		t.Fatalf("Count: got %d, want 3", c)
	}
	h := s.History("pump-1", 0)
	if h[0].Index != 2 {
		t.Errorf("oldest surviving record: got %f, want 2", h[0].Index)
	}
}

func TestSetRetention_Trims(t *testing.T) {
	s := New(10)
	for n := 0; n < 8; n++ {
		s.Append(rec("pump-1", n))
	}
	s.SetRetention(4)

	if c := s.Count("pump-1"); c != 4 {
		t.Fatalf("Count after trim: got %d, want 4", c)
	}
	h := s.History("pump-1", 0)
	if h[0].Index != 4 {
		t.Errorf("oldest after trim: got %f, want 4", h[0].Index)
	}
}

func TestDrop(t *testing.T) {
	s := New(10)
	s.Append(rec("pump-1", 0))
	s.Append(rec("pump-2", 0))

	s.Drop("pump-1")
	if _, ok := s.Latest("pump-1"); ok {
		t.Fatal("dropped asset still has records")
	}
	if _, ok := s.Latest("pump-2"); !ok {
		t.Fatal("unrelated asset lost records")
	}
}

func TestHistory_IsolatedCopy(t *testing.T) {
	s := New(10)
	s.Append(rec("pump-1", 0))

	h := s.History("pump-1", 0)
	h[0] = rec("pump-1", 99)

	got, _ := s.Latest("pump-1")
	if got.Index != 0 {
		t.Errorf("mutating the returned slice leaked into the store")
	}
}

func TestAppend_ConcurrentAssets(t *testing.T) {
	s := New(100)
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("pump-%d", i)
			for n := 0; n < 50; n++ {
				s.Append(rec(id, n))
				s.History(id, 10)
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	for i := 0; i < 4; i++ {
		if c := s.Count(fmt.Sprintf("pump-%d", i)); c != 50 {
			t.Errorf("pump-%d: got %d records, want 50", i, c)
		}
	}
}
