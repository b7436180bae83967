package store

import (
	"slices"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func TestStore_SaveAndRecent(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	want := []Call{
		{ID: "a", StartedAt: base, Lines: []string{"First call."}},
		{ID: "b", StartedAt: base.Add(time.Minute), Lines: []string{"Second call.", "Two lines."}},
		{ID: "c", StartedAt: base.Add(2 * time.Minute), Lines: []string{"Third call."}},
	}
	for _, c := range want {
		if err := s.SaveCall(c.ID, c.StartedAt, c.Lines); err != nil {
			t.Fatalf("SaveCall(%q) error = %v", c.ID, err)
		}
	}

	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Recent() returned %d calls, want %d", len(got), len(want))
	}
	// Newest first.
	for i, c := range got {
		w := want[len(want)-1-i]
		if c.ID != w.ID || !c.StartedAt.Equal(w.StartedAt) || !slices.Equal(c.Lines, w.Lines) {
			t.Errorf("Recent()[%d] = %+v, want %+v", i, c, w)
		}
	}
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := s.SaveCall(id, base.Add(time.Duration(i)*time.Minute), []string{"hi."}); err != nil {
			t.Fatalf("SaveCall(%q) error = %v", id, err)
		}
	}

	got, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent(2) error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d calls, want 2", len(got))
	}
	if got[0].ID != "d" || got[1].ID != "c" {
		t.Errorf("Recent(2) ids = %s, %s, want d, c", got[0].ID, got[1].ID)
	}
}

func TestStore_RecentEmpty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent() on empty store = %v, want none", got)
	}
}

func TestStore_OpenRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("Open() without Dir error = nil, want error")
	}
}
