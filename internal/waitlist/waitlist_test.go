package waitlist

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/domain"
)

func TestInsertOrdersByCompositeDescending(t *testing.T) {
	s := NewStore()
	course := primitive.NewObjectID()
	now := time.Now()

	_ = s.Insert(course, NewEntry(course, "low", domain.FactorScores{}, 0.2, now, ""))
	_ = s.Insert(course, NewEntry(course, "high", domain.FactorScores{}, 0.9, now, ""))
	_ = s.Insert(course, NewEntry(course, "mid", domain.FactorScores{}, 0.5, now, ""))

	top := s.TopK(course, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	want := []string{"high", "mid", "low"}
	for i, w := range want {
		if top[i].StudentID != w {
			t.Fatalf("position %d = %s, want %s", i, top[i].StudentID, w)
		}
	}
}

func TestInsertTieBreaksByAppliedAtThenStudentID(t *testing.T) {
	s := NewStore()
	course := primitive.NewObjectID()
	t0 := time.Now()
	t1 := t0.Add(time.Minute)

	_ = s.Insert(course, NewEntry(course, "zed", domain.FactorScores{}, 0.5, t0, ""))
	_ = s.Insert(course, NewEntry(course, "abe", domain.FactorScores{}, 0.5, t0, ""))
	_ = s.Insert(course, NewEntry(course, "early", domain.FactorScores{}, 0.5, t1, ""))

	top := s.TopK(course, 3)
	want := []string{"abe", "zed", "early"}
	for i, w := range want {
		if top[i].StudentID != w {
			t.Fatalf("position %d = %s, want %s", i, top[i].StudentID, w)
		}
	}
}

func TestInsertRejectsDuplicateActiveEntry(t *testing.T) {
	s := NewStore()
	course := primitive.NewObjectID()
	now := time.Now()

	if err := s.Insert(course, NewEntry(course, "a", domain.FactorScores{}, 0.5, now, "")); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(course, NewEntry(course, "a", domain.FactorScores{}, 0.8, now, "")); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRemoveAndRankOf(t *testing.T) {
	s := NewStore()
	course := primitive.NewObjectID()
	now := time.Now()

	_ = s.Insert(course, NewEntry(course, "a", domain.FactorScores{}, 0.9, now, ""))
	_ = s.Insert(course, NewEntry(course, "b", domain.FactorScores{}, 0.5, now, ""))

	rank, err := s.RankOf(course, "b")
	if err != nil || rank != 2 {
		t.Fatalf("rank of b = %d, %v; want 2, nil", rank, err)
	}

	if !s.Remove(course, "a") {
		t.Fatal("expected Remove to report true")
	}
	if s.Remove(course, "a") {
		t.Fatal("expected second Remove to report false")
	}

	rank, err = s.RankOf(course, "b")
	if err != nil || rank != 1 {
		t.Fatalf("rank of b after removal = %d, %v; want 1, nil", rank, err)
	}

	if _, err := s.RankOf(course, "ghost"); err != ErrNotPresent {
		t.Fatalf("expected ErrNotPresent, got %v", err)
	}
}

func TestPopTopReturnsHighestAndDrainsToEmpty(t *testing.T) {
	s := NewStore()
	course := primitive.NewObjectID()
	now := time.Now()

	_ = s.Insert(course, NewEntry(course, "a", domain.FactorScores{}, 0.3, now, ""))
	_ = s.Insert(course, NewEntry(course, "b", domain.FactorScores{}, 0.9, now, ""))

	top, err := s.PopTop(course)
	if err != nil || top.StudentID != "b" {
		t.Fatalf("PopTop = %+v, %v; want student b", top, err)
	}
	if s.Size(course) != 1 {
		t.Fatalf("size after pop = %d, want 1", s.Size(course))
	}

	if _, err := s.PopTop(course); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PopTop(course); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	course := primitive.NewObjectID()
	now := time.Now()
	_ = s.Insert(course, NewEntry(course, "a", domain.FactorScores{}, 0.5, now, ""))

	snap := s.Snapshot(course)
	snap[0].StudentID = "mutated"

	top := s.TopK(course, 1)
	if top[0].StudentID != "a" {
		t.Fatalf("mutating snapshot leaked into store: %s", top[0].StudentID)
	}
}
