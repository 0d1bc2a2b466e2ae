// Package waitlist implements the per-course ordered waitlist described in
// spec §4.2: a deterministic priority queue keyed by composite score with
// stable tie-breakers, supporting insert/remove/topK/rankOf/popTop.
//
// Each course's entries live in a slice kept sorted by the total order
// (compositeScore DESC, appliedAt ASC, studentId ASC); mutation is
// serialized by the caller's per-course lock (internal/registration owns
// that), so this package itself only guards its own course->slice map.
package waitlist

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/domain"
)

var (
	// ErrDuplicate is returned by Insert when the student already has a
	// non-terminal entry for the course.
	ErrDuplicate = errors.New("waitlist: student already present")
	// ErrEmpty is returned by PopTop when the course's waitlist has no entries.
	ErrEmpty = errors.New("waitlist: empty")
	// ErrNotPresent is returned by RankOf when the student has no entry.
	ErrNotPresent = errors.New("waitlist: not present")
)

// less implements the total order: compositeScore DESC, appliedAt ASC,
// studentId ASC.
func less(a, b domain.WaitlistEntry) bool {
	if a.CompositeScore != b.CompositeScore {
		return a.CompositeScore > b.CompositeScore
	}
	if !a.AppliedAt.Equal(b.AppliedAt) {
		return a.AppliedAt.Before(b.AppliedAt)
	}
	return a.StudentID < b.StudentID
}

// Store holds one ordered waitlist per course.
type Store struct {
	mu      sync.RWMutex
	courses map[primitive.ObjectID][]domain.WaitlistEntry
}

// NewStore builds an empty waitlist store.
func NewStore() *Store {
	return &Store{courses: make(map[primitive.ObjectID][]domain.WaitlistEntry)}
}

// Insert adds entry to courseId's waitlist, failing with ErrDuplicate if
// the student already holds a non-terminal entry there.
func (s *Store) Insert(courseID primitive.ObjectID, entry domain.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.courses[courseID]
	for _, e := range list {
		if e.StudentID == entry.StudentID && !e.Status.IsTerminal() {
			return ErrDuplicate
		}
	}
	idx := sort.Search(len(list), func(i int) bool { return less(entry, list[i]) })
	list = append(list, domain.WaitlistEntry{})
	copy(list[idx+1:], list[idx:])
	list[idx] = entry
	s.courses[courseID] = list
	return nil
}

// Remove deletes studentId's entry from courseId's waitlist. Idempotent:
// returns false (no error) if the student was not present.
func (s *Store) Remove(courseID primitive.ObjectID, studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.courses[courseID]
	for i, e := range list {
		if e.StudentID == studentID {
			s.courses[courseID] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// TopK returns up to k highest-ranked entries for courseId, in order.
func (s *Store) TopK(courseID primitive.ObjectID, k int) []domain.WaitlistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.courses[courseID]
	if k > len(list) {
		k = len(list)
	}
	out := make([]domain.WaitlistEntry, k)
	copy(out, list[:k])
	return out
}

// RankOf returns studentId's 1-based position in courseId's waitlist, or
// ErrNotPresent.
func (s *Store) RankOf(courseID primitive.ObjectID, studentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, e := range s.courses[courseID] {
		if e.StudentID == studentID {
			return i + 1, nil
		}
	}
	return 0, ErrNotPresent
}

// PopTop atomically removes and returns the highest-ranked entry for
// courseId, or ErrEmpty.
func (s *Store) PopTop(courseID primitive.ObjectID) (domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.courses[courseID]
	if len(list) == 0 {
		return domain.WaitlistEntry{}, ErrEmpty
	}
	top := list[0]
	s.courses[courseID] = list[1:]
	return top, nil
}

// Size returns the number of entries currently waitlisted for courseId.
func (s *Store) Size(courseID primitive.ObjectID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.courses[courseID])
}

// Snapshot returns a full ordered copy of courseId's waitlist, for batch
// allocation. This is O(n) in the waitlist's length, as are Insert, Remove
// and RankOf, which scan or shift the sorted slice.
func (s *Store) Snapshot(courseID primitive.ObjectID) []domain.WaitlistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.courses[courseID]
	out := make([]domain.WaitlistEntry, len(list))
	copy(out, list)
	return out
}

// NewEntry is a small constructor convenience used by the registration
// service, stamping AppliedAt and Status consistently.
func NewEntry(courseID primitive.ObjectID, studentID string, scores domain.FactorScores, composite float64, appliedAt time.Time, preferredSeat string) domain.WaitlistEntry {
	return domain.WaitlistEntry{
		ID:             primitive.NewObjectID(),
		CourseID:       courseID,
		StudentID:      studentID,
		Scores:         scores,
		CompositeScore: composite,
		Status:         domain.WaitlistWaiting,
		AppliedAt:      appliedAt,
		PreferredSeat:  preferredSeat,
	}
}
