// Package memstore is an in-memory store.Store, used in unit tests; the
// registrar command always wires mongostore. It mirrors the shape of
// mongostore without any network I/O, so registration-service tests can run
// without a database.
package memstore

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/domain"
	"github.com/campusreg/registrar/internal/store"
)

// Store is a goroutine-safe in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	students    map[string]domain.Student
	courses     map[primitive.ObjectID]domain.Course
	codeToID    map[string]primitive.ObjectID
	seatConfigs map[primitive.ObjectID]domain.SeatConfig
	bookings    map[primitive.ObjectID][]domain.SeatBooking // by course
	waitlist    map[primitive.ObjectID][]domain.WaitlistEntry
	prefs       map[string][]domain.CoursePreference
	events      []domain.RegistrationEvent
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		students:    make(map[string]domain.Student),
		courses:     make(map[primitive.ObjectID]domain.Course),
		codeToID:    make(map[string]primitive.ObjectID),
		seatConfigs: make(map[primitive.ObjectID]domain.SeatConfig),
		bookings:    make(map[primitive.ObjectID][]domain.SeatBooking),
		waitlist:    make(map[primitive.ObjectID][]domain.WaitlistEntry),
		prefs:       make(map[string][]domain.CoursePreference),
	}
}

// SeedStudent inserts or replaces a student record, for test setup.
func (s *Store) SeedStudent(st domain.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.StudentID] = st
}

// SeedCourse inserts or replaces a course and its seat configuration, for
// test setup.
func (s *Store) SeedCourse(c domain.Course, cfg domain.SeatConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[c.ID] = c
	s.codeToID[c.Code] = c.ID
	s.seatConfigs[c.ID] = cfg
}

func (s *Store) GetStudent(_ context.Context, studentID string) (domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[studentID]
	if !ok {
		return domain.Student{}, store.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetCourse(_ context.Context, idOrCode string) (domain.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, err := primitive.ObjectIDFromHex(idOrCode); err == nil {
		if c, ok := s.courses[id]; ok {
			return c, nil
		}
	}
	if id, ok := s.codeToID[idOrCode]; ok {
		return s.courses[id], nil
	}
	return domain.Course{}, store.ErrNotFound
}

func (s *Store) ListCourses(_ context.Context) ([]domain.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) GetSeatConfig(_ context.Context, courseID primitive.ObjectID) (domain.SeatConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.seatConfigs[courseID]
	if !ok {
		return domain.SeatConfig{}, store.ErrNotFound
	}
	return cfg, nil
}

func (s *Store) ListActiveBookings(_ context.Context, courseID primitive.ObjectID) ([]domain.SeatBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SeatBooking
	for _, b := range s.bookings[courseID] {
		if b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListWaitlistEntries(_ context.Context, courseID primitive.ObjectID) ([]domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WaitlistEntry, len(s.waitlist[courseID]))
	copy(out, s.waitlist[courseID])
	return out, nil
}

func (s *Store) ListStudentBookings(_ context.Context, studentID string) ([]domain.SeatBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SeatBooking
	for _, list := range s.bookings {
		for _, b := range list {
			if b.StudentID == studentID && b.Active {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (s *Store) ListStudentWaitlistEntries(_ context.Context, studentID string) ([]domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WaitlistEntry
	for _, list := range s.waitlist {
		for _, e := range list {
			if e.StudentID == studentID && !e.Status.IsTerminal() {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *Store) GetPreferences(_ context.Context, studentID string) ([]domain.CoursePreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CoursePreference, len(s.prefs[studentID]))
	copy(out, s.prefs[studentID])
	return out, nil
}

func (s *Store) ReplacePreferences(_ context.Context, studentID string, prefs []domain.CoursePreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[studentID] = append([]domain.CoursePreference(nil), prefs...)
	return nil
}

// Commit applies tx as a whole under the store's single mutex, which is
// sufficient atomicity for an in-memory implementation serving tests.
func (s *Store) Commit(_ context.Context, courseID primitive.ObjectID, tx store.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.SeatConfig != nil {
		s.seatConfigs[courseID] = *tx.SeatConfig
	}

	for _, b := range tx.UpsertBookings {
		list := s.bookings[courseID]
		replaced := false
		for i, existing := range list {
			if existing.ID == b.ID {
				list[i] = b
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, b)
		}
		s.bookings[courseID] = list
	}

	for _, e := range tx.UpsertWaitlist {
		list := s.waitlist[courseID]
		replaced := false
		for i, existing := range list {
			if existing.ID == e.ID {
				list[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, e)
		}
		s.waitlist[courseID] = list
	}

	for _, id := range tx.DeleteWaitlistIDs {
		list := s.waitlist[courseID]
		for i, existing := range list {
			if existing.ID == id {
				s.waitlist[courseID] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}

	s.events = append(s.events, tx.Events...)
	return nil
}

// Events returns every committed audit record, for test assertions.
func (s *Store) Events() []domain.RegistrationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RegistrationEvent, len(s.events))
	copy(out, s.events)
	return out
}
