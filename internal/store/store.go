// Package store defines the persistent-record interface the registration
// core consumes (spec §6). The core makes no assumptions about storage
// beyond the entities of §3, their uniqueness constraints, and a
// transactional Commit keyed by a single course. Two implementations are
// provided: memstore (in-memory, used in tests) and mongostore (backed by go.mongodb.org/mongo-driver, grounded on the
// teacher's repository pattern).
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/campusreg/registrar/internal/domain"
)

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("store: not found")

// Transaction batches the writes produced by a single course-lock critical
// section. The store must apply all of it atomically with respect to
// readers: either all writes are visible or none are.
type Transaction struct {
	SeatConfig        *domain.SeatConfig
	UpsertBookings    []domain.SeatBooking
	UpsertWaitlist    []domain.WaitlistEntry
	DeleteWaitlistIDs []primitive.ObjectID
	Events            []domain.RegistrationEvent
}

// IsEmpty reports whether the transaction has nothing to commit.
func (t Transaction) IsEmpty() bool {
	return t.SeatConfig == nil &&
		len(t.UpsertBookings) == 0 &&
		len(t.UpsertWaitlist) == 0 &&
		len(t.DeleteWaitlistIDs) == 0 &&
		len(t.Events) == 0
}

// Store is the persistence boundary the registration service depends on.
type Store interface {
	// GetStudent resolves a student by its stable identifier.
	GetStudent(ctx context.Context, studentID string) (domain.Student, error)

	// GetCourse resolves a course by opaque ID hex or human code (e.g. "CS101").
	GetCourse(ctx context.Context, idOrCode string) (domain.Course, error)

	// ListCourses returns every course, for the course listing endpoint.
	ListCourses(ctx context.Context) ([]domain.Course, error)

	// GetSeatConfig returns the seat configuration for a course.
	GetSeatConfig(ctx context.Context, courseID primitive.ObjectID) (domain.SeatConfig, error)

	// ListActiveBookings returns every active SeatBooking for a course.
	ListActiveBookings(ctx context.Context, courseID primitive.ObjectID) ([]domain.SeatBooking, error)

	// ListWaitlistEntries returns every stored WaitlistEntry for a course,
	// whatever its status; callers filter out terminal entries themselves.
	ListWaitlistEntries(ctx context.Context, courseID primitive.ObjectID) ([]domain.WaitlistEntry, error)

	// ListStudentBookings returns a student's active bookings across all courses.
	ListStudentBookings(ctx context.Context, studentID string) ([]domain.SeatBooking, error)

	// ListStudentWaitlistEntries returns a student's non-terminal waitlist entries.
	ListStudentWaitlistEntries(ctx context.Context, studentID string) ([]domain.WaitlistEntry, error)

	// GetPreferences returns a student's course preferences. The order of
	// the returned list is not defined; callers sort by Priority if needed.
	GetPreferences(ctx context.Context, studentID string) ([]domain.CoursePreference, error)

	// ReplacePreferences overwrites a student's full preference list.
	ReplacePreferences(ctx context.Context, studentID string, prefs []domain.CoursePreference) error

	// Commit atomically applies tx, which must be scoped to a single course.
	Commit(ctx context.Context, courseID primitive.ObjectID, tx Transaction) error
}
